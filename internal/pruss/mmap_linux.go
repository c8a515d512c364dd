//go:build linux

package pruss

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapDataRAM(f *os.File, off int64, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), off, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func unmapDataRAM(mem []byte) error {
	return unix.Munmap(mem)
}
