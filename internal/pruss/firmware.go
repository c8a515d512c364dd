package pruss

import (
	"os"
	"path/filepath"
)

// Firmware image names produced by the PRU assembly build.
const (
	MasterFirmware = "pru-spi-master.bin"
	SlaveFirmware  = "pru-spi-slave.bin"
)

// Well-known install prefixes, in search order. Carried over from the
// device setup instructions that ship with the firmware.
var firmwareSearchPaths = []string{
	"/root/spi-duplex",
	"/opt/pru-firmware",
	"/lib/firmware/pru-spi",
	"/usr/local/bin/spi-duplex",
}

// LocateFirmware returns the first well-known directory containing both
// firmware images.
func LocateFirmware() (string, bool) {
	return locateFirmwareIn(firmwareSearchPaths)
}

func locateFirmwareIn(dirs []string) (string, bool) {
	for _, dir := range dirs {
		if fileExists(filepath.Join(dir, MasterFirmware)) &&
			fileExists(filepath.Join(dir, SlaveFirmware)) {
			return dir, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
