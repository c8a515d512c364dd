//go:build !linux

package pruss

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("pruss: PRU data RAM mapping requires linux")

func mapDataRAM(_ *os.File, _ int64, _ int) ([]byte, error) {
	return nil, errUnsupported
}

func unmapDataRAM(_ []byte) error {
	return nil
}
