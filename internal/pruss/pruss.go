// Package pruss binds the PRU-ICSS subsystem on the AM335x. It loads and
// halts per-core firmware through the remoteproc sysfs interface and maps
// each core's data RAM into the process through /dev/mem, handing out
// revocable pru.Context views. The binding exclusively owns the mappings;
// controllers never unmap anything themselves.
package pruss

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/kpishere/SPIButtonController-BBB/pkg/pru"
)

// AM335x PRU-ICSS physical layout. Each core owns an 8 KB data RAM and the
// shared context sits at its base.
const (
	icssBase    = 0x4a300000
	pru0DataRAM = 0x00000
	pru1DataRAM = 0x02000
	dataRAMSize = 0x2000
)

// ErrTornDown is returned by all operations after Teardown.
var ErrTornDown = errors.New("pruss: binding already torn down")

// Config points the binding at the kernel interfaces. Zero values select
// the real system paths; tests point them at temp directories.
type Config struct {
	// DevMem is the physical memory device, default /dev/mem.
	DevMem string
	// RemoteprocDir is the remoteproc class directory, default
	// /sys/class/remoteproc. PRU core n is remoteproc(n+1) there.
	RemoteprocDir string
	// FirmwareDir is where the kernel looks firmware images up, default
	// /lib/firmware.
	FirmwareDir string
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.DevMem == "" {
		out.DevMem = "/dev/mem"
	}
	if out.RemoteprocDir == "" {
		out.RemoteprocDir = "/sys/class/remoteproc"
	}
	if out.FirmwareDir == "" {
		out.FirmwareDir = "/lib/firmware"
	}
	return out
}

// Binding implements pru.Binding against the real hardware.
type Binding struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	devMem  *os.File
	regions map[uint32][]byte
	ctxs    map[uint32]*pru.Context
	down    bool
}

var _ pru.Binding = (*Binding)(nil)

// New creates a binding. Nothing is opened or mapped until first use.
func New(cfg *Config, logger *zap.Logger) *Binding {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binding{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		regions: make(map[uint32][]byte, 2),
		ctxs:    make(map[uint32]*pru.Context, 2),
	}
}

func dataRAMOffset(core uint32) (int64, error) {
	switch core {
	case pru.MasterCore:
		return icssBase + pru0DataRAM, nil
	case pru.SlaveCore:
		return icssBase + pru1DataRAM, nil
	default:
		return 0, fmt.Errorf("pruss: unknown core %d", core)
	}
}

// MapContext implements pru.Binding.
func (b *Binding) MapContext(core uint32) (*pru.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, ErrTornDown
	}
	if ctx, ok := b.ctxs[core]; ok {
		return ctx, nil
	}
	off, err := dataRAMOffset(core)
	if err != nil {
		return nil, err
	}
	if b.devMem == nil {
		f, err := os.OpenFile(b.cfg.DevMem, os.O_RDWR|os.O_SYNC, 0)
		if err != nil {
			return nil, fmt.Errorf("pruss: open %s: %w", b.cfg.DevMem, err)
		}
		b.devMem = f
	}
	mem, err := mapDataRAM(b.devMem, off, dataRAMSize)
	if err != nil {
		return nil, fmt.Errorf("pruss: map core %d data RAM: %w", core, err)
	}
	ctx, err := pru.NewContext(mem)
	if err != nil {
		_ = unmapDataRAM(mem)
		return nil, err
	}
	b.regions[core] = mem
	b.ctxs[core] = ctx
	b.logger.Info("mapped PRU data RAM",
		zap.Uint32("core", core),
		zap.Int64("physAddr", off),
		zap.Int("size", dataRAMSize),
	)
	return ctx, nil
}

func (b *Binding) remoteprocPath(core uint32) string {
	// PRU0 is remoteproc1, PRU1 is remoteproc2; remoteproc0 is the M3
	// wakeup processor.
	return filepath.Join(b.cfg.RemoteprocDir, "remoteproc"+strconv.Itoa(int(core)+1))
}

// LoadProgram implements pru.Binding: halt the core, install the image
// under the kernel firmware directory, point remoteproc at it and start
// the core.
func (b *Binding) LoadProgram(core uint32, firmware string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return ErrTornDown
	}
	if _, err := dataRAMOffset(core); err != nil {
		return err
	}
	name, err := b.installFirmware(firmware)
	if err != nil {
		return err
	}
	rp := b.remoteprocPath(core)
	// stopping an already-offline core fails with EINVAL, which is fine
	if err := writeSysfs(filepath.Join(rp, "state"), "stop"); err != nil {
		b.logger.Debug("remoteproc stop before load", zap.Uint32("core", core), zap.Error(err))
	}
	if err := writeSysfs(filepath.Join(rp, "firmware"), name); err != nil {
		return fmt.Errorf("pruss: select firmware %q for core %d: %w", name, core, err)
	}
	if err := writeSysfs(filepath.Join(rp, "state"), "start"); err != nil {
		return fmt.Errorf("pruss: start core %d: %w", core, err)
	}
	b.logger.Info("PRU firmware started", zap.Uint32("core", core), zap.String("firmware", name))
	return nil
}

// UnloadProgram implements pru.Binding.
func (b *Binding) UnloadProgram(core uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return ErrTornDown
	}
	if _, err := dataRAMOffset(core); err != nil {
		return err
	}
	rp := b.remoteprocPath(core)
	if err := writeSysfs(filepath.Join(rp, "state"), "stop"); err != nil {
		return fmt.Errorf("pruss: stop core %d: %w", core, err)
	}
	b.logger.Info("PRU core halted", zap.Uint32("core", core))
	return nil
}

// Teardown implements pru.Binding: revoke every handed-out context first,
// then release the mappings, so no stale handle can ever reach unmapped
// memory. Idempotent.
func (b *Binding) Teardown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil
	}
	b.down = true
	for _, ctx := range b.ctxs {
		ctx.Revoke()
	}
	var err error
	for core, mem := range b.regions {
		if uerr := unmapDataRAM(mem); uerr != nil && err == nil {
			err = fmt.Errorf("pruss: unmap core %d: %w", core, uerr)
		}
	}
	b.regions = nil
	b.ctxs = nil
	if b.devMem != nil {
		if cerr := b.devMem.Close(); cerr != nil && err == nil {
			err = cerr
		}
		b.devMem = nil
	}
	b.logger.Info("PRU binding torn down")
	return err
}

// installFirmware copies the image into the kernel firmware directory when
// it is not already there and returns the name remoteproc should load.
func (b *Binding) installFirmware(firmware string) (string, error) {
	if firmware == "" {
		return "", errors.New("pruss: empty firmware path")
	}
	name := filepath.Base(firmware)
	target := filepath.Join(b.cfg.FirmwareDir, name)
	if firmware == target || !filepath.IsAbs(firmware) {
		// a bare name refers to an image already installed
		if _, err := os.Stat(target); err != nil {
			return "", fmt.Errorf("pruss: firmware %q not installed: %w", name, err)
		}
		return name, nil
	}
	src, err := os.Open(firmware)
	if err != nil {
		return "", fmt.Errorf("pruss: open firmware: %w", err)
	}
	defer src.Close()
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("pruss: install firmware: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("pruss: install firmware: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("pruss: install firmware: %w", err)
	}
	b.logger.Debug("firmware installed", zap.String("from", firmware), zap.String("to", target))
	return name, nil
}

func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
