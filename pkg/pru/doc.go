// Package pru implements the ARM-side half of the PRU SPI duplex transport.
//
// The two PRU cores on the AM335x run firmware that bit-bangs a full-duplex
// SPI link (core 0 as master, core 1 as slave). The ARM host talks to each
// core exclusively through a fixed-layout Context overlaid on that core's
// data RAM: the host writes frame data and transfer requests, the firmware
// toggles the active buffer index and clears the length words when a
// transfer completes. There are no interrupts on this path; a monitor
// goroutine per controller polls the shared buffer index and hands observed
// swaps to a dispatcher which invokes the registered callback.
//
// The mapped memory itself is owned by a Binding (see internal/pruss for
// the hardware implementation and MemBinding for a heap-backed one).
// Controllers only ever hold a revocable Context handle, so a controller
// can be constructed, queried and torn down safely before the hardware is
// attached or after it is gone.
package pru
