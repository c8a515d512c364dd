// Command spi-duplex-demo exercises the master and slave controllers
// against an in-memory binding with a simulated firmware, so the full
// transfer protocol can be watched without BeagleBone hardware.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kpishere/SPIButtonController-BBB/pkg/pru"
)

var (
	rounds   = flag.Int("rounds", 5, "number of transfers to run")
	frameLen = flag.Uint("bytes", 512, "payload length per transfer")
	poll     = flag.Duration("poll", 5*time.Millisecond, "controller poll interval")
)

// simulateFirmware plays the PRU cores: it moves each armed frame from
// master RAM to slave RAM, swaps both active buffers and clears the
// control words.
func simulateFirmware(mctx, sctx *pru.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-time.After(time.Millisecond):
		}
		n := mctx.Length()
		if n == 0 || sctx.SlaveMaxLength() == 0 {
			continue
		}
		if max := sctx.SlaveMaxLength(); n > max {
			n = max
		}
		src := mctx.Buffer()
		dst := sctx.BufferAt(1 - sctx.BufferIndex())
		copy(dst[:n], src[:n])
		sctx.SetLength(n)
		sctx.SetBufferIndex(1 - sctx.BufferIndex())
		sctx.SetSlaveMaxLength(0)
		mctx.SetBufferIndex(1 - mctx.BufferIndex())
		mctx.SetLength(0)
	}
}

func run() error {
	n := uint32(*frameLen)
	if n == 0 || n > pru.BufferSize {
		return fmt.Errorf("bytes must be in 1..%d", pru.BufferSize)
	}

	b := pru.NewMemBinding()
	master := pru.NewMaster(b, pru.Options{PollInterval: *poll})
	slave := pru.NewSlave(b, pru.Options{PollInterval: *poll})
	defer master.Close()
	defer slave.Close()
	defer b.Teardown()

	if err := master.Init(); err != nil {
		return err
	}
	if err := slave.Init(); err != nil {
		return err
	}
	if err := master.Start(func() { fmt.Println("  master: buffer swapped") }); err != nil {
		return err
	}
	if err := slave.Start(func() { fmt.Println("  slave: buffer swapped") }); err != nil {
		return err
	}

	mctx, err := b.MapContext(pru.MasterCore)
	if err != nil {
		return err
	}
	sctx, err := b.MapContext(pru.SlaveCore)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go simulateFirmware(mctx, sctx, stop)

	ctx := context.Background()
	for round := 1; round <= *rounds; round++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte((i + round) * 3)
		}

		slave.EnableReceive(n)
		copy(master.Data(), payload)
		master.StartTransmission(n)

		slave.WaitForTransmissionToComplete(ctx, *poll)
		master.WaitForTransmissionToComplete(ctx, *poll)

		got := slave.Data()[:slave.LastTransmissionLength()]
		status := "ok"
		if !bytes.Equal(got, payload) {
			status = "MISMATCH"
		}
		fmt.Printf("round %d: sent %d bytes, received %d bytes, %s\n",
			round, n, len(got), status)
		if status != "ok" {
			return fmt.Errorf("round %d: payload mismatch", round)
		}
	}

	master.Stop()
	slave.Stop()
	if err := master.Wait(); err != nil {
		return err
	}
	return slave.Wait()
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "spi-duplex-demo:", err)
		os.Exit(1)
	}
}
