// Command pixelvm runs a pixelvm ROM: it assembles .asm source or loads a
// raw binary, executes it, and serves the debug control plane over TCP.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/pixelvm-project/pixelvm/asm"
	"github.com/pixelvm-project/pixelvm/debugsrv"
	"github.com/pixelvm-project/pixelvm/vm"
)

func main() {
	var (
		debugAddr      = flag.String("debug-addr", "localhost:12345", "address the debug control plane listens on")
		ips            = flag.Float64("ips", 0, "instructions-per-second cap (0 = uncapped)")
		maxMessageSize = flag.Int("max-message-size", debugsrv.DefaultMaxMessageSize, "max accepted debug frame size, in bytes")
		quiet          = flag.Bool("quiet", false, "suppress IPS and traceback diagnostics")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <program.asm|program.rom>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	rom, err := loadROM(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pixelvm: %v\n", err)
		os.Exit(1)
	}

	ipsLimit := math.Inf(1)
	if *ips > 0 {
		ipsLimit = *ips
	}

	v, err := vm.New(rom, ipsLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pixelvm: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		v.Diag = os.Stdout
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runExecutor(gctx, v)
		return nil
	})

	srv := debugsrv.New(v, *maxMessageSize)
	if !*quiet {
		srv.Diag = os.Stdout
	}
	g.Go(func() error {
		return srv.ListenAndServe(gctx, *debugAddr)
	})

	g.Go(func() error {
		watchForCtrlC(gctx, v)
		return nil
	})

	// Stop the group once the VM halts on its own (fatal runtime error or
	// the program's own HLT), so the debug server and Ctrl-C watcher don't
	// keep the process alive after execution is over.
	go func() {
		for {
			if v.Halted() {
				cancel()
				return
			}
			select {
			case <-gctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "pixelvm: %v\n", err)
		os.Exit(1)
	}

	// Non-zero exit only on a fatal halt; a clean HLT or a user-requested
	// shutdown (debug HALT, Ctrl-C) exits zero.
	if v.Fatal() {
		os.Exit(1)
	}
}

// loadROM assembles .asm source or loads a raw ROM binary, by extension.
func loadROM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".asm") {
		rom, err := asm.Assemble(string(data))
		if err != nil {
			return nil, fmt.Errorf("assemble %s: %w", path, err)
		}
		return rom, nil
	}
	return data, nil
}

// runExecutor drives the VM's fetch/decode/execute loop until it halts or
// the context is cancelled.
func runExecutor(ctx context.Context, v *vm.VM) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if v.Halted() {
			return
		}
		if v.Paused() {
			time.Sleep(time.Millisecond)
			continue
		}
		v.Cycle()
	}
}

// watchForCtrlC puts stdin into raw mode so a bare Ctrl-C byte (not SIGINT,
// since raw mode disables the terminal's own signal generation) reaches us
// directly; on receipt it halts the VM cleanly.
func watchForCtrlC(ctx context.Context, v *vm.VM) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		// Not an interactive terminal (e.g. piped stdin in tests); nothing
		// to watch.
		return
	}
	defer term.Restore(fd, oldState)

	if err := syscall.SetNonblock(fd, true); err != nil {
		return
	}
	defer syscall.SetNonblock(fd, false)

	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := syscall.Read(fd, buf)
		if n > 0 && buf[0] == 0x03 {
			v.Halt("Ctrl-C")
			v.RequestStop()
			return
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || n == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err != nil {
			return
		}
	}
}
