package debugsrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/pixelvm-project/pixelvm/isa"
	"github.com/pixelvm-project/pixelvm/vm"
)

// Server accepts one debug client connection at a time and dispatches its
// commands against a VM.
type Server struct {
	vm             *vm.VM
	maxMessageSize int

	// Diag receives connection lifecycle notices. Defaults to io.Discard.
	Diag io.Writer
}

// New constructs a debug server bound to the given VM.
func New(v *vm.VM, maxMessageSize int) *Server {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Server{vm: v, maxMessageSize: maxMessageSize, Diag: io.Discard}
}

// ListenAndServe binds addr (e.g. "localhost:12345") and serves debug
// connections until ctx is cancelled or the VM's stop is requested.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("debugsrv: listen on %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	fmt.Fprintf(s.Diag, "debugsrv: listening on %s\n", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.vm.StopRequested() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("debugsrv: accept: %w", err)
		}

		s.handleConn(conn)

		if s.vm.StopRequested() {
			return nil
		}
	}
}

// handleConn serves one client to completion (until it disconnects or
// sends a malformed frame), one request at a time.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	fmt.Fprintf(s.Diag, "debugsrv: client connected from %s\n", conn.RemoteAddr())

	for {
		var req Request
		if err := readFrame(conn, s.maxMessageSize, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(s.Diag, "debugsrv: read error: %v\n", err)
			}
			return
		}

		resp := s.dispatch(req)
		if err := writeFrame(conn, resp); err != nil {
			fmt.Fprintf(s.Diag, "debugsrv: write error: %v\n", err)
			return
		}
	}
}

// dispatch executes one command against the VM. Any failure here is
// reported in the response and leaves VM state untouched; it never halts
// the VM or closes the connection itself.
func (s *Server) dispatch(req Request) Response {
	switch req.Command {
	case CmdGetRegisters:
		return Response{OK: true, Registers: s.vm.Registers()}

	case CmdSetRegister:
		if req.Register == nil || req.Value == nil {
			return errResponse("SET_REGISTER requires register and value")
		}
		if err := s.vm.SetRegister(*req.Register, *req.Value); err != nil {
			return errResponse(err.Error())
		}
		return Response{OK: true}

	case CmdGetMemory:
		if req.Address == nil {
			return errResponse("GET_MEMORY requires address")
		}
		length := 1
		if req.Length != nil {
			length = *req.Length
		}
		if length < 0 || length > isa.MemorySize {
			return errResponse(fmt.Sprintf("GET_MEMORY length %d out of range", length))
		}
		data := make([]byte, 0, length)
		for i := 0; i < length; i++ {
			b, err := s.vm.PeekMemory(*req.Address + uint32(i))
			if err != nil {
				return errResponse(err.Error())
			}
			data = append(data, b)
		}
		return Response{OK: true, Data: data}

	case CmdSetMemory:
		if req.Address == nil || req.Data == nil {
			return errResponse("SET_MEMORY requires address and data")
		}
		if err := s.vm.PokeMemory(*req.Address, req.Data); err != nil {
			return errResponse(err.Error())
		}
		return Response{OK: true}

	case CmdGetStack:
		return Response{OK: true, Stack: s.vm.Stack()}

	case CmdSetStack:
		if req.Index == nil || req.Value == nil {
			return errResponse("SET_STACK requires index and value")
		}
		if err := s.vm.SetStack(*req.Index, *req.Value); err != nil {
			return errResponse(err.Error())
		}
		return Response{OK: true}

	case CmdGetPC:
		return Response{OK: true, PC: s.vm.PC()}

	case CmdSetPC:
		if req.Address == nil {
			return errResponse("SET_PC requires address")
		}
		s.vm.SetPC(*req.Address)
		return Response{OK: true}

	case CmdPause:
		s.vm.Pause()
		return Response{OK: true}

	case CmdResume:
		s.vm.Resume()
		return Response{OK: true}

	case CmdHalt:
		s.vm.Halt("HALT requested over debug connection")
		return Response{OK: true}

	default:
		return errResponse(fmt.Sprintf("unknown command %q", req.Command))
	}
}

func errResponse(message string) Response {
	return Response{OK: false, Error: message}
}
