//go:build linux

package rfcomm

import (
	"fmt"
	"os"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

type fdSocket struct {
	f      *os.File
	addr   string
	modem  ModemOpts
	closed atomic.Bool
}

// NewSocket takes ownership of fd. modem maps the control line calls onto
// socket options.
func NewSocket(fd int, addr string, modem ModemOpts) (Socket, error) {
	// 非阻塞模式下 Close 才能中断阻塞中的 Read
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: set nonblock: %w", err)
	}
	return &fdSocket{f: os.NewFile(uintptr(fd), "rfcomm:"+addr), addr: addr, modem: modem}, nil
}

func (s *fdSocket) Read(p []byte) (int, error) {
	return s.f.Read(p)
}

func (s *fdSocket) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *fdSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.f.Close()
}

func (s *fdSocket) RemoteAddr() string {
	return s.addr
}

func (s *fdSocket) IsConnected() bool {
	return !s.closed.Load()
}

func (s *fdSocket) ModemBits() (byte, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if !s.modem.Enabled() {
		return 0, ErrUnsupported
	}
	var (
		bits byte
		oerr error
	)
	err := s.control(func(fd int) {
		bits, oerr = unix.GetsockoptByte(fd, s.modem.Level, s.modem.Get)
	})
	if err == nil {
		err = oerr
	}
	return bits, err
}

func (s *fdSocket) SetModemBits(bits byte) error {
	return s.setsockopt(s.modem.Set, bits)
}

func (s *fdSocket) ClearModemBits(bits byte) error {
	return s.setsockopt(s.modem.Clr, bits)
}

func (s *fdSocket) setsockopt(opt int, bits byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.modem.Enabled() {
		return ErrUnsupported
	}
	var oerr error
	err := s.control(func(fd int) {
		oerr = unix.SetsockoptByte(fd, s.modem.Level, opt, bits)
	})
	if err == nil {
		err = oerr
	}
	return err
}

func (s *fdSocket) control(fn func(fd int)) error {
	if s.closed.Load() {
		return ErrClosed
	}
	rc, err := s.f.SyscallConn()
	if err != nil {
		return err
	}
	return rc.Control(func(fd uintptr) { fn(int(fd)) })
}
