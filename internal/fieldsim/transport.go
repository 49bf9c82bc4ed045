// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

package fieldsim

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/creack/pty"
)

// ByteStream is the serial link the Server reads requests from and
// writes responses to. The concrete implementation (a real RS-485
// port, or the pty loopback below) lives outside the dispatch loop's
// concerns, matching the teacher's separation between RTUServer and
// its pty transport.
type ByteStream interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	Close() error
}

// PtyByteStream is a loopback pseudo-terminal pair adapted to
// ByteStream, for development and tests where no physical RS-485
// adapter is present: the roster's devices all answer on the master
// side, and ClientPath is the path a Modbus master opens to reach
// them, standing in for the far end of an RS-485 bus.
type PtyByteStream struct {
	master, slave *os.File
	clientPath    string
}

// NewPtyByteStream opens a fresh loopback pty pair.
func NewPtyByteStream() (*PtyByteStream, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open loopback pty: %w", err)
	}
	return &PtyByteStream{master: master, slave: slave, clientPath: slave.Name()}, nil
}

// ClientPath returns the device path the simulated master connects to.
func (s *PtyByteStream) ClientPath() string { return s.clientPath }

func (s *PtyByteStream) Read(p []byte) (int, error)  { return s.master.Read(p) }
func (s *PtyByteStream) Write(p []byte) (int, error) { return s.master.Write(p) }
func (s *PtyByteStream) SetReadDeadline(t time.Time) error {
	return s.master.SetReadDeadline(t)
}

// Close releases both ends of the pty pair. It closes the slave end
// even when closing the master fails, and returns the first error.
func (s *PtyByteStream) Close() error {
	var err error
	if e := s.master.Close(); e != nil {
		err = e
	}
	if e := s.slave.Close(); e != nil && err == nil {
		err = e
	}
	return err
}
