// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package main

import (
	"time"

	"go.bug.st/serial"
)

// SerialByteStream adapts a go.bug.st/serial port to fieldsim.ByteStream.
// serial.Port has no per-call read deadline the way net.Conn does, only
// a fixed read timeout (serial.Port.SetReadTimeout); SetReadDeadline
// translates the deadline into that timeout on every call, the way the
// teacher's serialPort tracked a single Timeout field.
type SerialByteStream struct {
	port serial.Port
}

// OpenSerialPort opens device at baud 8-N-1, the simulator's fixed wire
// format (spec §6: "8 data bits, no parity, 1 stop bit").
func OpenSerialPort(device string, baud int) (*SerialByteStream, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	})
	if err != nil {
		return nil, err
	}
	return &SerialByteStream{port: port}, nil
}

func (s *SerialByteStream) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialByteStream) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialByteStream) Close() error                { return s.port.Close() }

func (s *SerialByteStream) SetReadDeadline(t time.Time) error {
	timeout := time.Until(t)
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return s.port.SetReadTimeout(timeout)
}
