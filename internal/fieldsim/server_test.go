// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import (
	"encoding/binary"
	"net"
	"os"
	"testing"
	"time"

	"github.com/rs485lab/fieldsim/modbus"
)

// startTestServer wires a Server around one end of an in-memory,
// full-duplex net.Pipe (which satisfies ByteStream directly: Read,
// Write, SetReadDeadline, Close) and returns the other end for a test
// to drive as if it were the RS-485 wire. A synchronous in-memory pipe
// exercises the dispatch loop's real read/parse/dispatch/write path
// without the line-discipline surprises (echo, canonical buffering) of
// a real pseudo-terminal.
func startTestServer(t *testing.T, roster []Device) net.Conn {
	t.Helper()

	store := NewStore(t.TempDir())
	if err := store.SaveRoster(roster); err != nil {
		t.Fatalf("failed to seed roster: %v", err)
	}

	serverSide, clientSide := net.Pipe()
	server, err := NewServer(serverSide, store, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	server.Start()

	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("failed to stop server: %v", err)
		}
	})

	return clientSide
}

// sendFrame appends the little-endian CRC and writes body to the wire.
func sendFrame(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()

	crc := modbus.CRC16(body)
	frame := make([]byte, len(body)+2)
	copy(frame, body)
	binary.LittleEndian.PutUint16(frame[len(body):], crc)

	if err := conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set write deadline: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

// recvFrame reads one response frame, failing the test on timeout
// rather than hanging forever if the server stays silent.
func recvFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return buf[:n]
}

func expectSilence(t *testing.T, conn net.Conn) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	buf := make([]byte, 64)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected no response, got one")
	} else if !os.IsTimeout(err) {
		t.Fatalf("expected a read timeout, got: %v", err)
	}
}

func TestServerReadHoldingRegistersOverWire(t *testing.T) {
	conn := startTestServer(t, []Device{{ID: 1, Type: DeviceInverter, Enabled: true, SimMode: SimManual}})

	// Read 2 holding registers from slave 1 at 0x3000: default
	// frequency is 5000, the next register defaults to zero.
	sendFrame(t, conn, []byte{0x01, 0x03, 0x30, 0x00, 0x00, 0x02})

	resp := recvFrame(t, conn)
	if len(resp) != 9 {
		t.Fatalf("response length = %d, want 9: % x", len(resp), resp)
	}
	if resp[0] != 1 || resp[1] != modbus.FuncCodeReadHoldingRegisters || resp[2] != 4 {
		t.Fatalf("unexpected response header: % x", resp)
	}
	if got := binary.BigEndian.Uint16(resp[3:5]); got != 5000 {
		t.Errorf("0x3000 = %d, want 5000", got)
	}
	if got := binary.BigEndian.Uint16(resp[5:7]); got != 0 {
		t.Errorf("0x3001 = %d, want 0", got)
	}

	wantCRC := binary.LittleEndian.Uint16(resp[len(resp)-2:])
	if gotCRC := modbus.CRC16(resp[:len(resp)-2]); gotCRC != wantCRC {
		t.Errorf("response CRC = %04x, want %04x", gotCRC, wantCRC)
	}
}

func TestServerWriteSingleRegisterAppliesBehaviorOverWire(t *testing.T) {
	conn := startTestServer(t, []Device{{ID: 1, Type: DeviceInverter, Enabled: true, SimMode: SimManual}})

	// Write "run forward" (1) to the control command register 0x2000.
	sendFrame(t, conn, []byte{0x01, 0x06, 0x20, 0x00, 0x00, 0x01})

	resp := recvFrame(t, conn)
	if len(resp) != 8 || resp[1] != modbus.FuncCodeWriteSingleRegister {
		t.Fatalf("unexpected write-single response: % x", resp)
	}

	// The behavior engine should have re-initialised telemetry: for
	// slave id 1, freq = id*1000 = 1000.
	sendFrame(t, conn, []byte{0x01, 0x03, 0x30, 0x00, 0x00, 0x01})
	readResp := recvFrame(t, conn)
	if len(readResp) != 7 {
		t.Fatalf("read response length = %d, want 7: % x", len(readResp), readResp)
	}
	if got := binary.BigEndian.Uint16(readResp[3:5]); got != 1000 {
		t.Errorf("freq after run command = %d, want 1000", got)
	}
}

func TestServerUnknownUnitIDGetsNoResponseOverWire(t *testing.T) {
	conn := startTestServer(t, []Device{{ID: 9, Type: DeviceFlowmeter, Enabled: true, SimMode: SimManual}})

	sendFrame(t, conn, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	expectSilence(t, conn)
}

func TestServerDisabledDeviceGetsNoResponseOverWire(t *testing.T) {
	conn := startTestServer(t, []Device{{ID: 1, Type: DeviceInverter, Enabled: false, SimMode: SimManual}})

	sendFrame(t, conn, []byte{0x01, 0x03, 0x30, 0x00, 0x00, 0x01})
	expectSilence(t, conn)
}
