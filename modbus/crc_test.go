// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "testing"

func TestCRC16KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		// Read 2 holding registers from slave 1 at 0x3000: wire bytes
		// 01 03 30 00 00 02 CB CB (little-endian trailing CRC -> 0xCBCB).
		{"read holding registers request", []byte{0x01, 0x03, 0x30, 0x00, 0x00, 0x02}, 0xCBCB},
		// Write control-command "run" to slave 1 at 0x2000: wire bytes
		// 01 06 20 00 00 01 43 CA (little-endian trailing CRC -> 0xCA43).
		{"write single register request", []byte{0x01, 0x06, 0x20, 0x00, 0x00, 0x01}, 0xCA43},
		{"empty", []byte{}, 0xFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16(% x) = %04x, want %04x", tt.data, got, tt.want)
			}
		})
	}
}

func TestCRCIncrementalMatchesBulk(t *testing.T) {
	data := []byte{0x01, 0x10, 0x20, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}

	var c crc
	c.reset()
	for _, b := range data {
		c.pushByte(b)
	}
	incremental := c.value()

	bulk := CRC16(data)
	if incremental != bulk {
		t.Errorf("incremental CRC %04x != bulk CRC %04x", incremental, bulk)
	}
}
