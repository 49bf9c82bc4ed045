// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "fmt"

const rtuMaxSize = 256

// DecodeRequest splits a validated RTU frame (CRC already checked by
// the Parser) into its unit id and PDU.
func DecodeRequest(frame []byte) (unitID byte, pdu *ProtocolDataUnit, err error) {
	if len(frame) < 4 {
		return 0, nil, fmt.Errorf("modbus: frame length %d is less than minimum 4", len(frame))
	}
	return frame[0], &ProtocolDataUnit{
		FunctionCode: frame[1],
		Data:         frame[2 : len(frame)-2],
	}, nil
}

// EncodeResponse wraps a PDU in an RTU frame addressed to unitID with
// a little-endian trailing CRC — the one place in Modbus RTU where the
// byte order is not big-endian (spec §4.1).
func EncodeResponse(unitID byte, pdu *ProtocolDataUnit) ([]byte, error) {
	length := len(pdu.Data) + 4
	if length > rtuMaxSize {
		return nil, fmt.Errorf("modbus: frame length %d exceeds maximum %d", length, rtuMaxSize)
	}

	adu := make([]byte, length)
	adu[0] = unitID
	adu[1] = pdu.FunctionCode
	copy(adu[2:], pdu.Data)

	checksum := CRC16(adu[:length-2])
	adu[length-2] = byte(checksum)
	adu[length-1] = byte(checksum >> 8)
	return adu, nil
}
