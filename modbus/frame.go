// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// maxBufferedBytes bounds how many bytes the parser holds in one Feed
// call without producing a frame. Past it, the whole buffer is flushed
// and the overflow is reported, so a stream that never yields a valid
// frame (garbage, or a master talking a protocol we don't implement)
// surfaces as an event instead of being skipped silently.
const maxBufferedBytes = 4096

// Parser reconstructs Modbus RTU frames from a continuous byte stream
// with no delimiter framing. It is resynchronising: CRC validation is
// the sole framing oracle, and on any structural or CRC failure the
// parser shifts one byte and retries rather than waiting for silence
// on the line (spec §4.2). It is not safe for concurrent use; the
// server owns a single Parser per byte stream.
type Parser struct {
	buf []byte
}

// NewParser returns an empty frame parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends chunk to the parser's internal buffer and extracts as
// many complete, CRC-valid frames as are currently available. It
// returns those frames in arrival order and reports whether the
// internal buffer was flushed for exceeding maxBufferedBytes without
// producing a frame (the caller should turn that into a log event).
//
// Each returned frame is a fresh slice; Feed never aliases its
// argument or a slice the caller might mutate afterward.
func (p *Parser) Feed(chunk []byte) (frames [][]byte, overflowed bool) {
	p.buf = append(p.buf, chunk...)

	consumed := 0
	for {
		n, frame := p.extractAt(consumed)
		if n == 0 {
			break
		}
		consumed += n
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	if len(frames) == 0 && len(p.buf) > maxBufferedBytes {
		p.buf = nil
		overflowed = true
	} else {
		p.buf = p.buf[consumed:]
	}
	return frames, overflowed
}

// extractAt runs one iteration of the extraction algorithm from
// position p starting at offset `at` in the buffer. It returns the
// number of bytes to advance the cursor by (0 meaning "stop, need more
// data") and, when a frame was found, the frame bytes.
func (p *Parser) extractAt(at int) (advance int, frame []byte) {
	buf := p.buf[at:]

	// Step 1: need unit id and function code.
	if len(buf) < 2 {
		return 0, nil
	}
	fc := buf[1]

	// Step 2: unsupported function code is noise, not framing.
	if !IsSupportedFunctionCode(fc) {
		return 1, nil
	}

	// Step 3: compute expected frame length.
	length, ok := expectedLength(buf, fc)
	if !ok {
		// Not enough bytes yet to know the length (FC16's byte count
		// lives at offset 6). Wait for more data.
		return 0, nil
	}

	// Step 4: wait for the full frame.
	if len(buf) < length {
		return 0, nil
	}

	// Step 5/6/7: CRC check, little-endian trailing bytes.
	body := buf[:length-2]
	wantCRC := CRC16(body)
	gotCRC := uint16(buf[length-2]) | uint16(buf[length-1])<<8
	if gotCRC != wantCRC {
		return 1, nil
	}

	out := make([]byte, length)
	copy(out, buf[:length])
	return length, out
}

// expectedLength implements step 3 of the extraction algorithm. ok is
// false when fc==FuncCodeWriteMultipleRegisters and the byte count
// field (offset 6) isn't in the buffer yet.
func expectedLength(buf []byte, fc byte) (length int, ok bool) {
	switch fc {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters, FuncCodeWriteSingleRegister:
		return 8, true
	case FuncCodeWriteMultipleRegisters:
		if len(buf) < 7 {
			return 0, false
		}
		byteCount := int(buf[6])
		return 9 + byteCount, true
	default:
		// Unreachable: IsSupportedFunctionCode already filtered fc.
		return 0, false
	}
}
