// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package utils

import "bytes"

// ByteBuffer is an append-only FIFO byte queue shared by the stream analyzers.
// Readers either consume a prefix atomically or leave the buffer untouched;
// there is no partial consumption on failure.
type ByteBuffer struct {
	buf []byte
}

// Append copies data to the tail of the buffer.
func (b *ByteBuffer) Append(data []byte) {
	b.buf = append(b.buf, data...)
}

// Len returns the number of buffered octets.
func (b *ByteBuffer) Len() int {
	return len(b.buf)
}

// Index returns the first index at which sep begins, or -1 if absent.
func (b *ByteBuffer) Index(sep []byte) int {
	return bytes.Index(b.buf, sep)
}

// Get returns the first n octets. When consume is true the octets are removed
// and the returned slice is an owned copy; otherwise it is a view into the
// buffer valid until the next mutation. ok is false iff fewer than n octets
// are buffered.
func (b *ByteBuffer) Get(n int, consume bool) (data []byte, ok bool) {
	if len(b.buf) < n {
		return nil, false
	}
	if !consume {
		return b.buf[:n], true
	}
	data = make([]byte, n)
	copy(data, b.buf[:n])
	b.buf = b.buf[n:]
	return data, true
}

// GetUntil returns everything up to the first occurrence of sep. The result
// includes sep only when includeSep is true, but consumption always removes
// through and including the separator. ok is false iff sep is absent.
func (b *ByteBuffer) GetUntil(sep []byte, includeSep, consume bool) (data []byte, ok bool) {
	idx := b.Index(sep)
	if idx < 0 {
		return nil, false
	}
	end := idx + len(sep)
	n := idx
	if includeSep {
		n = end
	}
	if !consume {
		return b.buf[:n], true
	}
	data = make([]byte, n)
	copy(data, b.buf[:n])
	b.buf = b.buf[end:]
	return data, true
}

// GetUint16 decodes a fixed-width unsigned 16-bit integer from the head of
// the buffer. ok is false iff fewer than two octets are buffered.
func (b *ByteBuffer) GetUint16(littleEndian, consume bool) (v uint16, ok bool) {
	data, ok := b.Get(2, consume)
	if !ok {
		return 0, false
	}
	if littleEndian {
		return uint16(data[0]) | uint16(data[1])<<8, true
	}
	return uint16(data[1]) | uint16(data[0])<<8, true
}

// GetUint32 decodes a fixed-width unsigned 32-bit integer from the head of
// the buffer. ok is false iff fewer than four octets are buffered.
func (b *ByteBuffer) GetUint32(littleEndian, consume bool) (v uint32, ok bool) {
	data, ok := b.Get(4, consume)
	if !ok {
		return 0, false
	}
	if littleEndian {
		return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, true
	}
	return uint32(data[3]) | uint32(data[2])<<8 | uint32(data[1])<<16 | uint32(data[0])<<24, true
}

// GetSubBuffer returns the first n octets as an independent ByteBuffer.
func (b *ByteBuffer) GetSubBuffer(n int, consume bool) (*ByteBuffer, bool) {
	data, ok := b.Get(n, consume)
	if !ok {
		return nil, false
	}
	sub := &ByteBuffer{buf: make([]byte, n)}
	copy(sub.buf, data)
	return sub, true
}

// Skip consumes n octets. It returns false, leaving the buffer unchanged,
// iff fewer than n octets are buffered.
func (b *ByteBuffer) Skip(n int) bool {
	if len(b.buf) < n {
		return false
	}
	b.buf = b.buf[n:]
	return true
}

// Reset drops all buffered octets.
func (b *ByteBuffer) Reset() {
	b.buf = nil
}
