// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package utils

import (
	"bytes"
	"testing"
)

func TestByteBufferGetPeekDoesNotMutate(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("hello world"))

	data, ok := b.Get(5, false)
	if !ok {
		t.Fatal("expected ok")
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Errorf("expected hello, got %q", data)
	}
	if b.Len() != 11 {
		t.Errorf("peek changed length: %d", b.Len())
	}
}

func TestByteBufferGetConsume(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("hello world"))

	data, ok := b.Get(6, true)
	if !ok {
		t.Fatal("expected ok")
	}
	if !bytes.Equal(data, []byte("hello ")) {
		t.Errorf("unexpected data %q", data)
	}
	if b.Len() != 5 {
		t.Errorf("expected 5 remaining, got %d", b.Len())
	}

	rest, ok := b.Get(5, true)
	if !ok || !bytes.Equal(rest, []byte("world")) {
		t.Errorf("unexpected tail %q ok=%v", rest, ok)
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}
}

func TestByteBufferGetInsufficient(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("abc"))

	if _, ok := b.Get(4, true); ok {
		t.Error("expected failure for short buffer")
	}
	if b.Len() != 3 {
		t.Errorf("failed read must not consume, got len %d", b.Len())
	}
}

func TestByteBufferIndex(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))

	if idx := b.Index([]byte("\r\n")); idx != 14 {
		t.Errorf("expected 14, got %d", idx)
	}
	if idx := b.Index([]byte("\r\n\r\n")); idx != -1 {
		t.Errorf("expected -1, got %d", idx)
	}
}

func TestByteBufferGetUntil(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("line one\r\nline two\r\n"))

	// Excluding the separator still consumes through it.
	data, ok := b.GetUntil([]byte("\r\n"), false, true)
	if !ok {
		t.Fatal("expected ok")
	}
	if !bytes.Equal(data, []byte("line one")) {
		t.Errorf("unexpected data %q", data)
	}
	if b.Len() != 10 {
		t.Errorf("expected 10 remaining, got %d", b.Len())
	}

	data, ok = b.GetUntil([]byte("\r\n"), true, true)
	if !ok || !bytes.Equal(data, []byte("line two\r\n")) {
		t.Errorf("unexpected data %q ok=%v", data, ok)
	}
	if b.Len() != 0 {
		t.Errorf("expected empty, got %d", b.Len())
	}
}

func TestByteBufferGetUntilAbsent(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("no separator here"))

	if _, ok := b.GetUntil([]byte("\r\n"), true, true); ok {
		t.Error("expected failure")
	}
	if b.Len() != 17 {
		t.Errorf("failed read must not consume, got %d", b.Len())
	}
}

func TestByteBufferGetUint16(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte{0x00, 0x1d})

	v, ok := b.GetUint16(false, false)
	if !ok || v != 29 {
		t.Errorf("big endian: expected 29, got %d ok=%v", v, ok)
	}
	v, ok = b.GetUint16(true, true)
	if !ok || v != 0x1d00 {
		t.Errorf("little endian: expected 0x1d00, got 0x%x ok=%v", v, ok)
	}
	if b.Len() != 0 {
		t.Errorf("expected consumed, got %d", b.Len())
	}
	if _, ok := b.GetUint16(false, true); ok {
		t.Error("expected failure on empty buffer")
	}
}

func TestByteBufferGetUint32(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte{0x01, 0x02, 0x03, 0x04})

	v, ok := b.GetUint32(false, false)
	if !ok || v != 0x01020304 {
		t.Errorf("big endian: got 0x%x ok=%v", v, ok)
	}
	v, ok = b.GetUint32(true, true)
	if !ok || v != 0x04030201 {
		t.Errorf("little endian: got 0x%x ok=%v", v, ok)
	}
}

func TestByteBufferSkip(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("abcdef"))

	if !b.Skip(4) {
		t.Fatal("expected skip to succeed")
	}
	if b.Len() != 2 {
		t.Errorf("expected 2 remaining, got %d", b.Len())
	}
	if b.Skip(3) {
		t.Error("expected skip past end to fail")
	}
	if b.Len() != 2 {
		t.Errorf("failed skip must not consume, got %d", b.Len())
	}
}

func TestByteBufferReset(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("data"))
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("expected empty after reset, got %d", b.Len())
	}
}
