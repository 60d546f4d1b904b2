// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package io

import (
	"bytes"

	"github.com/OneOfOne/xxhash"
)

// StreamID derives a direction-independent flow id from a raw IP packet by
// hashing the canonicalized 5-tuple. Both directions of a flow hash to the
// same id, which is what pins a flow to one worker. Packets that do not
// parse hash as opaque bytes.
func StreamID(data []byte) uint32 {
	tuple, ok := canonicalTuple(data)
	if !ok {
		return xxhash.Checksum32(data)
	}
	return xxhash.Checksum32(tuple)
}

// canonicalTuple extracts proto || lo-endpoint || hi-endpoint where an
// endpoint is ip || port and lo/hi is lexicographic order.
func canonicalTuple(data []byte) ([]byte, bool) {
	if len(data) < 1 {
		return nil, false
	}
	var proto byte
	var src, dst []byte
	var transport []byte
	switch data[0] >> 4 {
	case 4:
		if len(data) < 20 {
			return nil, false
		}
		ihl := int(data[0]&0x0f) * 4
		if ihl < 20 || len(data) < ihl {
			return nil, false
		}
		proto = data[9]
		src = data[12:16]
		dst = data[16:20]
		transport = data[ihl:]
	case 6:
		if len(data) < 40 {
			return nil, false
		}
		proto = data[6]
		src = data[8:24]
		dst = data[24:40]
		transport = data[40:]
	default:
		return nil, false
	}
	if len(transport) < 4 {
		return nil, false
	}

	a := make([]byte, 0, len(src)+2)
	a = append(a, src...)
	a = append(a, transport[0], transport[1])
	b := make([]byte, 0, len(dst)+2)
	b = append(b, dst...)
	b = append(b, transport[2], transport[3])
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}

	tuple := make([]byte, 0, 1+len(a)+len(b))
	tuple = append(tuple, proto)
	tuple = append(tuple, a...)
	return append(tuple, b...), true
}
