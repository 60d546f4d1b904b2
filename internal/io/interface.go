// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package io

import "context"

// Verdict is the decision returned to the packet adapter for one packet.
type Verdict int

const (
	// VerdictAccept lets the packet through and keeps inspecting.
	VerdictAccept Verdict = iota
	// VerdictAcceptModify lets a rewritten payload through.
	VerdictAcceptModify
	// VerdictAcceptStream lets the whole flow through; inspection stops.
	VerdictAcceptStream
	// VerdictDrop drops this packet.
	VerdictDrop
	// VerdictDropStream drops the whole flow.
	VerdictDropStream
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictAcceptModify:
		return "accept_modify"
	case VerdictAcceptStream:
		return "accept_stream"
	case VerdictDrop:
		return "drop"
	case VerdictDropStream:
		return "drop_stream"
	default:
		return "unknown"
	}
}

// Packet is one queued packet from the adapter.
type Packet interface {
	// StreamID is stable across all packets of a flow, in both
	// directions; workers route on it.
	StreamID() uint32
	// Data is the raw IP packet.
	Data() []byte
}

// PacketCallback handles one packet (or one receive error, with p nil).
// Returning false asks the adapter to stop delivering.
type PacketCallback func(p Packet, err error) bool

// PacketIO is the capture/verdict adapter the engine binds to.
type PacketIO interface {
	// Register installs the callback and starts delivering packets until
	// ctx is cancelled.
	Register(ctx context.Context, cb PacketCallback) error
	// SetVerdict returns a packet's verdict to the kernel. modified is
	// the rewritten payload for VerdictAcceptModify, nil otherwise.
	SetVerdict(p Packet, v Verdict, modified []byte) error
	Close() error
}
