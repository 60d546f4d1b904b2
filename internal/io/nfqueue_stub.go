// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package io

import (
	"grimm.is/glasswall/internal/errors"
)

// NFQueueConfig configures the NFQUEUE packet source.
type NFQueueConfig struct {
	QueueNum   uint16
	QueueSize  uint32
	ReadBuffer int
	AcceptMark int
	DropMark   int
}

// NewNFQueuePacketIO is unsupported off Linux.
func NewNFQueuePacketIO(cfg NFQueueConfig) (PacketIO, error) {
	return nil, errors.New(errors.KindUnavailable, "nfqueue is only supported on Linux")
}
