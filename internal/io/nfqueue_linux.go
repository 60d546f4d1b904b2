// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package io

import (
	"context"

	nfqueue "github.com/florianl/go-nfqueue/v2"
	"github.com/mdlayher/netlink"

	"grimm.is/glasswall/internal/errors"
	"grimm.is/glasswall/internal/logging"
)

// NFQueueConfig configures the NFQUEUE packet source.
type NFQueueConfig struct {
	QueueNum   uint16
	QueueSize  uint32
	ReadBuffer int
	// AcceptMark and DropMark are set as packet marks on stream-wide
	// verdicts so nftables can bypass the queue for decided flows.
	AcceptMark int
	DropMark   int
}

type nfqueuePacketIO struct {
	nf     *nfqueue.Nfqueue
	cfg    NFQueueConfig
	logger *logging.Logger
}

type nfqueuePacket struct {
	id       uint32
	streamID uint32
	data     []byte
}

func (p *nfqueuePacket) StreamID() uint32 {
	return p.streamID
}

func (p *nfqueuePacket) Data() []byte {
	return p.data
}

// NewNFQueuePacketIO binds the given NFQUEUE number.
func NewNFQueuePacketIO(cfg NFQueueConfig) (PacketIO, error) {
	nf, err := nfqueue.Open(&nfqueue.Config{
		NfQueue:      cfg.QueueNum,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  cfg.QueueSize,
		Copymode:     nfqueue.NfQnlCopyPacket,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "open nfqueue %d", cfg.QueueNum)
	}
	if err := nf.Con.SetOption(netlink.NoENOBUFS, true); err != nil {
		nf.Close()
		return nil, errors.Wrap(err, errors.KindUnavailable, "set NoENOBUFS")
	}
	if cfg.ReadBuffer > 0 {
		if err := nf.Con.SetReadBuffer(cfg.ReadBuffer); err != nil {
			nf.Close()
			return nil, errors.Wrap(err, errors.KindUnavailable, "set read buffer")
		}
	}
	return &nfqueuePacketIO{
		nf:     nf,
		cfg:    cfg,
		logger: logging.WithComponent("nfqueue"),
	}, nil
}

func (n *nfqueuePacketIO) Register(ctx context.Context, cb PacketCallback) error {
	err := n.nf.RegisterWithErrorFunc(ctx,
		func(a nfqueue.Attribute) int {
			if a.PacketID == nil || a.Payload == nil {
				return 0
			}
			p := &nfqueuePacket{
				id:       *a.PacketID,
				streamID: StreamID(*a.Payload),
				data:     *a.Payload,
			}
			cb(p, nil)
			return 0
		},
		func(err error) int {
			n.logger.Error("netlink receive", "error", err)
			if cb(nil, err) {
				return 0
			}
			return 1
		})
	return errors.Wrap(err, errors.KindUnavailable, "register nfqueue callback")
}

func (n *nfqueuePacketIO) SetVerdict(p Packet, v Verdict, modified []byte) error {
	pkt, ok := p.(*nfqueuePacket)
	if !ok {
		return errors.Errorf(errors.KindInternal, "foreign packet type %T", p)
	}
	var err error
	switch v {
	case VerdictAccept:
		err = n.nf.SetVerdict(pkt.id, nfqueue.NfAccept)
	case VerdictAcceptModify:
		err = n.nf.SetVerdictModPacket(pkt.id, nfqueue.NfAccept, modified)
	case VerdictAcceptStream:
		err = n.nf.SetVerdictWithMark(pkt.id, nfqueue.NfAccept, n.cfg.AcceptMark)
	case VerdictDrop:
		err = n.nf.SetVerdict(pkt.id, nfqueue.NfDrop)
	case VerdictDropStream:
		err = n.nf.SetVerdictWithMark(pkt.id, nfqueue.NfDrop, n.cfg.DropMark)
	default:
		return errors.Errorf(errors.KindInternal, "unknown verdict %d", v)
	}
	return errors.Wrapf(err, errors.KindUnavailable, "set verdict %s", v)
}

func (n *nfqueuePacketIO) Close() error {
	return n.nf.Close()
}
