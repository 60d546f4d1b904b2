// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcp

import (
	"github.com/dreadl0ck/ja3"
	"github.com/dreadl0ck/tlsx"

	"grimm.is/glasswall/internal/analyzer"
	"grimm.is/glasswall/internal/analyzer/utils"
)

const tlsRecordHeaderLen = 5

// TLSAnalyzer extracts ClientHello and ServerHello metadata (SNI, JA3/JA3S
// fingerprints, negotiated version and cipher) from a TLS handshake.
type TLSAnalyzer struct{}

func (a *TLSAnalyzer) Name() string {
	return "tls"
}

func (a *TLSAnalyzer) Limit() int {
	return 8192
}

func (a *TLSAnalyzer) NewTCP(info analyzer.TCPInfo, logger analyzer.Logger) analyzer.TCPStream {
	s := &tlsStream{logger: logger}
	s.req.lsm = utils.NewLineStateMachine(readRecordHeader, parseClientHello)
	s.resp.lsm = utils.NewLineStateMachine(readRecordHeader, parseServerHello)
	return s
}

type tlsHalf struct {
	buf     utils.ByteBuffer
	m       analyzer.PropMap
	updated bool
	lsm     *utils.LineStateMachine
	done    bool
	msgLen  int
}

type tlsStream struct {
	logger analyzer.Logger
	req    tlsHalf
	resp   tlsHalf
}

func (s *tlsStream) Feed(rev, start, end bool, skip int, data []byte) (*analyzer.PropUpdate, bool) {
	half, key := &s.req, "req"
	if rev {
		half, key = &s.resp, "resp"
	}
	if skip != 0 {
		half.done = true
		return nil, s.req.done && s.resp.done
	}
	if len(data) == 0 {
		return nil, s.req.done && s.resp.done
	}

	half.buf.Append(data)
	half.updated = false
	ctx := &utils.LSMContext{
		Buf:     &half.buf,
		Map:     &half.m,
		Updated: &half.updated,
		Done:    &half.done,
		MsgLen:  &half.msgLen,
	}
	_, done := half.lsm.Run(ctx)
	half.done = done

	var u *analyzer.PropUpdate
	if half.updated {
		u = &analyzer.PropUpdate{
			Type: analyzer.PropUpdateMerge,
			M:    analyzer.PropMap{key: half.m},
		}
	}
	return u, s.req.done && s.resp.done
}

func (s *tlsStream) Close(limited bool) *analyzer.PropUpdate {
	s.req.buf.Reset()
	s.resp.buf.Reset()
	s.req.m = nil
	s.resp.m = nil
	return nil
}

// readRecordHeader peeks the 5-octet record header and stores the full
// record length. The record stays buffered for the hello parser.
func readRecordHeader(ctx *utils.LSMContext) utils.LSMAction {
	hdr, ok := ctx.Buf.Get(tlsRecordHeaderLen, false)
	if !ok {
		return utils.LSMActionPause
	}
	// Handshake record, TLS 1.0-1.3 record version.
	if hdr[0] != 0x16 || hdr[1] != 0x03 || hdr[2] > 0x04 {
		return utils.LSMActionCancel
	}
	*ctx.MsgLen = tlsRecordHeaderLen + int(hdr[3])<<8 + int(hdr[4])
	return utils.LSMActionNext
}

func parseClientHello(ctx *utils.LSMContext) utils.LSMAction {
	record, ok := ctx.Buf.Get(*ctx.MsgLen, true)
	if !ok {
		return utils.LSMActionPause
	}
	hello := tlsx.ClientHelloBasic{}
	if err := hello.Unmarshal(record); err != nil {
		return utils.LSMActionCancel
	}
	*ctx.Map = analyzer.PropMap{
		"sni":     hello.SNI,
		"ja3":     ja3.DigestHex(&hello),
		"version": int(hello.HandshakeVersion),
	}
	*ctx.Updated = true
	return utils.LSMActionNext
}

func parseServerHello(ctx *utils.LSMContext) utils.LSMAction {
	record, ok := ctx.Buf.Get(*ctx.MsgLen, true)
	if !ok {
		return utils.LSMActionPause
	}
	hello := tlsx.ServerHelloBasic{}
	if err := hello.Unmarshal(record); err != nil {
		return utils.LSMActionCancel
	}
	*ctx.Map = analyzer.PropMap{
		"ja3s":    ja3.DigestHexJa3s(&hello),
		"version": int(hello.Vers),
		"cipher":  int(hello.CipherSuite),
	}
	*ctx.Updated = true
	return utils.LSMActionNext
}
