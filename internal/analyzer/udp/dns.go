// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package udp

import (
	"github.com/miekg/dns"

	"grimm.is/glasswall/internal/analyzer"
	"grimm.is/glasswall/internal/analyzer/utils"
)

// DNSAnalyzer parses DNS messages on both transports: length-prefixed over
// TCP, packet-framed over UDP.
type DNSAnalyzer struct{}

func (a *DNSAnalyzer) Name() string {
	return "dns"
}

func (a *DNSAnalyzer) Limit() int {
	return 0
}

func (a *DNSAnalyzer) NewTCP(info analyzer.TCPInfo, logger analyzer.Logger) analyzer.TCPStream {
	s := &dnsTCPStream{logger: logger}
	s.req.lsm = utils.NewLineStateMachine(readMessageLen, parseTCPMessage)
	s.resp.lsm = utils.NewLineStateMachine(readMessageLen, parseTCPMessage)
	return s
}

func (a *DNSAnalyzer) NewUDP(info analyzer.UDPInfo, logger analyzer.Logger) analyzer.UDPStream {
	return &dnsUDPStream{logger: logger}
}

type dnsHalf struct {
	buf     utils.ByteBuffer
	m       analyzer.PropMap
	updated bool
	lsm     *utils.LineStateMachine
	done    bool
	msgLen  int
}

type dnsTCPStream struct {
	logger analyzer.Logger
	req    dnsHalf
	resp   dnsHalf
}

func (s *dnsTCPStream) Feed(rev, start, end bool, skip int, data []byte) (*analyzer.PropUpdate, bool) {
	half := &s.req
	if rev {
		half = &s.resp
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
		u = &analyzer.PropUpdate{Type: analyzer.PropUpdateReplace, M: half.m}
	}
	return u, s.req.done && s.resp.done
}

func (s *dnsTCPStream) Close(limited bool) *analyzer.PropUpdate {
	s.req.buf.Reset()
	s.resp.buf.Reset()
	s.req.m = nil
	s.resp.m = nil
	return nil
}

// readMessageLen consumes the big-endian two-octet length prefix. Request
// and response lengths are tracked independently per direction.
func readMessageLen(ctx *utils.LSMContext) utils.LSMAction {
	v, ok := ctx.Buf.GetUint16(false, true)
	if !ok {
		return utils.LSMActionPause
	}
	*ctx.MsgLen = int(v)
	return utils.LSMActionNext
}

// parseTCPMessage takes exactly the prefixed length and parses it. On
// success the machine resets to accept further messages on the same
// connection; a malformed message cancels the direction.
func parseTCPMessage(ctx *utils.LSMContext) utils.LSMAction {
	data, ok := ctx.Buf.Get(*ctx.MsgLen, true)
	if !ok {
		return utils.LSMActionPause
	}
	m, ok := parseDNSMessage(data)
	if !ok {
		return utils.LSMActionCancel
	}
	*ctx.Map = m
	*ctx.Updated = true
	return utils.LSMActionReset
}

type dnsUDPStream struct {
	logger analyzer.Logger
	m      analyzer.PropMap
}

func (s *dnsUDPStream) Feed(rev bool, data []byte) (*analyzer.PropUpdate, bool) {
	if len(data) == 0 {
		return nil, false
	}
	m, ok := parseDNSMessage(data)
	if !ok {
		return nil, false
	}
	s.m = m
	return &analyzer.PropUpdate{Type: analyzer.PropUpdateReplace, M: m}, false
}

func (s *dnsUDPStream) Close(limited bool) *analyzer.PropUpdate {
	s.m = nil
	return nil
}

// dnsOpcodeNames matches the presentation the rule language documents.
var dnsOpcodeNames = map[int]string{
	dns.OpcodeQuery:  "Query",
	dns.OpcodeIQuery: "IQuery",
	dns.OpcodeStatus: "Status",
	dns.OpcodeNotify: "Notify",
	dns.OpcodeUpdate: "Update",
}

func parseDNSMessage(data []byte) (analyzer.PropMap, bool) {
	var msg dns.Msg
	if err := msg.Unpack(data); err != nil {
		return nil, false
	}
	m := analyzer.PropMap{
		"id":     int(msg.Id),
		"qr":     msg.Response,
		"opcode": dnsOpcodeNames[msg.Opcode],
		"aa":     msg.Authoritative,
		"tc":     msg.Truncated,
		"rd":     msg.RecursionDesired,
		"ra":     msg.RecursionAvailable,
		"rcode":  dns.RcodeToString[msg.Rcode],
	}
	if len(msg.Question) > 0 {
		questions := make([]any, 0, len(msg.Question))
		for _, q := range msg.Question {
			questions = append(questions, analyzer.PropMap{
				"name":  q.Name,
				"type":  dns.TypeToString[q.Qtype],
				"class": dns.ClassToString[q.Qclass],
			})
		}
		m["questions"] = questions
	}
	if len(msg.Answer) > 0 {
		m["answers"] = rrsToProps(msg.Answer)
	}
	if len(msg.Extra) > 0 {
		m["additionals"] = rrsToProps(msg.Extra)
	}
	return m, true
}

func rrsToProps(rrs []dns.RR) []any {
	out := make([]any, 0, len(rrs))
	for _, rr := range rrs {
		hdr := rr.Header()
		m := analyzer.PropMap{
			"name":  hdr.Name,
			"type":  dns.TypeToString[hdr.Rrtype],
			"class": dns.ClassToString[hdr.Class],
			"ttl":   int(hdr.Ttl),
		}
		switch rr := rr.(type) {
		case *dns.A:
			m["address"] = rr.A.String()
		case *dns.AAAA:
			m["address"] = rr.AAAA.String()
		case *dns.NS:
			m["ns"] = rr.Ns
		case *dns.CNAME:
			m["cname"] = rr.Target
		case *dns.PTR:
			m["ptr"] = rr.Ptr
		case *dns.TXT:
			if len(rr.Txt) > 0 {
				m["txt"] = rr.Txt[0]
			}
		case *dns.MX:
			m["exchange"] = rr.Mx
		}
		out = append(out, m)
	}
	return out
}
