// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/miekg/dns"

	"grimm.is/glasswall/internal/analyzer"
	analyzertcp "grimm.is/glasswall/internal/analyzer/tcp"
	analyzerudp "grimm.is/glasswall/internal/analyzer/udp"
	"grimm.is/glasswall/internal/io"
	"grimm.is/glasswall/internal/modifier"
	"grimm.is/glasswall/internal/ruleset"
)

type fakePacket struct {
	streamID uint32
	data     []byte
}

func (p *fakePacket) StreamID() uint32 { return p.streamID }
func (p *fakePacket) Data() []byte     { return p.data }

type fakeIO struct {
	verdicts []io.Verdict
}

func (f *fakeIO) Register(ctx context.Context, cb io.PacketCallback) error { return nil }
func (f *fakeIO) SetVerdict(p io.Packet, v io.Verdict, modified []byte) error {
	f.verdicts = append(f.verdicts, v)
	return nil
}
func (f *fakeIO) Close() error { return nil }

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func tcpPacket(t *testing.T, srcIP, dstIP net.IP, srcPort, dstPort uint16, syn bool, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: srcIP, DstIP: dstIP}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: syn}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	if len(payload) > 0 {
		return serialize(t, ip, tcp, gopacket.Payload(payload))
	}
	return serialize(t, ip, tcp)
}

func udpPacket(t *testing.T, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: srcIP, DstIP: dstIP}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, ip, udp, gopacket.Payload(payload))
}

func compileRules(t *testing.T, rules []ruleset.ExprRule, analyzers []analyzer.Analyzer, mods []modifier.Modifier) ruleset.Ruleset {
	t.Helper()
	rs, err := ruleset.CompileExprRules(rules, &ruleset.CompileOptions{Analyzers: analyzers, Modifiers: mods})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return rs
}

func newTestWorker(t *testing.T, rs ruleset.Ruleset, udpMax int) *worker {
	t.Helper()
	return newWorker(workerConfig{
		id:             0,
		logger:         nopLogger{},
		io:             &fakeIO{},
		ruleset:        rs,
		queueSize:      8,
		tcpTimeout:     time.Minute,
		tcpMaxBuffered: 1 << 20,
		udpMaxStreams:  udpMax,
	})
}

var (
	clientIP = net.IP{10, 0, 0, 2}
	serverIP = net.IP{93, 184, 216, 34}
)

func TestWorkerBlocksHTTPFlow(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "block-http", Action: "block", Expr: "http != null"},
	}, []analyzer.Analyzer{&analyzertcp.HTTPAnalyzer{}}, nil)
	w := newTestWorker(t, rs, 16)

	syn := tcpPacket(t, clientIP, serverIP, 43210, 80, true, nil)
	v, _ := w.handle(&fakePacket{streamID: 1, data: syn})
	if v != io.VerdictAccept {
		t.Errorf("SYN with no properties: expected accept, got %v", v)
	}

	req := tcpPacket(t, clientIP, serverIP, 43210, 80, false, []byte("GET / HTTP/1.1\r\n"))
	v, _ = w.handle(&fakePacket{streamID: 1, data: req})
	if v != io.VerdictDropStream {
		t.Errorf("expected drop_stream once http properties appear, got %v", v)
	}

	// The flow is decided; later packets short-circuit.
	more := tcpPacket(t, clientIP, serverIP, 43210, 80, false, []byte("Host: x\r\n\r\n"))
	v, _ = w.handle(&fakePacket{streamID: 1, data: more})
	if v != io.VerdictDropStream {
		t.Errorf("decided flow must keep its verdict, got %v", v)
	}
}

func TestWorkerAllowsNonMatchingFlow(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "block-ssh", Action: "block", Expr: "ssh != null"},
		{Name: "allow-http", Action: "allow", Expr: "http != null"},
	}, []analyzer.Analyzer{&analyzertcp.HTTPAnalyzer{}, &analyzertcp.SSHAnalyzer{}}, nil)
	w := newTestWorker(t, rs, 16)

	req := tcpPacket(t, clientIP, serverIP, 43210, 80, false, []byte("GET / HTTP/1.1\r\n"))
	v, _ := w.handle(&fakePacket{streamID: 2, data: req})
	if v != io.VerdictAcceptStream {
		t.Errorf("expected accept_stream for allowed flow, got %v", v)
	}
}

func TestWorkerPortRuleOnFirstPacket(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "no-telnet", Action: "drop", Expr: "port.dst == 23"},
	}, nil, nil)
	w := newTestWorker(t, rs, 16)

	syn := tcpPacket(t, clientIP, serverIP, 40000, 23, true, nil)
	v, _ := w.handle(&fakePacket{streamID: 3, data: syn})
	if v != io.VerdictDropStream {
		t.Errorf("port rule must fire on the first packet, got %v", v)
	}
}

func TestWorkerUDPDNSAllow(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "allow-dns", Action: "allow", Expr: `dns != null && dns.questions[0].name == "example.com."`},
	}, []analyzer.Analyzer{&analyzerudp.DNSAnalyzer{}}, nil)
	w := newTestWorker(t, rs, 16)

	var msg dns.Msg
	msg.SetQuestion("example.com.", dns.TypeA)
	payload, err := msg.Pack()
	if err != nil {
		t.Fatal(err)
	}
	pkt := udpPacket(t, clientIP, serverIP, 40000, 53, payload)
	v, _ := w.handle(&fakePacket{streamID: 4, data: pkt})
	if v != io.VerdictAcceptStream {
		t.Errorf("expected accept_stream for allowed dns flow, got %v", v)
	}
}

type rewriteModifier struct{}

func (m *rewriteModifier) Name() string { return "rewrite" }
func (m *rewriteModifier) New(args map[string]any) (modifier.Instance, error) {
	return rewriteInstance{}, nil
}

type rewriteInstance struct{}

func (rewriteInstance) Process(data []byte) ([]byte, error) { return []byte("MOD"), nil }

func TestWorkerUDPModify(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "rewrite-all", Action: "modify", Expr: "true",
			Modifier: &ruleset.ModifierEntry{Name: "rewrite"}},
	}, nil, []modifier.Modifier{&rewriteModifier{}})
	w := newTestWorker(t, rs, 16)

	pkt := udpPacket(t, clientIP, serverIP, 40000, 53, []byte("original"))
	v, modified := w.handle(&fakePacket{streamID: 5, data: pkt})
	if v != io.VerdictAcceptModify {
		t.Fatalf("expected accept_modify, got %v", v)
	}
	parsed := gopacket.NewPacket(modified, layers.LayerTypeIPv4, gopacket.Default)
	udpLayer := parsed.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		t.Fatal("modified packet lost its UDP layer")
	}
	if string(udpLayer.(*layers.UDP).Payload) != "MOD" {
		t.Errorf("expected rewritten payload MOD, got %q", udpLayer.(*layers.UDP).Payload)
	}
}

func TestWorkerUDPLRUEviction(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "never", Action: "block", Expr: "false"},
	}, nil, nil)
	w := newTestWorker(t, rs, 2)

	for i := 0; i < 3; i++ {
		pkt := udpPacket(t, clientIP, serverIP, uint16(50000+i), 53, []byte("x"))
		w.handle(&fakePacket{streamID: uint32(10 + i), data: pkt})
	}
	if w.udpLRU.Len() != 2 {
		t.Errorf("expected 2 tracked conversations after eviction, got %d", w.udpLRU.Len())
	}
	if _, ok := w.udpFlows[10]; ok {
		t.Error("oldest conversation must have been evicted")
	}
}

func TestWorkerIdleEviction(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "never", Action: "block", Expr: "false"},
	}, nil, nil)
	w := newTestWorker(t, rs, 16)

	syn := tcpPacket(t, clientIP, serverIP, 40000, 80, true, nil)
	w.handle(&fakePacket{streamID: 20, data: syn})
	if len(w.tcpFlows) != 1 {
		t.Fatalf("expected one flow, got %d", len(w.tcpFlows))
	}

	w.evictIdle(time.Now().Add(2 * time.Minute))
	if len(w.tcpFlows) != 0 {
		t.Errorf("idle flow must be evicted, got %d", len(w.tcpFlows))
	}
}

func TestWorkerNonIPPacket(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "never", Action: "block", Expr: "false"},
	}, nil, nil)
	w := newTestWorker(t, rs, 16)

	v, _ := w.handle(&fakePacket{streamID: 30, data: []byte{0x10, 0x00}})
	if v != io.VerdictAcceptStream {
		t.Errorf("non-IP packets are not inspectable, expected accept_stream, got %v", v)
	}
}

func TestWorkerDirectionTracking(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "server-banner", Action: "block", Expr: `ssh != null && ssh.server.software == "OpenSSH_8.9"`},
	}, []analyzer.Analyzer{&analyzertcp.SSHAnalyzer{}}, nil)
	w := newTestWorker(t, rs, 16)

	syn := tcpPacket(t, clientIP, serverIP, 40000, 22, true, nil)
	w.handle(&fakePacket{streamID: 40, data: syn})

	// Server-to-client banner must land in the server tree.
	banner := tcpPacket(t, serverIP, clientIP, 22, 40000, false, []byte("SSH-2.0-OpenSSH_8.9\r\n"))
	v, _ := w.handle(&fakePacket{streamID: 40, data: banner})
	if v != io.VerdictDropStream {
		t.Errorf("expected drop_stream on server banner, got %v", v)
	}
}

func TestEngineNewValidation(t *testing.T) {
	rs := compileRules(t, []ruleset.ExprRule{
		{Name: "never", Action: "block", Expr: "false"},
	}, nil, nil)

	if _, err := New(Config{Ruleset: rs}); err == nil {
		t.Error("expected error without IO")
	}
	if _, err := New(Config{IO: &fakeIO{}}); err == nil {
		t.Error("expected error without ruleset")
	}
	e, err := New(Config{IO: &fakeIO{}, Ruleset: rs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.UpdateRuleset(nil); err == nil {
		t.Error("expected error for nil ruleset")
	}
	if err := e.UpdateRuleset(rs); err != nil {
		t.Errorf("UpdateRuleset: %v", err)
	}
}

func TestUpdateRulesetAffectsNewFlowsOnly(t *testing.T) {
	blockAll := compileRules(t, []ruleset.ExprRule{
		{Name: "block-all", Action: "block", Expr: "true"},
	}, nil, nil)
	allowAll := compileRules(t, []ruleset.ExprRule{
		{Name: "allow-all", Action: "allow", Expr: "true"},
	}, nil, nil)
	w := newTestWorker(t, blockAll, 16)

	syn := tcpPacket(t, clientIP, serverIP, 40000, 80, true, nil)
	v, _ := w.handle(&fakePacket{streamID: 50, data: syn})
	if v != io.VerdictDropStream {
		t.Fatalf("expected drop under block-all, got %v", v)
	}

	w.UpdateRuleset(allowAll)
	syn2 := tcpPacket(t, clientIP, serverIP, 40001, 80, true, nil)
	v, _ = w.handle(&fakePacket{streamID: 51, data: syn2})
	if v != io.VerdictAcceptStream {
		t.Errorf("new flow must see the new ruleset, got %v", v)
	}
}
