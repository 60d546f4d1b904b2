// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"container/list"
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/glasswall/internal/errors"
	"grimm.is/glasswall/internal/io"
	"grimm.is/glasswall/internal/logging"
	"grimm.is/glasswall/internal/metrics"
	"grimm.is/glasswall/internal/modifier"
	"grimm.is/glasswall/internal/ruleset"
)

// streamIDCounter hands out dense, monotonic stream ids process-wide.
var streamIDCounter atomic.Int64

var decodeOpts = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

type workerConfig struct {
	id               int
	logger           Logger
	io               io.PacketIO
	metrics          *metrics.Registry
	ruleset          ruleset.Ruleset
	queueSize        int
	tcpTimeout       time.Duration
	tcpMaxBuffered   int
	tcpTotalBuffered int
	udpMaxStreams    int
}

type tcpFlow struct {
	stream   *tcpStream
	lastSeen time.Time
	fed      int
	decided  bool
	verdict  io.Verdict
}

type udpFlow struct {
	key     uint32
	stream  *udpStream
	decided bool
	verdict io.Verdict
	// mod keeps rewriting subsequent packets once a modify rule matched.
	mod modifier.Instance
}

// worker owns a shard of the flow space. Everything it touches is
// worker-local; packets of one flow are serialized here by the stream-id
// routing in the engine.
type worker struct {
	cfg     workerConfig
	label   string
	log     *logging.Logger
	packets chan io.Packet

	tcpFactory *tcpStreamFactory
	udpFactory *udpStreamFactory

	tcpFlows    map[uint32]*tcpFlow
	tcpBuffered int
	udpFlows    map[uint32]*list.Element
	udpLRU      *list.List
}

func newWorker(cfg workerConfig) *worker {
	return &worker{
		cfg:        cfg,
		label:      strconv.Itoa(cfg.id),
		log:        logging.WithComponent("worker").With("id", cfg.id),
		packets:    make(chan io.Packet, cfg.queueSize),
		tcpFactory: newTCPStreamFactory(cfg.id, cfg.logger, cfg.metrics, cfg.ruleset),
		udpFactory: newUDPStreamFactory(cfg.id, cfg.logger, cfg.metrics, cfg.ruleset),
		tcpFlows:   make(map[uint32]*tcpFlow),
		udpFlows:   make(map[uint32]*list.Element),
		udpLRU:     list.New(),
	}
}

func (w *worker) UpdateRuleset(r ruleset.Ruleset) {
	w.tcpFactory.UpdateRuleset(r)
	w.udpFactory.UpdateRuleset(r)
}

// Feed enqueues one packet. A full queue fails open: the packet is
// accepted unseen and false is returned as the backpressure hint.
func (w *worker) Feed(p io.Packet) bool {
	select {
	case w.packets <- p:
		return true
	default:
		if w.cfg.metrics != nil {
			w.cfg.metrics.QueueDrops.WithLabelValues(w.label).Inc()
		}
		if err := w.cfg.io.SetVerdict(p, io.VerdictAccept, nil); err != nil {
			w.log.Error("verdict on overflow", "error", err)
		}
		return false
	}
}

func (w *worker) Run(ctx context.Context) {
	w.cfg.logger.WorkerStart(w.cfg.id)
	defer w.cfg.logger.WorkerStop(w.cfg.id)

	interval := w.cfg.tcpTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.teardown()
			return
		case p := <-w.packets:
			verdict, modified := w.handle(p)
			if err := w.cfg.io.SetVerdict(p, verdict, modified); err != nil {
				w.log.Error("set verdict", "verdict", verdict.String(), "error", err)
			}
			if w.cfg.metrics != nil {
				w.cfg.metrics.PacketsProcessed.WithLabelValues(w.label).Inc()
				w.cfg.metrics.Verdicts.WithLabelValues(verdict.String()).Inc()
			}
		case <-ticker.C:
			w.evictIdle(time.Now())
		}
	}
}

// handle decides one packet's verdict.
func (w *worker) handle(p io.Packet) (io.Verdict, []byte) {
	data := p.Data()
	if len(data) == 0 {
		return io.VerdictAccept, nil
	}

	var packet gopacket.Packet
	switch data[0] >> 4 {
	case 4:
		packet = gopacket.NewPacket(data, layers.LayerTypeIPv4, decodeOpts)
	case 6:
		packet = gopacket.NewPacket(data, layers.LayerTypeIPv6, decodeOpts)
	default:
		// Not IP; nothing to inspect.
		return io.VerdictAcceptStream, nil
	}

	var srcIP, dstIP net.IP
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	case *layers.IPv6:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	default:
		return io.VerdictAccept, nil
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		return w.handleTCP(p.StreamID(), srcIP, dstIP, l.(*layers.TCP)), nil
	}
	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		return w.handleUDP(p.StreamID(), packet, srcIP, dstIP, l.(*layers.UDP))
	}
	return io.VerdictAcceptStream, nil
}

func (w *worker) handleTCP(key uint32, srcIP, dstIP net.IP, tcp *layers.TCP) io.Verdict {
	flow, ok := w.tcpFlows[key]
	if !ok {
		info := ruleset.StreamInfo{
			ID:       streamIDCounter.Add(1),
			Protocol: ruleset.ProtocolTCP,
			SrcIP:    copyIP(srcIP),
			DstIP:    copyIP(dstIP),
			SrcPort:  uint16(tcp.SrcPort),
			DstPort:  uint16(tcp.DstPort),
		}
		flow = &tcpFlow{stream: w.tcpFactory.New(info)}
		w.tcpFlows[key] = flow
		if w.cfg.metrics != nil {
			w.cfg.metrics.ActiveFlows.WithLabelValues("tcp").Inc()
		}
	}
	flow.lastSeen = time.Now()
	if flow.decided {
		return flow.verdict
	}

	rev := !(srcIP.Equal(flow.stream.info.SrcIP) && uint16(tcp.SrcPort) == flow.stream.info.SrcPort)
	payload := tcp.Payload
	flow.fed += len(payload)
	w.tcpBuffered += len(payload)
	updated := flow.stream.Feed(rev, tcp.SYN, tcp.FIN || tcp.RST, 0, payload)

	if w.cfg.tcpMaxBuffered > 0 && flow.fed > w.cfg.tcpMaxBuffered {
		// Per-flow buffer budget exhausted: close limited, stop inspecting.
		w.decideTCP(flow, io.VerdictAcceptStream, true)
		w.cfg.logger.TCPStreamAction(&flow.stream.info, ruleset.ActionMaybe, true)
		return flow.verdict
	}
	w.enforceTCPBufferBudget(flow)
	if flow.decided {
		return flow.verdict
	}

	if !updated && !flow.stream.virgin {
		return io.VerdictAccept
	}

	result := w.match(flow.stream.Match)
	switch result.Action {
	case ruleset.ActionMaybe:
		return io.VerdictAccept
	case ruleset.ActionAllow:
		w.decideTCP(flow, io.VerdictAcceptStream, false)
	case ruleset.ActionBlock, ruleset.ActionDrop:
		w.decideTCP(flow, io.VerdictDropStream, false)
	case ruleset.ActionModify:
		// TCP payload rewriting would desynchronize sequence numbers;
		// not supported on this transport.
		w.cfg.logger.ModifyError(&flow.stream.info, errors.New(errors.KindInternal, "modify is not supported for TCP flows"))
		return io.VerdictAccept
	}
	w.cfg.logger.TCPStreamAction(&flow.stream.info, result.Action, false)
	return flow.verdict
}

// decideTCP finalizes a flow: analyzers close, the verdict sticks, and the
// flow's bytes stop counting against the pool budget.
func (w *worker) decideTCP(flow *tcpFlow, verdict io.Verdict, limited bool) {
	flow.stream.Close(limited)
	flow.decided = true
	flow.verdict = verdict
	w.tcpBuffered -= flow.fed
	flow.fed = 0
}

// enforceTCPBufferBudget keeps the worker's share of the pool-wide buffer
// bound by closing the stalest undecided flows with limited=true.
func (w *worker) enforceTCPBufferBudget(current *tcpFlow) {
	if w.cfg.tcpTotalBuffered <= 0 {
		return
	}
	for w.tcpBuffered > w.cfg.tcpTotalBuffered {
		var oldest *tcpFlow
		for _, f := range w.tcpFlows {
			if f.decided || f == current {
				continue
			}
			if oldest == nil || f.lastSeen.Before(oldest.lastSeen) {
				oldest = f
			}
		}
		if oldest == nil {
			oldest = current
		}
		w.decideTCP(oldest, io.VerdictAcceptStream, true)
		w.cfg.logger.TCPStreamAction(&oldest.stream.info, ruleset.ActionMaybe, true)
		if oldest == current {
			return
		}
	}
}

func (w *worker) handleUDP(key uint32, packet gopacket.Packet, srcIP, dstIP net.IP, udp *layers.UDP) (io.Verdict, []byte) {
	var flow *udpFlow
	if elem, ok := w.udpFlows[key]; ok {
		flow = elem.Value.(*udpFlow)
		w.udpLRU.MoveToBack(elem)
	} else {
		if w.udpLRU.Len() >= w.cfg.udpMaxStreams {
			w.evictOldestUDP()
		}
		info := ruleset.StreamInfo{
			ID:       streamIDCounter.Add(1),
			Protocol: ruleset.ProtocolUDP,
			SrcIP:    copyIP(srcIP),
			DstIP:    copyIP(dstIP),
			SrcPort:  uint16(udp.SrcPort),
			DstPort:  uint16(udp.DstPort),
		}
		flow = &udpFlow{key: key, stream: w.udpFactory.New(info)}
		w.udpFlows[key] = w.udpLRU.PushBack(flow)
		if w.cfg.metrics != nil {
			w.cfg.metrics.ActiveFlows.WithLabelValues("udp").Inc()
		}
	}
	if flow.decided {
		return flow.verdict, nil
	}

	rev := !(srcIP.Equal(flow.stream.info.SrcIP) && uint16(udp.SrcPort) == flow.stream.info.SrcPort)
	updated := flow.stream.Feed(rev, udp.Payload)

	if !updated && !flow.stream.virgin {
		if flow.mod != nil {
			return w.modifyUDP(flow, packet, udp, flow.mod)
		}
		return io.VerdictAccept, nil
	}

	result := w.match(flow.stream.Match)
	switch result.Action {
	case ruleset.ActionMaybe:
		return io.VerdictAccept, nil
	case ruleset.ActionAllow:
		flow.decided = true
		flow.verdict = io.VerdictAcceptStream
	case ruleset.ActionBlock, ruleset.ActionDrop:
		flow.decided = true
		flow.verdict = io.VerdictDropStream
	case ruleset.ActionModify:
		if result.ModInstance == nil {
			w.cfg.logger.ModifyError(&flow.stream.info, errors.New(errors.KindInternal, "modify rule without modifier instance"))
			return io.VerdictAccept, nil
		}
		flow.mod = result.ModInstance
		w.cfg.logger.UDPStreamAction(&flow.stream.info, result.Action, false)
		return w.modifyUDP(flow, packet, udp, result.ModInstance)
	}
	flow.stream.Close(false)
	w.cfg.logger.UDPStreamAction(&flow.stream.info, result.Action, false)
	return flow.verdict, nil
}

// modifyUDP rewrites one datagram with the flow's modifier and rebuilds
// the packet around it. Failures fall back to accepting unmodified.
func (w *worker) modifyUDP(flow *udpFlow, packet gopacket.Packet, udp *layers.UDP, inst modifier.Instance) (io.Verdict, []byte) {
	modified, err := inst.Process(udp.Payload)
	if err != nil {
		w.cfg.logger.ModifyError(&flow.stream.info, err)
		return io.VerdictAccept, nil
	}
	rebuilt, err := rebuildUDPPacket(packet, udp, modified)
	if err != nil {
		w.cfg.logger.ModifyError(&flow.stream.info, err)
		return io.VerdictAccept, nil
	}
	return io.VerdictAcceptModify, rebuilt
}

// match runs a ruleset evaluation under the latency histogram.
func (w *worker) match(fn func() ruleset.MatchResult) ruleset.MatchResult {
	if w.cfg.metrics == nil {
		return fn()
	}
	start := time.Now()
	result := fn()
	w.cfg.metrics.MatchDuration.Observe(time.Since(start).Seconds())
	return result
}

// evictIdle closes TCP flows idle past the timeout.
func (w *worker) evictIdle(now time.Time) {
	for key, flow := range w.tcpFlows {
		if now.Sub(flow.lastSeen) <= w.cfg.tcpTimeout {
			continue
		}
		flow.stream.Close(false)
		w.tcpBuffered -= flow.fed
		delete(w.tcpFlows, key)
		if w.cfg.metrics != nil {
			w.cfg.metrics.ActiveFlows.WithLabelValues("tcp").Dec()
		}
	}
}

// evictOldestUDP drops the least-recently-seen UDP conversation.
func (w *worker) evictOldestUDP() {
	front := w.udpLRU.Front()
	if front == nil {
		return
	}
	flow := front.Value.(*udpFlow)
	flow.stream.Close(false)
	w.udpLRU.Remove(front)
	delete(w.udpFlows, flow.key)
	if w.cfg.metrics != nil {
		w.cfg.metrics.ActiveFlows.WithLabelValues("udp").Dec()
	}
}

// teardown closes every live flow on shutdown.
func (w *worker) teardown() {
	for key, flow := range w.tcpFlows {
		flow.stream.Close(false)
		delete(w.tcpFlows, key)
	}
	w.tcpBuffered = 0
	for key, elem := range w.udpFlows {
		elem.Value.(*udpFlow).stream.Close(false)
		delete(w.udpFlows, key)
	}
	w.udpLRU.Init()
	if w.cfg.metrics != nil {
		w.cfg.metrics.ActiveFlows.WithLabelValues("tcp").Set(0)
		w.cfg.metrics.ActiveFlows.WithLabelValues("udp").Set(0)
	}
}

func rebuildUDPPacket(packet gopacket.Packet, udp *layers.UDP, payload []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "udp checksum layer")
		}
		if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "serialize modified packet")
		}
	case *layers.IPv6:
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "udp checksum layer")
		}
		if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "serialize modified packet")
		}
	default:
		return nil, errors.New(errors.KindInternal, "packet without network layer")
	}
	return buf.Bytes(), nil
}

func copyIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}
