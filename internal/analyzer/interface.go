// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package analyzer

import (
	"net"
	"strings"
)

// Analyzer is the common contract of every protocol analyzer.
type Analyzer interface {
	// Name is the key the analyzer's properties appear under in the
	// combined property map, and the identifier rules reference it by.
	Name() string
	// Limit is the maximum number of flow octets to feed before the
	// stream is closed with limited=true. Zero means unbounded.
	Limit() int
}

// Logger receives per-stream diagnostics from analyzers.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// TCPInfo describes the TCP flow an analyzer stream is attached to.
type TCPInfo struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
}

// TCPAnalyzer constructs per-flow TCP streams.
type TCPAnalyzer interface {
	Analyzer
	NewTCP(info TCPInfo, logger Logger) TCPStream
}

// TCPStream consumes the reassembled byte stream of one TCP flow.
type TCPStream interface {
	// Feed delivers one directional chunk. rev=false is client to server.
	// start and end mark stream endpoints. A non-zero skip poisons the
	// direction's parser. done reports that the stream wants no more data
	// in either direction and may be retired.
	Feed(rev, start, end bool, skip int, data []byte) (u *PropUpdate, done bool)
	// Close finalizes the stream. limited=true means the byte budget ran
	// out. Any terminal property update is returned here.
	Close(limited bool) *PropUpdate
}

// UDPInfo describes the UDP conversation an analyzer stream is attached to.
type UDPInfo struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
}

// UDPAnalyzer constructs per-flow UDP streams.
type UDPAnalyzer interface {
	Analyzer
	NewUDP(info UDPInfo, logger Logger) UDPStream
}

// UDPStream consumes the datagrams of one UDP conversation. Packet-framed;
// there are no start/end markers.
type UDPStream interface {
	Feed(rev bool, data []byte) (u *PropUpdate, done bool)
	Close(limited bool) *PropUpdate
}

// PropMap is a JSON-shaped property tree extracted by an analyzer. A nil
// map is the absent tree.
type PropMap = map[string]any

// PropMapGet resolves a dotted key path against a tree, returning ok=false
// at the first missing segment.
func PropMapGet(m PropMap, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	var cur any = m
	for _, seg := range strings.Split(path, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// PropUpdateType distinguishes how an update applies to the existing tree.
type PropUpdateType int

const (
	// PropUpdateNone is a no-op. It is a distinct kind so callers cannot
	// confuse "no update" with an explicit clear.
	PropUpdateNone PropUpdateType = iota
	// PropUpdateMerge overlays the payload's top-level keys over the tree.
	PropUpdateMerge
	// PropUpdateReplace substitutes the whole tree.
	PropUpdateReplace
	// PropUpdateDelete clears the tree.
	PropUpdateDelete
)

// PropUpdate is a single property update emitted by a stream. At most one
// is emitted per Feed or Close invocation.
type PropUpdate struct {
	Type PropUpdateType
	M    PropMap
}

// CombinedPropMap is the per-flow view of every analyzer's current tree,
// keyed by analyzer name.
type CombinedPropMap map[string]PropMap

// Get looks up an analyzer's tree and walks the dotted key within it.
func (cpm CombinedPropMap) Get(an, key string) (any, bool) {
	m, ok := cpm[an]
	if !ok {
		return nil, false
	}
	return PropMapGet(m, key)
}

// Apply folds one analyzer's update into the combined map.
func (cpm CombinedPropMap) Apply(an string, u *PropUpdate) {
	if u == nil {
		return
	}
	switch u.Type {
	case PropUpdateNone:
	case PropUpdateMerge:
		m := cpm[an]
		if m == nil {
			m = make(PropMap, len(u.M))
			cpm[an] = m
		}
		for k, v := range u.M {
			m[k] = v
		}
	case PropUpdateReplace:
		cpm[an] = u.M
	case PropUpdateDelete:
		delete(cpm, an)
	}
}
