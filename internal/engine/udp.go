// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"sync"

	"grimm.is/glasswall/internal/analyzer"
	"grimm.is/glasswall/internal/metrics"
	"grimm.is/glasswall/internal/ruleset"
)

type udpStreamFactory struct {
	workerID int
	logger   Logger
	metrics  *metrics.Registry

	mu      sync.RWMutex
	ruleset ruleset.Ruleset
}

func newUDPStreamFactory(workerID int, logger Logger, m *metrics.Registry, rs ruleset.Ruleset) *udpStreamFactory {
	return &udpStreamFactory{workerID: workerID, logger: logger, metrics: m, ruleset: rs}
}

// UpdateRuleset installs a new ruleset for flows created from now on.
func (f *udpStreamFactory) UpdateRuleset(r ruleset.Ruleset) {
	f.mu.Lock()
	f.ruleset = r
	f.mu.Unlock()
}

// New builds the per-conversation context: one stream per UDP analyzer the
// active ruleset requires.
func (f *udpStreamFactory) New(info ruleset.StreamInfo) *udpStream {
	f.mu.RLock()
	rs := f.ruleset
	f.mu.RUnlock()

	if info.Props == nil {
		info.Props = analyzer.CombinedPropMap{}
	}
	s := &udpStream{
		info:    info,
		virgin:  true,
		ruleset: rs,
		logger:  f.logger,
		metrics: f.metrics,
	}
	for _, a := range rs.Analyzers() {
		udpA, ok := a.(analyzer.UDPAnalyzer)
		if !ok {
			continue
		}
		s.entries = append(s.entries, &udpStreamEntry{
			name: a.Name(),
			stream: udpA.NewUDP(analyzer.UDPInfo{
				SrcIP:   info.SrcIP,
				DstIP:   info.DstIP,
				SrcPort: info.SrcPort,
				DstPort: info.DstPort,
			}, &analyzerLogger{id: info.ID, name: a.Name(), logger: f.logger}),
			quota:    a.Limit(),
			hasLimit: a.Limit() > 0,
		})
	}
	f.logger.UDPStreamNew(f.workerID, &s.info)
	return s
}

type udpStreamEntry struct {
	name     string
	stream   analyzer.UDPStream
	quota    int
	hasLimit bool
}

type udpStream struct {
	info    ruleset.StreamInfo
	virgin  bool
	ruleset ruleset.Ruleset
	logger  Logger
	metrics *metrics.Registry
	entries []*udpStreamEntry
}

// Feed hands one datagram to every live analyzer.
func (s *udpStream) Feed(rev bool, data []byte) (updated bool) {
	i := 0
	for i < len(s.entries) {
		e := s.entries[i]
		u, done := e.stream.Feed(rev, data)
		if u != nil && u.Type != analyzer.PropUpdateNone {
			s.info.Props.Apply(e.name, u)
			updated = true
			if s.metrics != nil {
				s.metrics.AnalyzerUpdates.WithLabelValues(e.name).Inc()
			}
			s.logger.UDPStreamPropUpdate(&s.info, false)
		}
		limited := false
		if e.hasLimit {
			e.quota -= len(data)
			if e.quota <= 0 {
				limited = true
			}
		}
		if done || limited {
			if !done {
				if cu := e.stream.Close(true); cu != nil && cu.Type != analyzer.PropUpdateNone {
					s.info.Props.Apply(e.name, cu)
					updated = true
					s.logger.UDPStreamPropUpdate(&s.info, true)
				}
			}
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			continue
		}
		i++
	}
	return updated
}

// Match evaluates the flow's captured ruleset against its properties.
func (s *udpStream) Match() ruleset.MatchResult {
	s.virgin = false
	return s.ruleset.Match(&s.info)
}

// Close tears down every remaining analyzer.
func (s *udpStream) Close(limited bool) {
	for _, e := range s.entries {
		if cu := e.stream.Close(limited); cu != nil && cu.Type != analyzer.PropUpdateNone {
			s.info.Props.Apply(e.name, cu)
			s.logger.UDPStreamPropUpdate(&s.info, true)
		}
	}
	s.entries = nil
}
