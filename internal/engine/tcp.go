// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"sync"

	"grimm.is/glasswall/internal/analyzer"
	"grimm.is/glasswall/internal/metrics"
	"grimm.is/glasswall/internal/ruleset"
)

// pageSize is the unit the buffered-pages limits are expressed in.
const pageSize = 4096

type tcpStreamFactory struct {
	workerID int
	logger   Logger
	metrics  *metrics.Registry

	mu      sync.RWMutex
	ruleset ruleset.Ruleset
}

func newTCPStreamFactory(workerID int, logger Logger, m *metrics.Registry, rs ruleset.Ruleset) *tcpStreamFactory {
	return &tcpStreamFactory{workerID: workerID, logger: logger, metrics: m, ruleset: rs}
}

// UpdateRuleset installs a new ruleset for flows created from now on.
func (f *tcpStreamFactory) UpdateRuleset(r ruleset.Ruleset) {
	f.mu.Lock()
	f.ruleset = r
	f.mu.Unlock()
}

// New builds the per-flow context: one stream per TCP analyzer the active
// ruleset requires.
func (f *tcpStreamFactory) New(info ruleset.StreamInfo) *tcpStream {
	f.mu.RLock()
	rs := f.ruleset
	f.mu.RUnlock()

	if info.Props == nil {
		info.Props = analyzer.CombinedPropMap{}
	}
	s := &tcpStream{
		info:    info,
		virgin:  true,
		ruleset: rs,
		logger:  f.logger,
		metrics: f.metrics,
	}
	for _, a := range rs.Analyzers() {
		tcpA, ok := a.(analyzer.TCPAnalyzer)
		if !ok {
			continue
		}
		s.entries = append(s.entries, &tcpStreamEntry{
			name: a.Name(),
			stream: tcpA.NewTCP(analyzer.TCPInfo{
				SrcIP:   info.SrcIP,
				DstIP:   info.DstIP,
				SrcPort: info.SrcPort,
				DstPort: info.DstPort,
			}, &analyzerLogger{id: info.ID, name: a.Name(), logger: f.logger}),
			quota:    a.Limit(),
			hasLimit: a.Limit() > 0,
		})
	}
	f.logger.TCPStreamNew(f.workerID, &s.info)
	return s
}

type tcpStreamEntry struct {
	name     string
	stream   analyzer.TCPStream
	quota    int
	hasLimit bool
}

type tcpStream struct {
	info    ruleset.StreamInfo
	virgin  bool
	ruleset ruleset.Ruleset
	logger  Logger
	metrics *metrics.Registry
	entries []*tcpStreamEntry
}

// Feed hands one directional chunk to every live analyzer, folding any
// property updates into the combined map. Analyzers are retired when they
// report done in both directions or exhaust their byte budget (the latter
// with Close(limited=true)).
func (s *tcpStream) Feed(rev, start, end bool, skip int, data []byte) (updated bool) {
	i := 0
	for i < len(s.entries) {
		e := s.entries[i]
		u, done := e.stream.Feed(rev, start, end, skip, data)
		if u != nil && u.Type != analyzer.PropUpdateNone {
			s.info.Props.Apply(e.name, u)
			updated = true
			if s.metrics != nil {
				s.metrics.AnalyzerUpdates.WithLabelValues(e.name).Inc()
			}
			s.logger.TCPStreamPropUpdate(&s.info, false)
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
				// Budget exhausted; the terminal update comes from Close.
				if cu := e.stream.Close(true); cu != nil && cu.Type != analyzer.PropUpdateNone {
					s.info.Props.Apply(e.name, cu)
					updated = true
					s.logger.TCPStreamPropUpdate(&s.info, true)
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
func (s *tcpStream) Match() ruleset.MatchResult {
	s.virgin = false
	return s.ruleset.Match(&s.info)
}

// Close tears down every remaining analyzer, folding in terminal updates.
// Repeated calls are no-ops.
func (s *tcpStream) Close(limited bool) {
	for _, e := range s.entries {
		if cu := e.stream.Close(limited); cu != nil && cu.Type != analyzer.PropUpdateNone {
			s.info.Props.Apply(e.name, cu)
			s.logger.TCPStreamPropUpdate(&s.info, true)
		}
	}
	s.entries = nil
}

// analyzerLogger forwards per-stream analyzer diagnostics to the engine
// logger.
type analyzerLogger struct {
	id     int64
	name   string
	logger Logger
}

func (l *analyzerLogger) Debugf(format string, args ...any) {
	l.logger.AnalyzerDebugf(l.id, l.name, format, args...)
}

func (l *analyzerLogger) Infof(format string, args ...any) {
	l.logger.AnalyzerInfof(l.id, l.name, format, args...)
}

func (l *analyzerLogger) Errorf(format string, args ...any) {
	l.logger.AnalyzerErrorf(l.id, l.name, format, args...)
}
