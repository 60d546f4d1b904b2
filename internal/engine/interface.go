// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"context"
	"time"

	"grimm.is/glasswall/internal/io"
	"grimm.is/glasswall/internal/metrics"
	"grimm.is/glasswall/internal/ruleset"
)

// Engine drives packets from the adapter through per-flow analyzers and
// the rule engine, returning verdicts.
type Engine interface {
	// UpdateRuleset atomically replaces the active ruleset. Existing
	// flows keep the version they captured at creation.
	UpdateRuleset(r ruleset.Ruleset) error
	// Run processes packets until ctx is cancelled.
	Run(ctx context.Context) error
}

// Config assembles an engine.
type Config struct {
	Logger  Logger
	IO      io.PacketIO
	Ruleset ruleset.Ruleset
	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Registry

	// Workers is the pool size; 0 means one per logical core.
	Workers int
	// WorkerQueueSize bounds each worker's packet queue.
	WorkerQueueSize int
	// TCPMaxBufferedPagesTotal and TCPMaxBufferedPagesPerConn bound
	// stream buffering; overflow closes flows with limited=true.
	TCPMaxBufferedPagesTotal   int
	TCPMaxBufferedPagesPerConn int
	// TCPTimeout evicts idle TCP flows.
	TCPTimeout time.Duration
	// UDPMaxStreams caps each worker's UDP flow table (LRU eviction).
	UDPMaxStreams int
}

// Logger receives engine lifecycle and per-stream events.
type Logger interface {
	WorkerStart(id int)
	WorkerStop(id int)

	TCPStreamNew(workerID int, info *ruleset.StreamInfo)
	TCPStreamPropUpdate(info *ruleset.StreamInfo, closed bool)
	TCPStreamAction(info *ruleset.StreamInfo, action ruleset.Action, noMatch bool)

	UDPStreamNew(workerID int, info *ruleset.StreamInfo)
	UDPStreamPropUpdate(info *ruleset.StreamInfo, closed bool)
	UDPStreamAction(info *ruleset.StreamInfo, action ruleset.Action, noMatch bool)

	MatchError(info *ruleset.StreamInfo, err error)
	ModifyError(info *ruleset.StreamInfo, err error)

	AnalyzerDebugf(streamID int64, name string, format string, args ...any)
	AnalyzerInfof(streamID int64, name string, format string, args ...any)
	AnalyzerErrorf(streamID int64, name string, format string, args ...any)
}
