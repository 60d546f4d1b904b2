// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"grimm.is/glasswall/internal/errors"
	"grimm.is/glasswall/internal/io"
	"grimm.is/glasswall/internal/ruleset"
)

type engine struct {
	logger  Logger
	io      io.PacketIO
	workers []*worker
}

// New assembles an engine from the config, applying defaults for unset
// bounds.
func New(cfg Config) (Engine, error) {
	if cfg.IO == nil {
		return nil, errors.New(errors.KindValidation, "engine: packet IO is required")
	}
	if cfg.Ruleset == nil {
		return nil, errors.New(errors.KindValidation, "engine: ruleset is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	count := cfg.Workers
	if count <= 0 {
		count = runtime.NumCPU()
	}
	queueSize := cfg.WorkerQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	tcpTimeout := cfg.TCPTimeout
	if tcpTimeout <= 0 {
		tcpTimeout = 10 * time.Minute
	}
	udpMax := cfg.UDPMaxStreams
	if udpMax <= 0 {
		udpMax = 4096
	}
	perConnPages := cfg.TCPMaxBufferedPagesPerConn
	if perConnPages <= 0 {
		perConnPages = 64
	}
	totalPages := cfg.TCPMaxBufferedPagesTotal
	if totalPages <= 0 {
		totalPages = 4096
	}

	e := &engine{logger: cfg.Logger, io: cfg.IO}
	for i := 0; i < count; i++ {
		e.workers = append(e.workers, newWorker(workerConfig{
			id:               i,
			logger:           cfg.Logger,
			io:               cfg.IO,
			metrics:          cfg.Metrics,
			ruleset:          cfg.Ruleset,
			queueSize:        queueSize,
			tcpTimeout:       tcpTimeout,
			tcpMaxBuffered:   perConnPages * pageSize,
			tcpTotalBuffered: totalPages * pageSize / count,
			udpMaxStreams:    udpMax,
		}))
	}
	return e, nil
}

func (e *engine) UpdateRuleset(r ruleset.Ruleset) error {
	if r == nil {
		return errors.New(errors.KindValidation, "engine: nil ruleset")
	}
	for _, w := range e.workers {
		w.UpdateRuleset(r)
	}
	return nil
}

func (e *engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, w := range e.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	if err := e.io.Register(ctx, e.dispatch); err != nil {
		cancel()
		wg.Wait()
		return err
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

// dispatch routes one packet to its owning worker. All packets of a flow
// share a stream id, so a flow is serialized on one worker.
func (e *engine) dispatch(p io.Packet, err error) bool {
	if err != nil {
		return true
	}
	return e.workers[p.StreamID()%uint32(len(e.workers))].Feed(p)
}
