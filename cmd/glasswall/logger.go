// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"grimm.is/glasswall/internal/logging"
	"grimm.is/glasswall/internal/ruleset"
)

// engineLogger adapts the engine event interface onto the structured
// logger.
type engineLogger struct {
	workers   *logging.Logger
	tcp       *logging.Logger
	udp       *logging.Logger
	rules     *logging.Logger
	analyzers *logging.Logger
}

func newEngineLogger() *engineLogger {
	return &engineLogger{
		workers:   logging.WithComponent("worker"),
		tcp:       logging.WithComponent("tcp"),
		udp:       logging.WithComponent("udp"),
		rules:     logging.WithComponent("ruleset"),
		analyzers: logging.WithComponent("analyzer"),
	}
}

func (l *engineLogger) WorkerStart(id int) {
	l.workers.Info("worker started", "id", id)
}

func (l *engineLogger) WorkerStop(id int) {
	l.workers.Info("worker stopped", "id", id)
}

func (l *engineLogger) TCPStreamNew(workerID int, info *ruleset.StreamInfo) {
	l.tcp.Debug("new stream", "worker", workerID, "id", info.ID, "src", info.SrcString(), "dst", info.DstString())
}

func (l *engineLogger) TCPStreamPropUpdate(info *ruleset.StreamInfo, closed bool) {
	l.tcp.Debug("property update", "id", info.ID, "closed", closed)
}

func (l *engineLogger) TCPStreamAction(info *ruleset.StreamInfo, action ruleset.Action, noMatch bool) {
	l.tcp.Info("stream action", "id", info.ID, "src", info.SrcString(), "dst", info.DstString(), "action", action.String(), "no_match", noMatch)
}

func (l *engineLogger) UDPStreamNew(workerID int, info *ruleset.StreamInfo) {
	l.udp.Debug("new stream", "worker", workerID, "id", info.ID, "src", info.SrcString(), "dst", info.DstString())
}

func (l *engineLogger) UDPStreamPropUpdate(info *ruleset.StreamInfo, closed bool) {
	l.udp.Debug("property update", "id", info.ID, "closed", closed)
}

func (l *engineLogger) UDPStreamAction(info *ruleset.StreamInfo, action ruleset.Action, noMatch bool) {
	l.udp.Info("stream action", "id", info.ID, "src", info.SrcString(), "dst", info.DstString(), "action", action.String(), "no_match", noMatch)
}

func (l *engineLogger) MatchError(info *ruleset.StreamInfo, err error) {
	l.rules.Error("match error", "id", info.ID, "error", err)
}

func (l *engineLogger) ModifyError(info *ruleset.StreamInfo, err error) {
	l.rules.Error("modify error", "id", info.ID, "error", err)
}

func (l *engineLogger) AnalyzerDebugf(streamID int64, name string, format string, args ...any) {
	l.analyzers.Debugf("[%d %s] "+format, append([]any{streamID, name}, args...)...)
}

func (l *engineLogger) AnalyzerInfof(streamID int64, name string, format string, args ...any) {
	l.analyzers.Infof("[%d %s] "+format, append([]any{streamID, name}, args...)...)
}

func (l *engineLogger) AnalyzerErrorf(streamID int64, name string, format string, args ...any) {
	l.analyzers.Errorf("[%d %s] "+format, append([]any{streamID, name}, args...)...)
}

// rulesetLogger routes rule log/error events.
type rulesetLogger struct {
	l *logging.Logger
}

func newRulesetLogger() *rulesetLogger {
	return &rulesetLogger{l: logging.WithComponent("ruleset")}
}

func (r *rulesetLogger) Log(info *ruleset.StreamInfo, name string) {
	r.l.Info("rule matched", "rule", name, "id", info.ID, "proto", info.Protocol.String(), "src", info.SrcString(), "dst", info.DstString())
}

func (r *rulesetLogger) MatchError(info *ruleset.StreamInfo, name string, err error) {
	r.l.Error("rule evaluation failed", "rule", name, "id", info.ID, "error", err)
}
