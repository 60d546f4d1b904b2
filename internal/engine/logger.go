// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import "grimm.is/glasswall/internal/ruleset"

// nopLogger discards every engine event.
type nopLogger struct{}

func (nopLogger) WorkerStart(id int) {}
func (nopLogger) WorkerStop(id int) {}

func (nopLogger) TCPStreamNew(workerID int, info *ruleset.StreamInfo) {}
func (nopLogger) TCPStreamPropUpdate(info *ruleset.StreamInfo, closed bool) {}
func (nopLogger) TCPStreamAction(info *ruleset.StreamInfo, a ruleset.Action, noMatch bool) {}
func (nopLogger) UDPStreamNew(workerID int, info *ruleset.StreamInfo) {}
func (nopLogger) UDPStreamPropUpdate(info *ruleset.StreamInfo, closed bool) {}
func (nopLogger) UDPStreamAction(info *ruleset.StreamInfo, a ruleset.Action, noMatch bool) {}

func (nopLogger) MatchError(info *ruleset.StreamInfo, err error) {}
func (nopLogger) ModifyError(info *ruleset.StreamInfo, err error) {}

func (nopLogger) AnalyzerDebugf(streamID int64, name string, format string, args ...any) {}
func (nopLogger) AnalyzerInfof(streamID int64, name string, format string, args ...any) {}
func (nopLogger) AnalyzerErrorf(streamID int64, name string, format string, args ...any) {}
