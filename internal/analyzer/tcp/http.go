// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcp

import (
	"strconv"
	"strings"

	"grimm.is/glasswall/internal/analyzer"
	"grimm.is/glasswall/internal/analyzer/utils"
)

var (
	crlf       = []byte("\r\n")
	doubleCRLF = []byte("\r\n\r\n")
)

// HTTPAnalyzer extracts the request line, status line and header blocks of
// plaintext HTTP exchanges.
type HTTPAnalyzer struct{}

func (a *HTTPAnalyzer) Name() string {
	return "http"
}

func (a *HTTPAnalyzer) Limit() int {
	return 8192
}

func (a *HTTPAnalyzer) NewTCP(info analyzer.TCPInfo, logger analyzer.Logger) analyzer.TCPStream {
	s := &httpStream{logger: logger}
	s.req.lsm = utils.NewLineStateMachine(parseRequestLine, parseRequestHeaders)
	s.resp.lsm = utils.NewLineStateMachine(parseResponseLine, parseResponseHeaders)
	return s
}

// httpHalf is the per-direction parser state.
type httpHalf struct {
	buf     utils.ByteBuffer
	m       analyzer.PropMap
	updated bool
	lsm     *utils.LineStateMachine
	done    bool
	msgLen  int
}

type httpStream struct {
	logger analyzer.Logger
	req    httpHalf
	resp   httpHalf
}

func (s *httpStream) Feed(rev, start, end bool, skip int, data []byte) (*analyzer.PropUpdate, bool) {
	half := &s.req
	if rev {
		half = &s.resp
	}
	if skip != 0 {
		// Data loss poisons this direction; no resynchronization.
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
		u = &analyzer.PropUpdate{Type: analyzer.PropUpdateMerge, M: half.m}
	}
	return u, s.req.done && s.resp.done
}

func (s *httpStream) Close(limited bool) *analyzer.PropUpdate {
	s.req.buf.Reset()
	s.resp.buf.Reset()
	s.req.m = nil
	s.resp.m = nil
	return nil
}

func parseRequestLine(ctx *utils.LSMContext) utils.LSMAction {
	line, ok := ctx.Buf.GetUntil(crlf, false, true)
	if !ok {
		return utils.LSMActionPause
	}
	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return utils.LSMActionCancel
	}
	method, path, version := fields[0], fields[1], fields[2]
	if !strings.HasPrefix(version, "HTTP/") {
		return utils.LSMActionCancel
	}
	*ctx.Map = analyzer.PropMap{
		"method":  method,
		"path":    path,
		"version": version,
	}
	*ctx.Updated = true
	return utils.LSMActionNext
}

func parseResponseLine(ctx *utils.LSMContext) utils.LSMAction {
	line, ok := ctx.Buf.GetUntil(crlf, false, true)
	if !ok {
		return utils.LSMActionPause
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return utils.LSMActionCancel
	}
	version := fields[0]
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		status = -1
	}
	if !strings.HasPrefix(version, "HTTP/") || status == 0 {
		return utils.LSMActionCancel
	}
	*ctx.Map = analyzer.PropMap{
		"status":  status,
		"version": version,
	}
	*ctx.Updated = true
	return utils.LSMActionNext
}

func parseRequestHeaders(ctx *utils.LSMContext) utils.LSMAction {
	return parseHeaders(ctx)
}

func parseResponseHeaders(ctx *utils.LSMContext) utils.LSMAction {
	return parseHeaders(ctx)
}

func parseHeaders(ctx *utils.LSMContext) utils.LSMAction {
	block, ok := ctx.Buf.GetUntil(doubleCRLF, true, true)
	if !ok {
		return utils.LSMActionPause
	}
	if len(block) <= 4 {
		return utils.LSMActionPause
	}
	headers := analyzer.PropMap{}
	for _, line := range strings.Split(string(block[:len(block)-4]), "\r\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			return utils.LSMActionCancel
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if *ctx.Map == nil {
		*ctx.Map = analyzer.PropMap{}
	}
	(*ctx.Map)["headers"] = headers
	*ctx.Updated = true
	return utils.LSMActionNext
}
