// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcp

import (
	"strings"

	"grimm.is/glasswall/internal/analyzer"
	"grimm.is/glasswall/internal/analyzer/utils"
)

// SSHAnalyzer extracts the protocol version exchange line from both ends of
// an SSH connection.
type SSHAnalyzer struct{}

func (a *SSHAnalyzer) Name() string {
	return "ssh"
}

func (a *SSHAnalyzer) Limit() int {
	return 1084
}

func (a *SSHAnalyzer) NewTCP(info analyzer.TCPInfo, logger analyzer.Logger) analyzer.TCPStream {
	s := &sshStream{logger: logger}
	s.client.lsm = utils.NewLineStateMachine(parseExchangeLine)
	s.server.lsm = utils.NewLineStateMachine(parseExchangeLine)
	return s
}

type sshHalf struct {
	buf     utils.ByteBuffer
	m       analyzer.PropMap
	updated bool
	lsm     *utils.LineStateMachine
	done    bool
	msgLen  int
}

type sshStream struct {
	logger analyzer.Logger
	client sshHalf
	server sshHalf
}

func (s *sshStream) Feed(rev, start, end bool, skip int, data []byte) (*analyzer.PropUpdate, bool) {
	half, key := &s.client, "client"
	if rev {
		half, key = &s.server, "server"
	}
	if skip != 0 {
		half.done = true
		return nil, s.client.done && s.server.done
	}
	if len(data) == 0 {
		return nil, s.client.done && s.server.done
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
		u = &analyzer.PropUpdate{
			Type: analyzer.PropUpdateMerge,
			M:    analyzer.PropMap{key: half.m},
		}
	}
	return u, s.client.done && s.server.done
}

func (s *sshStream) Close(limited bool) *analyzer.PropUpdate {
	s.client.buf.Reset()
	s.server.buf.Reset()
	s.client.m = nil
	s.server.m = nil
	return nil
}

// parseExchangeLine parses "SSH-<protocol>-<software> [comments]\r\n".
func parseExchangeLine(ctx *utils.LSMContext) utils.LSMAction {
	line, ok := ctx.Buf.GetUntil(crlf, false, true)
	if !ok {
		return utils.LSMActionPause
	}
	str := string(line)
	if !strings.HasPrefix(str, "SSH-") {
		return utils.LSMActionCancel
	}
	fields := strings.Fields(str)
	if len(fields) < 1 || len(fields) > 2 {
		return utils.LSMActionCancel
	}
	parts := strings.SplitN(fields[0], "-", 3)
	if len(parts) != 3 {
		return utils.LSMActionCancel
	}
	m := analyzer.PropMap{
		"protocol": parts[1],
		"software": parts[2],
	}
	if len(fields) == 2 {
		m["comments"] = fields[1]
	}
	*ctx.Map = m
	*ctx.Updated = true
	return utils.LSMActionNext
}
