// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcp

import (
	"testing"

	"grimm.is/glasswall/internal/analyzer"
)

func TestTLSNonHandshakeCancels(t *testing.T) {
	a := &TLSAnalyzer{}
	s := a.NewTCP(analyzer.TCPInfo{}, nopLogger{})

	u, _ := s.Feed(false, true, false, 0, []byte("GET / HTTP/1.1\r\n"))
	if u != nil {
		t.Errorf("plaintext must not emit TLS properties, got %v", u.M)
	}
	// Cancelled direction stays silent.
	u, _ = s.Feed(false, false, false, 0, []byte{0x16, 0x03, 0x01, 0x00, 0x10})
	if u != nil {
		t.Error("cancelled direction must not emit updates")
	}
}

func TestTLSShortRecordPauses(t *testing.T) {
	a := &TLSAnalyzer{}
	s := a.NewTCP(analyzer.TCPInfo{}, nopLogger{})

	// Valid handshake header announcing 0x40 octets, only header present.
	u, done := s.Feed(false, true, false, 0, []byte{0x16, 0x03, 0x01, 0x00, 0x40})
	if u != nil || done {
		t.Errorf("incomplete record must pause, got u=%v done=%v", u, done)
	}
}

func TestTLSSkipPoisonsDirection(t *testing.T) {
	a := &TLSAnalyzer{}
	s := a.NewTCP(analyzer.TCPInfo{}, nopLogger{})

	u, _ := s.Feed(true, false, false, 100, []byte{0x16})
	if u != nil {
		t.Error("skip must not produce an update")
	}
}
