// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcp

import (
	"testing"

	"grimm.is/glasswall/internal/analyzer"
)

func TestFETOpaquePayload(t *testing.T) {
	a := &FETAnalyzer{}
	s := a.NewTCP(analyzer.TCPInfo{}, nopLogger{})

	// Non-printable bytes with an average Hamming weight of exactly 4.0.
	data := make([]byte, 200)
	for i := range data {
		if i%2 == 0 {
			data[i] = 0x0f
		} else {
			data[i] = 0xf0
		}
	}

	u, done := s.Feed(false, true, false, 0, data)
	if u == nil {
		t.Fatal("expected update")
	}
	if u.Type != analyzer.PropUpdateReplace {
		t.Errorf("expected replace update, got %v", u.Type)
	}
	if !done {
		t.Error("fet is single-shot, stream must be done")
	}
	if u.M["ex1"] != 4.0 {
		t.Errorf("expected ex1 4.0, got %v", u.M["ex1"])
	}
	if u.M["ex2"] != false || u.M["ex5"] != false {
		t.Errorf("expected ex2/ex5 false, got %v / %v", u.M["ex2"], u.M["ex5"])
	}
	if u.M["yes"] != true {
		t.Errorf("opaque payload should be flagged, got %v", u.M["yes"])
	}
}

func TestFETHTTPExempt(t *testing.T) {
	a := &FETAnalyzer{}
	s := a.NewTCP(analyzer.TCPInfo{}, nopLogger{})

	data := []byte("GET / HTTP/1.1\r\n\r\n")
	for len(data) < 200 {
		data = append(data, 'A')
	}

	u, _ := s.Feed(false, true, false, 0, data)
	if u == nil {
		t.Fatal("expected update")
	}
	if u.M["ex5"] != true {
		t.Errorf("expected ex5 true for HTTP prefix, got %v", u.M["ex5"])
	}
	if u.M["yes"] != false {
		t.Errorf("HTTP traffic must be exempt, got %v", u.M["yes"])
	}
}

func TestFETTLSExempt(t *testing.T) {
	a := &FETAnalyzer{}
	s := a.NewTCP(analyzer.TCPInfo{}, nopLogger{})

	data := append([]byte{0x16, 0x03, 0x01, 0x00, 0x50}, make([]byte, 80)...)
	u, _ := s.Feed(false, true, false, 0, data)
	if u == nil {
		t.Fatal("expected update")
	}
	if u.M["ex5"] != true {
		t.Errorf("expected ex5 true for TLS record prefix, got %v", u.M["ex5"])
	}
	if u.M["yes"] != false {
		t.Errorf("TLS traffic must be exempt, got %v", u.M["yes"])
	}
}

func TestFETSkipAndEmpty(t *testing.T) {
	a := &FETAnalyzer{}
	s := a.NewTCP(analyzer.TCPInfo{}, nopLogger{})

	if u, done := s.Feed(false, true, false, 5, []byte{1, 2, 3}); u != nil || !done {
		t.Errorf("skip must kill the analyzer without an update, got u=%v done=%v", u, done)
	}

	s = a.NewTCP(analyzer.TCPInfo{}, nopLogger{})
	if u, done := s.Feed(false, true, false, 0, nil); u != nil || done {
		t.Errorf("empty data must be a no-op, got u=%v done=%v", u, done)
	}
}
