// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcp

import (
	"math/bits"

	"grimm.is/glasswall/internal/analyzer"
)

// FETAnalyzer applies the fully-encrypted-traffic heuristic to the first
// data chunk of a flow. Streams that look like an established plaintext or
// TLS protocol are exempt; everything else is flagged.
type FETAnalyzer struct{}

func (a *FETAnalyzer) Name() string {
	return "fet"
}

func (a *FETAnalyzer) Limit() int {
	return 8192
}

func (a *FETAnalyzer) NewTCP(info analyzer.TCPInfo, logger analyzer.Logger) analyzer.TCPStream {
	return &fetStream{logger: logger}
}

type fetStream struct {
	logger analyzer.Logger
}

func (s *fetStream) Feed(rev, start, end bool, skip int, data []byte) (*analyzer.PropUpdate, bool) {
	if skip != 0 {
		return nil, true
	}
	if len(data) == 0 {
		return nil, false
	}

	ex1 := averagePopCount(data)
	ex2 := isFirstSixPrintable(data)
	ex3 := printablePercentage(data)
	ex4 := contiguousPrintable(data)
	ex5 := isTLSorHTTP(data)
	exempt := ex1 <= 3.4 || ex1 >= 4.6 || ex2 || ex3 > 0.5 || ex4 > 20 || ex5

	// One-shot verdict; Replace, not Merge.
	return &analyzer.PropUpdate{
		Type: analyzer.PropUpdateReplace,
		M: analyzer.PropMap{
			"ex1": ex1,
			"ex2": ex2,
			"ex3": ex3,
			"ex4": ex4,
			"ex5": ex5,
			"yes": !exempt,
		},
	}, true
}

func (s *fetStream) Close(limited bool) *analyzer.PropUpdate {
	return nil
}

// averagePopCount is the mean Hamming weight per octet.
func averagePopCount(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	total := 0
	for _, b := range data {
		total += bits.OnesCount8(b)
	}
	return float64(total) / float64(len(data))
}

func isPrintable(b byte) bool {
	return b >= 0x20 && b <= 0x7e
}

func isFirstSixPrintable(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	for _, b := range data[:6] {
		if !isPrintable(b) {
			return false
		}
	}
	return true
}

func printablePercentage(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	count := 0
	for _, b := range data {
		if isPrintable(b) {
			count++
		}
	}
	return float64(count) / float64(len(data))
}

// contiguousPrintable is the longest run of consecutive printable octets.
func contiguousPrintable(data []byte) int {
	maxRun, run := 0, 0
	for _, b := range data {
		if isPrintable(b) {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	return maxRun
}

func isTLSorHTTP(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	if data[0] == 0x16 && data[1] == 0x03 && data[2] <= 0x03 {
		return true
	}
	switch string(data[:3]) {
	case "GET", "HEA", "POS", "PUT", "DEL", "CON", "OPT", "TRA", "PAT":
		return true
	}
	return false
}
