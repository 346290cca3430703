// ABOUTME: Extracts simulation progress from a growing GROMACS md.log.
// ABOUTME: Each read is a full re-parse that returns the latest complete step record.
package progress

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Sample is one progress reading.
type Sample struct {
	Step     int64   `json:"step"`
	TimePs   float64 `json:"time_ps"`
	NsPerDay float64 `json:"ns_per_day"`
}

// Result is what Read reports. Progress is nil when Available is false.
type Result struct {
	Available bool    `json:"available"`
	Progress  *Sample `json:"progress,omitempty"`
}

// Read parses the log at path. A missing or unreadable file, or one with no
// complete step record yet, yields Available=false rather than an error.
func Read(path string) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}
	}
	return Parse(bytes.NewReader(data))
}

// Parse scans a log stream. A trailing line without a newline is treated as
// still being written and ignored.
func Parse(r io.Reader) Result {
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		latest     *Sample
		nsPerDay   float64
		headerSeen bool
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			// Partial or empty tail.
			break
		}
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "Step") {
			headerSeen = false
			if s, ok := parseInlineStep(trimmed); ok {
				latest = &s
				continue
			}
			headerSeen = true
			continue
		}
		if headerSeen {
			headerSeen = false
			if s, ok := parseStepValues(strings.Fields(trimmed)); ok {
				latest = &s
			}
			continue
		}
		if idx := strings.Index(trimmed, "Performance:"); idx >= 0 {
			fields := strings.Fields(trimmed[idx+len("Performance:"):])
			if len(fields) > 0 {
				nsPerDay = number(fields[0])
			}
		}
	}

	if latest == nil {
		return Result{}
	}
	latest.NsPerDay = nsPerDay
	return Result{Available: true, Progress: latest}
}

// parseInlineStep handles "Step 1000 2.000" written on one line.
func parseInlineStep(line string) (Sample, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "Step" {
		return Sample{}, false
	}
	return parseStepValues(fields[1:])
}

func parseStepValues(fields []string) (Sample, bool) {
	if len(fields) < 2 {
		return Sample{}, false
	}
	step, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Sample{}, false
	}
	if _, err := strconv.ParseFloat(fields[1], 64); err != nil {
		return Sample{}, false
	}
	if step < 0 {
		step = 0
	}
	return Sample{Step: step, TimePs: number(fields[1])}, true
}

// number parses a non-negative float. NaN, infinities, negatives and junk become 0.
func number(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
