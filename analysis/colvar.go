// ABOUTME: COLVAR traces as named columns for line charts.
// ABOUTME: Column names come from the "#! FIELDS" header, falling back to col0, col1, ...
package analysis

import (
	"bytes"
	"io"
	"os"
)

// Columns holds one slice per COLVAR field. Fields keeps the file order.
type Columns struct {
	Fields []string             `json:"fields"`
	Values map[string][]float64 `json:"columns"`
}

// ColvarResult is what ReadColvar reports. Data is nil when Available is false.
type ColvarResult struct {
	Available bool     `json:"available"`
	Data      *Columns `json:"data"`
}

// ReadColvar parses the COLVAR file at path. A missing file, or one with no
// complete row yet, yields Available=false.
func ReadColvar(path string) ColvarResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return ColvarResult{}
	}
	return ParseColvar(bytes.NewReader(data))
}

// ParseColvar reads a COLVAR stream.
func ParseColvar(r io.Reader) ColvarResult {
	t := readTable(r)
	if len(t.rows) == 0 {
		return ColvarResult{}
	}
	cols := &Columns{Fields: t.fields, Values: make(map[string][]float64, len(t.fields))}
	for i, name := range t.fields {
		vals := make([]float64, len(t.rows))
		for j, row := range t.rows {
			vals[j] = row[i]
		}
		cols.Values[name] = vals
	}
	return ColvarResult{Available: true, Data: cols}
}
