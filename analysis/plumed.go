// ABOUTME: Reads PLUMED text outputs (COLVAR traces and sum_hills FES grids) into plot-ready data.
// ABOUTME: Files may still be growing; a trailing line without a newline is left for the next read.
package analysis

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Default file names written by the generated plumed.dat and by sum_hills.
const (
	DefaultColvarFile = "COLVAR"
	DefaultFESFile    = "fes.dat"
)

// table is the parsed form of a PLUMED column file.
type table struct {
	fields []string
	rows   [][]float64
}

// readTable parses "#! FIELDS" headers and whitespace-separated numeric rows.
// Other comment lines and blank lines are skipped. A row whose width differs
// from the header, or that holds a non-number, is dropped.
func readTable(r io.Reader) table {
	var t table
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			break
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(fields[0], "#") {
			if len(fields) > 2 && fields[0] == "#!" && fields[1] == "FIELDS" && t.fields == nil {
				t.fields = fields[2:]
			}
			continue
		}
		width := len(t.fields)
		if width == 0 && len(t.rows) > 0 {
			width = len(t.rows[0])
		}
		if width > 0 && len(fields) != width {
			continue
		}
		row, ok := parseRow(fields)
		if !ok {
			continue
		}
		t.rows = append(t.rows, row)
	}
	if t.fields == nil && len(t.rows) > 0 {
		for i := range t.rows[0] {
			t.fields = append(t.fields, "col"+strconv.Itoa(i))
		}
	}
	return t
}

func parseRow(fields []string) ([]float64, bool) {
	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		row[i] = v
	}
	return row, true
}
