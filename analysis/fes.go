// ABOUTME: Free energy surfaces from plumed sum_hills as a heatmap grid.
// ABOUTME: Two CVs give a full x/y/z grid; a single CV gives one row of z.
package analysis

import (
	"bytes"
	"io"
	"os"
	"slices"
)

// FreeEnergyField is the sum_hills column holding the free energy.
const FreeEnergyField = "file.free"

// Heatmap is a free energy surface. Z is indexed [y][x]; a grid point missing
// from the file is null.
type Heatmap struct {
	XLabel string       `json:"x_label"`
	YLabel string       `json:"y_label,omitempty"`
	X      []float64    `json:"x"`
	Y      []float64    `json:"y,omitempty"`
	Z      [][]*float64 `json:"z"`
}

// FESResult is what ReadFES reports. Data is nil when Available is false.
type FESResult struct {
	Available bool     `json:"available"`
	Data      *Heatmap `json:"data"`
}

// ReadFES parses the sum_hills output at path. A missing file or one with no
// grid points yields Available=false.
func ReadFES(path string) FESResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return FESResult{}
	}
	return ParseFES(bytes.NewReader(data))
}

// ParseFES reads a sum_hills stream. The CVs are the fields before
// file.free; without a header the last column is taken as the free energy.
func ParseFES(r io.Reader) FESResult {
	t := readTable(r)
	if len(t.rows) == 0 || len(t.fields) < 2 {
		return FESResult{}
	}
	free := slices.Index(t.fields, FreeEnergyField)
	if free < 0 {
		free = len(t.fields) - 1
	}
	if free < 1 {
		return FESResult{}
	}
	nCV := min(free, 2)

	hm := &Heatmap{XLabel: t.fields[0]}
	xs := axis(t.rows, 0)
	hm.X = xs
	ys := []float64{0}
	if nCV == 2 {
		hm.YLabel = t.fields[1]
		ys = axis(t.rows, 1)
		hm.Y = ys
	}

	hm.Z = make([][]*float64, len(ys))
	for i := range hm.Z {
		hm.Z[i] = make([]*float64, len(xs))
	}
	for _, row := range t.rows {
		xi, _ := slices.BinarySearch(xs, row[0])
		yi := 0
		if nCV == 2 {
			yi, _ = slices.BinarySearch(ys, row[1])
		}
		v := row[free]
		hm.Z[yi][xi] = &v
	}
	return FESResult{Available: true, Data: hm}
}

// axis returns the sorted distinct values of column i.
func axis(rows [][]float64, i int) []float64 {
	vals := make([]float64, 0, len(rows))
	for _, row := range rows {
		vals = append(vals, row[i])
	}
	slices.Sort(vals)
	return slices.Compact(vals)
}
