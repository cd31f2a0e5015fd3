package raster

import (
	"fmt"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// Mask flags pixels that must be excluded from analysis. A nonzero
// entry marks a bad pixel.
type Mask struct {
	Flags *sparse.DenseArray // rows x cols, 0 or 1
}

// Flagged reports whether the pixel at (row, col) is unusable.
func (m *Mask) Flagged(row, col int) bool {
	return m.Flags.Get(row, col) != 0
}

// Rows returns the size of the first spatial axis.
func (m *Mask) Rows() int { return m.Flags.Shape[0] }

// Cols returns the size of the second spatial axis.
func (m *Mask) Cols() int { return m.Flags.Shape[1] }

// ReadMask builds a single-layer quality mask from the selected flag
// bands of a mask granule. Bands 5 and 6 hold data values rather than
// flags and are rejected.
func ReadMask(rw cdf.ReaderWriterAt, flagBands []int) (*Mask, error) {
	for _, b := range flagBands {
		if b == 5 || b == 6 {
			return nil, fmt.Errorf("raster.ReadMask: band %d is a data band, not a quality flag", b)
		}
	}

	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("raster.ReadMask: %w", err)
	}
	bands, err := readVariable(f, "mask")
	if err != nil {
		return nil, err
	}
	if len(bands.Shape) != 3 {
		return nil, fmt.Errorf("raster.ReadMask: mask has %d dims, want 3", len(bands.Shape))
	}
	nb := bands.Shape[2]
	for _, b := range flagBands {
		if b < 0 || b >= nb {
			return nil, fmt.Errorf("raster.ReadMask: flag band %d out of range (0-%d)", b, nb-1)
		}
	}

	rows, cols := bands.Shape[0], bands.Shape[1]
	flags := sparse.ZerosDense(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sum float64
			for _, b := range flagBands {
				sum += bands.Get(i, j, b)
			}
			if sum > 1 {
				sum = 1
			}
			flags.Set(sum, i, j)
		}
	}
	return &Mask{Flags: flags}, nil
}
