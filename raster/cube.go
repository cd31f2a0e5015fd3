// Package raster reads imaging-spectroscopy granules and quality masks
// from NetCDF files, orthorectifies rawspace arrays using their
// geometry lookup tables, and writes classified results as GeoTIFF.
package raster

import (
	"fmt"
	"math"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// FillValue marks missing pixels in granule files. It is mapped to NaN
// when a cube is read so downstream code only has to deal with NaN.
const FillValue = -9999.0

// Cube is a three dimensional reflectance array. In rawspace the two
// leading axes are sensor downtrack and crosstrack; after
// orthorectification they are latitude and longitude and the Lat/Lon
// coordinate vectors are populated.
type Cube struct {
	Granule     string
	Reflectance *sparse.DenseArray // rows x cols x bands

	Wavelengths []float64
	GoodBands   []bool // parallel to Wavelengths; false marks a bad band

	// Geometry lookup table mapping output grid cells to rawspace
	// pixels (one-based, 0 = nodata). Only present on rawspace cubes.
	GLTX *sparse.DenseArray
	GLTY *sparse.DenseArray

	Geotransform [6]float64

	Ortho bool
	Lat   []float64
	Lon   []float64
}

// Rows returns the size of the first spatial axis.
func (c *Cube) Rows() int { return c.Reflectance.Shape[0] }

// Cols returns the size of the second spatial axis.
func (c *Cube) Cols() int { return c.Reflectance.Shape[1] }

// Bands returns the length of the spectral axis.
func (c *Cube) Bands() int { return c.Reflectance.Shape[2] }

// RetainedBands returns the indices of bands marked good. The
// feature-column boundary everywhere else in the pipeline derives from
// this, never from a hard-coded position.
func (c *Cube) RetainedBands() []int {
	idx := make([]int, 0, len(c.GoodBands))
	for i, ok := range c.GoodBands {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// DropBadBands returns a cube containing only the bands marked good.
// The receiver is not modified.
func (c *Cube) DropBadBands() *Cube {
	keep := c.RetainedBands()
	if len(keep) == c.Bands() {
		return c
	}
	rows, cols := c.Rows(), c.Cols()
	out := sparse.ZerosDense(rows, cols, len(keep))
	wvl := make([]float64, len(keep))
	good := make([]bool, len(keep))
	for n, b := range keep {
		wvl[n] = c.Wavelengths[b]
		good[n] = true
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			for n, b := range keep {
				out.Set(c.Reflectance.Get(i, j, b), i, j, n)
			}
		}
	}
	return &Cube{
		Granule:      c.Granule,
		Reflectance:  out,
		Wavelengths:  wvl,
		GoodBands:    good,
		GLTX:         c.GLTX,
		GLTY:         c.GLTY,
		Geotransform: c.Geotransform,
		Ortho:        c.Ortho,
		Lat:          c.Lat,
		Lon:          c.Lon,
	}
}

// Spectrum copies the full spectral vector at (row, col) into dst,
// allocating when dst is too short.
func (c *Cube) Spectrum(row, col int, dst []float64) []float64 {
	nb := c.Bands()
	if cap(dst) < nb {
		dst = make([]float64, nb)
	}
	dst = dst[:nb]
	for b := 0; b < nb; b++ {
		dst[b] = c.Reflectance.Get(row, col, b)
	}
	return dst
}

// ReadCube reads a reflectance granule from a NetCDF file.
func ReadCube(rw cdf.ReaderWriterAt) (*Cube, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("raster.ReadCube: %w", err)
	}

	c := new(Cube)
	if g, ok := f.Header.GetAttribute("", "granule_id").(string); ok {
		c.Granule = g
	}
	gt, ok := f.Header.GetAttribute("", "geotransform").([]float64)
	if !ok || len(gt) != 6 {
		return nil, fmt.Errorf("raster.ReadCube: missing or malformed geotransform attribute")
	}
	copy(c.Geotransform[:], gt)

	refl, err := readVariable(f, "reflectance")
	if err != nil {
		return nil, err
	}
	if len(refl.Shape) != 3 {
		return nil, fmt.Errorf("raster.ReadCube: reflectance has %d dims, want 3", len(refl.Shape))
	}
	for i, v := range refl.Elements {
		if v == FillValue {
			refl.Elements[i] = math.NaN()
		}
	}
	c.Reflectance = refl

	wvl, err := readVariable(f, "wavelengths")
	if err != nil {
		return nil, err
	}
	good, err := readVariable(f, "good_wavelengths")
	if err != nil {
		return nil, err
	}
	if len(wvl.Elements) != refl.Shape[2] || len(good.Elements) != refl.Shape[2] {
		return nil, fmt.Errorf("raster.ReadCube: band coordinate length %d does not match %d bands",
			len(wvl.Elements), refl.Shape[2])
	}
	c.Wavelengths = append([]float64(nil), wvl.Elements...)
	c.GoodBands = make([]bool, len(good.Elements))
	for i, v := range good.Elements {
		c.GoodBands[i] = v == 1
	}

	if c.GLTX, err = readVariable(f, "glt_x"); err != nil {
		return nil, err
	}
	if c.GLTY, err = readVariable(f, "glt_y"); err != nil {
		return nil, err
	}
	return c, nil
}

// readVariable reads a whole float32 variable into a dense array.
func readVariable(f *cdf.File, name string) (*sparse.DenseArray, error) {
	dims := f.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("raster: variable %q not present", name)
	}
	arr := sparse.ZerosDense(dims...)
	tmp := make([]float32, len(arr.Elements))
	r := f.Reader(name, nil, nil)
	if _, err := r.Read(tmp); err != nil {
		return nil, fmt.Errorf("raster: reading variable %q: %w", name, err)
	}
	for i, v := range tmp {
		arr.Elements[i] = float64(v)
	}
	return arr, nil
}
