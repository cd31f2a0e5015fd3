package raster

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

// GLTNoData marks output grid cells with no source pixel in the
// geometry lookup table.
const GLTNoData = 0

// CoordVectors computes pixel-center latitude and longitude vectors
// from a geotransform and the output grid shape. The granule grids
// carry no rotation terms.
func CoordVectors(gt [6]float64, rows, cols int) (lat, lon []float64) {
	lon = make([]float64, cols)
	for x := 0; x < cols; x++ {
		lon[x] = gt[0] + 0.5*gt[1] + float64(x)*gt[1]
	}
	lat = make([]float64, rows)
	for y := 0; y < rows; y++ {
		lat[y] = gt[3] + 0.5*gt[5] + float64(y)*gt[5]
	}
	return lat, lon
}

// ApplyGLT resamples a rawspace rows x cols x bands array onto the
// output grid described by the lookup tables. Lookup indices are
// one-based; cells whose lookup entry equals GLTNoData receive fill.
func ApplyGLT(arr, gltX, gltY *sparse.DenseArray, fill float64) (*sparse.DenseArray, error) {
	if len(arr.Shape) != 3 {
		return nil, fmt.Errorf("raster.ApplyGLT: array has %d dims, want 3", len(arr.Shape))
	}
	if len(gltX.Shape) != 2 || gltX.Shape[0] != gltY.Shape[0] || gltX.Shape[1] != gltY.Shape[1] {
		return nil, fmt.Errorf("raster.ApplyGLT: lookup table shapes do not match")
	}

	oRows, oCols := gltX.Shape[0], gltX.Shape[1]
	nb := arr.Shape[2]
	out := sparse.ZerosDense(oRows, oCols, nb)
	for i := range out.Elements {
		out.Elements[i] = fill
	}

	for y := 0; y < oRows; y++ {
		for x := 0; x < oCols; x++ {
			gx, gy := gltX.Get(y, x), gltY.Get(y, x)
			if gx == GLTNoData || gy == GLTNoData || math.IsNaN(gx) || math.IsNaN(gy) {
				continue
			}
			// one-based lookup indices
			srcCol, srcRow := int(gx)-1, int(gy)-1
			if srcRow < 0 || srcRow >= arr.Shape[0] || srcCol < 0 || srcCol >= arr.Shape[1] {
				return nil, fmt.Errorf("raster.ApplyGLT: lookup entry (%d,%d) outside source array", srcRow, srcCol)
			}
			for b := 0; b < nb; b++ {
				out.Set(arr.Get(srcRow, srcCol, b), y, x, b)
			}
		}
	}
	return out, nil
}

// Orthorectify resamples a rawspace cube onto its geographic grid and
// attaches latitude/longitude coordinate vectors. Fill values become
// NaN so extraction treats uncovered cells as missing.
func Orthorectify(c *Cube) (*Cube, error) {
	if c.Ortho {
		return c, nil
	}
	if c.GLTX == nil || c.GLTY == nil {
		return nil, fmt.Errorf("raster.Orthorectify: cube %s has no geometry lookup table", c.Granule)
	}
	out, err := ApplyGLT(c.Reflectance, c.GLTX, c.GLTY, FillValue)
	if err != nil {
		return nil, err
	}
	for i, v := range out.Elements {
		if v == FillValue {
			out.Elements[i] = math.NaN()
		}
	}
	lat, lon := CoordVectors(c.Geotransform, out.Shape[0], out.Shape[1])
	return &Cube{
		Granule:      c.Granule,
		Reflectance:  out,
		Wavelengths:  c.Wavelengths,
		GoodBands:    c.GoodBands,
		Geotransform: c.Geotransform,
		Ortho:        true,
		Lat:          lat,
		Lon:          lon,
	}, nil
}

// OrthorectifyResult resamples a rawspace result array (for example a
// per-pixel class-proportion stack) onto the cube's geographic grid,
// keeping the -9999 sentinel in uncovered cells.
func OrthorectifyResult(arr *sparse.DenseArray, c *Cube) (*sparse.DenseArray, error) {
	if c.GLTX == nil || c.GLTY == nil {
		return nil, fmt.Errorf("raster.OrthorectifyResult: cube %s has no geometry lookup table", c.Granule)
	}
	return ApplyGLT(arr, c.GLTX, c.GLTY, FillValue)
}
