package raster

import (
	"math"
	"testing"

	"github.com/ctessum/sparse"
)

func rawspaceArray(rows, cols, bands int) *sparse.DenseArray {
	arr := sparse.ZerosDense(rows, cols, bands)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			for b := 0; b < bands; b++ {
				arr.Set(float64(100*i+10*j+b), i, j, b)
			}
		}
	}
	return arr
}

func TestCoordVectorsPixelCenters(t *testing.T) {
	t.Parallel()

	gt := [6]float64{-105.0, 0.01, 0, 40.0, 0, -0.01}
	lat, lon := CoordVectors(gt, 3, 4)

	wantLon := []float64{-104.995, -104.985, -104.975, -104.965}
	for i, w := range wantLon {
		if math.Abs(lon[i]-w) > 1e-9 {
			t.Fatalf("lon[%d] = %f, want %f", i, lon[i], w)
		}
	}
	wantLat := []float64{39.995, 39.985, 39.975}
	for i, w := range wantLat {
		if math.Abs(lat[i]-w) > 1e-9 {
			t.Fatalf("lat[%d] = %f, want %f", i, lat[i], w)
		}
	}
}

func TestApplyGLTRemapsOneBased(t *testing.T) {
	t.Parallel()

	src := rawspaceArray(2, 2, 2)

	// 2x2 output grid: cell (0,0) takes source (1,0), cell (0,1) takes
	// source (0,1), cell (1,0) is nodata, cell (1,1) takes source (1,1)
	gltX := sparse.ZerosDense(2, 2)
	gltY := sparse.ZerosDense(2, 2)
	gltX.Set(1, 0, 0)
	gltY.Set(2, 0, 0)
	gltX.Set(2, 0, 1)
	gltY.Set(1, 0, 1)
	gltX.Set(2, 1, 1)
	gltY.Set(2, 1, 1)

	out, err := ApplyGLT(src, gltX, gltY, FillValue)
	if err != nil {
		t.Fatalf("ApplyGLT returned error: %v", err)
	}
	if out.Get(0, 0, 0) != 100 || out.Get(0, 0, 1) != 101 {
		t.Fatalf("cell (0,0) = [%f %f], want [100 101]", out.Get(0, 0, 0), out.Get(0, 0, 1))
	}
	if out.Get(0, 1, 0) != 10 {
		t.Fatalf("cell (0,1) band 0 = %f, want 10", out.Get(0, 1, 0))
	}
	if out.Get(1, 0, 0) != FillValue || out.Get(1, 0, 1) != FillValue {
		t.Fatalf("nodata cell (1,0) = [%f %f], want fill", out.Get(1, 0, 0), out.Get(1, 0, 1))
	}
	if out.Get(1, 1, 1) != 111 {
		t.Fatalf("cell (1,1) band 1 = %f, want 111", out.Get(1, 1, 1))
	}
}

func TestApplyGLTOutOfRangeLookup(t *testing.T) {
	t.Parallel()

	src := rawspaceArray(2, 2, 1)
	gltX := sparse.ZerosDense(1, 1)
	gltY := sparse.ZerosDense(1, 1)
	gltX.Set(5, 0, 0) // points past the source grid
	gltY.Set(1, 0, 0)
	if _, err := ApplyGLT(src, gltX, gltY, FillValue); err == nil {
		t.Fatal("expected error for lookup entry outside source array")
	}
}

func TestApplyGLTShapeValidation(t *testing.T) {
	t.Parallel()

	flat := sparse.ZerosDense(4, 4)
	glt := sparse.ZerosDense(2, 2)
	if _, err := ApplyGLT(flat, glt, glt, FillValue); err == nil {
		t.Fatal("expected error for non-3D source array")
	}
	src := rawspaceArray(2, 2, 1)
	other := sparse.ZerosDense(3, 2)
	if _, err := ApplyGLT(src, glt, other, FillValue); err == nil {
		t.Fatal("expected error for mismatched lookup table shapes")
	}
}

func TestOrthorectifyFillBecomesNaN(t *testing.T) {
	t.Parallel()

	cube := &Cube{
		Granule:      "T",
		Reflectance:  rawspaceArray(2, 2, 1),
		Wavelengths:  []float64{500},
		GoodBands:    []bool{true},
		Geotransform: [6]float64{-105.0, 0.01, 0, 40.0, 0, -0.01},
		GLTX:         sparse.ZerosDense(2, 2),
		GLTY:         sparse.ZerosDense(2, 2),
	}
	// only cell (0,0) is covered
	cube.GLTX.Set(1, 0, 0)
	cube.GLTY.Set(1, 0, 0)

	out, err := Orthorectify(cube)
	if err != nil {
		t.Fatalf("Orthorectify returned error: %v", err)
	}
	if !out.Ortho {
		t.Fatal("result not marked orthorectified")
	}
	if got := out.Reflectance.Get(0, 0, 0); got != 0 {
		t.Fatalf("covered cell = %f, want 0", got)
	}
	if !math.IsNaN(out.Reflectance.Get(1, 1, 0)) {
		t.Fatalf("uncovered cell = %f, want NaN", out.Reflectance.Get(1, 1, 0))
	}
	if len(out.Lat) != 2 || len(out.Lon) != 2 {
		t.Fatalf("coordinate vectors have lengths %d/%d, want 2/2", len(out.Lat), len(out.Lon))
	}

	// a second call is a no-op
	again, err := Orthorectify(out)
	if err != nil {
		t.Fatal(err)
	}
	if again != out {
		t.Fatal("orthorectifying an ortho cube should return it unchanged")
	}
}

func TestOrthorectifyResultKeepsSentinel(t *testing.T) {
	t.Parallel()

	cube := &Cube{
		Granule: "T",
		GLTX:    sparse.ZerosDense(2, 2),
		GLTY:    sparse.ZerosDense(2, 2),
	}
	cube.GLTX.Set(1, 0, 1)
	cube.GLTY.Set(1, 0, 1)

	result := sparse.ZerosDense(1, 1, 2)
	result.Set(42, 0, 0, 0)
	result.Set(7, 0, 0, 1)

	out, err := OrthorectifyResult(result, cube)
	if err != nil {
		t.Fatalf("OrthorectifyResult returned error: %v", err)
	}
	if out.Get(0, 1, 0) != 42 || out.Get(0, 1, 1) != 7 {
		t.Fatalf("covered cell = [%f %f], want [42 7]", out.Get(0, 1, 0), out.Get(0, 1, 1))
	}
	// uncovered cells keep the numeric sentinel, not NaN
	if out.Get(0, 0, 0) != FillValue {
		t.Fatalf("uncovered cell = %f, want %f", out.Get(0, 0, 0), FillValue)
	}
}

func TestOrthorectifyRequiresLookupTable(t *testing.T) {
	t.Parallel()

	cube := &Cube{Granule: "T", Reflectance: rawspaceArray(2, 2, 1)}
	if _, err := Orthorectify(cube); err == nil {
		t.Fatal("expected error for cube without lookup tables")
	}
	if _, err := OrthorectifyResult(sparse.ZerosDense(2, 2, 1), cube); err == nil {
		t.Fatal("expected error for result orthorectification without lookup tables")
	}
}

func TestReadMaskRejectsDataBands(t *testing.T) {
	t.Parallel()

	// bands 5 and 6 carry data values, not flags; rejected before any IO
	for _, b := range []int{5, 6} {
		if _, err := ReadMask(nil, []int{b}); err == nil {
			t.Fatalf("expected error selecting data band %d", b)
		}
	}
}

func TestDropBadBands(t *testing.T) {
	t.Parallel()

	cube := &Cube{
		Granule:     "T",
		Reflectance: rawspaceArray(2, 2, 3),
		Wavelengths: []float64{400, 500, 600},
		GoodBands:   []bool{true, false, true},
	}
	out := cube.DropBadBands()
	if out.Bands() != 2 {
		t.Fatalf("got %d bands, want 2", out.Bands())
	}
	if out.Wavelengths[0] != 400 || out.Wavelengths[1] != 600 {
		t.Fatalf("wavelengths %v, want [400 600]", out.Wavelengths)
	}
	// band 2 of the source is band 1 of the result
	if got := out.Reflectance.Get(1, 1, 1); got != 112 {
		t.Fatalf("retained band value %f, want 112", got)
	}

	allGood := &Cube{
		Reflectance: rawspaceArray(2, 2, 2),
		Wavelengths: []float64{400, 500},
		GoodBands:   []bool{true, true},
	}
	if allGood.DropBadBands() != allGood {
		t.Fatal("cube with no bad bands should be returned unchanged")
	}
}
