package unmix

import (
	"math"
	"testing"
)

func TestFeatureScalerStandardises(t *testing.T) {
	t.Parallel()

	features := [][]float64{
		{1, 10},
		{3, 20},
		{5, 30},
	}
	scaler, err := NewFeatureScaler(features)
	if err != nil {
		t.Fatalf("NewFeatureScaler returned error: %v", err)
	}
	if scaler.Mean[0] != 3 || scaler.Mean[1] != 20 {
		t.Fatalf("unexpected means %v", scaler.Mean)
	}

	// scaled columns must have mean 0 and population stddev 1
	var sum, sq [2]float64
	for _, row := range features {
		scaled := scaler.Transform(row)
		for i, v := range scaled {
			sum[i] += v
			sq[i] += v * v
		}
	}
	for i := 0; i < 2; i++ {
		if math.Abs(sum[i]/3) > 1e-12 {
			t.Fatalf("column %d mean %f after scaling, want 0", i, sum[i]/3)
		}
		if math.Abs(math.Sqrt(sq[i]/3)-1) > 1e-12 {
			t.Fatalf("column %d stddev %f after scaling, want 1", i, math.Sqrt(sq[i]/3))
		}
	}
}

func TestFeatureScalerConstantBand(t *testing.T) {
	t.Parallel()

	scaler, err := NewFeatureScaler([][]float64{{7, 1}, {7, 2}, {7, 3}})
	if err != nil {
		t.Fatalf("NewFeatureScaler returned error: %v", err)
	}
	scaled := scaler.Transform([]float64{7, 2})
	if math.IsNaN(scaled[0]) || math.IsInf(scaled[0], 0) {
		t.Fatalf("constant band scaled to %f", scaled[0])
	}
	if scaled[0] != 0 {
		t.Fatalf("constant band at its mean scaled to %f, want 0", scaled[0])
	}
}

func TestFeatureScalerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewFeatureScaler(nil); err == nil {
		t.Fatal("expected error for no feature vectors")
	}
	if _, err := NewFeatureScaler([][]float64{{}}); err == nil {
		t.Fatal("expected error for empty feature vectors")
	}
	if _, err := NewFeatureScaler([][]float64{{1, 2}, {1}}); err == nil {
		t.Fatal("expected error for inconsistent dimensions")
	}
}

func TestTransformInPlaceMatchesTransform(t *testing.T) {
	t.Parallel()

	scaler, err := NewFeatureScaler([][]float64{{1, 4}, {2, 5}, {3, 9}})
	if err != nil {
		t.Fatal(err)
	}
	v := []float64{2.5, 6}
	want := scaler.Transform(v)
	scaler.TransformInPlace(v)
	for i := range v {
		if v[i] != want[i] {
			t.Fatalf("index %d: in-place %f, copy %f", i, v[i], want[i])
		}
	}
}

func TestNormaliseVectorInPlace(t *testing.T) {
	t.Parallel()

	v := []float64{3, 4}
	NormaliseVectorInPlace(v)
	if math.Abs(v[0]-0.6) > 1e-12 || math.Abs(v[1]-0.8) > 1e-12 {
		t.Fatalf("normalised to %v, want [0.6 0.8]", v)
	}

	zero := []float64{0, 0, 0}
	NormaliseVectorInPlace(zero)
	for _, x := range zero {
		if x != 0 {
			t.Fatalf("zero vector changed to %v", zero)
		}
	}
}

func TestClassMappingStableOrder(t *testing.T) {
	t.Parallel()

	a, err := NewClassMapping([]string{"water", "soil", "vegetation", "soil"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewClassMapping([]string{"vegetation", "water", "soil"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Len() != 3 || b.Len() != 3 {
		t.Fatalf("duplicate collapse failed: %d / %d classes", a.Len(), b.Len())
	}
	for i, name := range a.Names() {
		got, _ := b.Name(i)
		if got != name {
			t.Fatalf("code %d maps to %q and %q depending on input order", i, name, got)
		}
		code, ok := a.Code(name)
		if !ok || code != i {
			t.Fatalf("Code(%q) = %d,%v, want %d", name, code, ok, i)
		}
	}
	if _, ok := a.Code("asphalt"); ok {
		t.Fatal("unknown class reported as mapped")
	}
	if _, ok := a.Name(99); ok {
		t.Fatal("out-of-range code reported as mapped")
	}
}
