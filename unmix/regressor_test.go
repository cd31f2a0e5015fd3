package unmix

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// trainedOnPureSamples fits a regressor on one pure sample per class so
// predictions on the same spectra are easy to reason about.
func trainedOnPureSamples(t *testing.T, k int) (*Regressor, []MixtureSample) {
	t.Helper()

	classes, err := NewClassMapping([]string{"soil", "vegetation", "water"})
	if err != nil {
		t.Fatal(err)
	}
	spectra := [][]float64{
		{0.9, 0.1, 0.1, 0.2},
		{0.1, 0.9, 0.1, 0.3},
		{0.1, 0.1, 0.9, 0.1},
	}
	var samples []MixtureSample
	for c, spectrum := range spectra {
		props := make([]float64, classes.Len())
		props[c] = 1
		// two copies per class keep the scaler stddev nonzero
		for rep := 0; rep < 2; rep++ {
			features := make([]float64, len(spectrum))
			for b, v := range spectrum {
				features[b] = v + 0.01*float64(rep)
			}
			samples = append(samples, MixtureSample{
				Features:    features,
				Proportions: props,
			})
		}
	}
	model, err := TrainRegressor(samples, classes, k)
	if err != nil {
		t.Fatalf("TrainRegressor returned error: %v", err)
	}
	return model, samples
}

func TestPredictPureSpectrumRecoversClass(t *testing.T) {
	t.Parallel()

	model, samples := trainedOnPureSamples(t, 1)
	for i, s := range samples {
		pred, err := model.Predict(s.Features)
		if err != nil {
			t.Fatalf("Predict returned error: %v", err)
		}
		for c, p := range pred {
			want := s.Proportions[c] * 100
			if math.Abs(p-want) > 1e-6 {
				t.Fatalf("sample %d class %d: predicted %.4f, want %.4f", i, c, p, want)
			}
		}
	}
}

func TestPredictOutputBounded(t *testing.T) {
	t.Parallel()

	model, _ := trainedOnPureSamples(t, 5)
	queries := [][]float64{
		{0.5, 0.5, 0.5, 0.2},
		{10, -3, 0, 1},
		{0, 0, 0, 0},
	}
	for qi, q := range queries {
		pred, err := model.Predict(q)
		if err != nil {
			t.Fatalf("query %d: Predict returned error: %v", qi, err)
		}
		for c, p := range pred {
			if p < 0 || p > 100 {
				t.Fatalf("query %d class %d: prediction %f outside [0,100]", qi, c, p)
			}
		}
	}
}

func TestPredictDimensionMismatch(t *testing.T) {
	t.Parallel()

	model, _ := trainedOnPureSamples(t, 1)
	if _, err := model.Predict([]float64{1, 2}); err == nil {
		t.Fatal("expected error for wrong feature dimension")
	}
	if _, err := model.Predict(nil); err == nil {
		t.Fatal("expected error for empty feature vector")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	model, samples := trainedOnPureSamples(t, 3)
	path := filepath.Join(t.TempDir(), "models", "unmix_model.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, err := LoadRegressor(path, 0)
	if err != nil {
		t.Fatalf("LoadRegressor returned error: %v", err)
	}
	if loaded.NumClasses() != model.NumClasses() {
		t.Fatalf("loaded model has %d classes, want %d", loaded.NumClasses(), model.NumClasses())
	}
	if loaded.FeatureDim() != model.FeatureDim() {
		t.Fatalf("loaded model has dim %d, want %d", loaded.FeatureDim(), model.FeatureDim())
	}
	for i, s := range samples {
		a, err := model.Predict(s.Features)
		if err != nil {
			t.Fatal(err)
		}
		b, err := loaded.Predict(s.Features)
		if err != nil {
			t.Fatal(err)
		}
		for c := range a {
			if math.Abs(a[c]-b[c]) > 1e-9 {
				t.Fatalf("sample %d class %d: original %.6f, loaded %.6f", i, c, a[c], b[c])
			}
		}
	}
}

func TestLoadRejectsWrongSchemaVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.json")
	data := []byte(`{"version": 99, "k": 1, "classes": ["a"], ` +
		`"scaler": {"mean": [0], "stddev": [1]}, ` +
		`"samples": [{"features": [1], "proportions": [1]}]}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegressor(path, 0); err == nil {
		t.Fatal("expected error for incompatible schema version")
	}
}

func TestLoadRejectsScalerDimensionMismatch(t *testing.T) {
	t.Parallel()

	// a scaler whose stddev vector is shorter than the feature
	// dimension must fail at load, not panic on the first prediction
	path := filepath.Join(t.TempDir(), "model.json")
	data := []byte(`{"version": 1, "k": 1, "classes": ["a"], ` +
		`"scaler": {"mean": [0.1, 0.2, 0.3], "stddev": [1.0]}, ` +
		`"samples": [{"features": [1, 2, 3], "proportions": [1]}]}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegressor(path, 0); err == nil {
		t.Fatal("expected error for scaler/feature dimension mismatch")
	}

	short := []byte(`{"version": 1, "k": 1, "classes": ["a"], ` +
		`"scaler": {"mean": [0.1], "stddev": [1.0, 1.0, 1.0]}, ` +
		`"samples": [{"features": [1, 2, 3], "proportions": [1]}]}`)
	if err := os.WriteFile(path, short, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegressor(path, 0); err == nil {
		t.Fatal("expected error for scaler mean dimension mismatch")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadRegressor(filepath.Join(t.TempDir(), "absent.json"), 0); err == nil {
		t.Fatal("expected error for missing model file")
	}
}

func TestStatsCountsClassSupport(t *testing.T) {
	t.Parallel()

	model, samples := trainedOnPureSamples(t, 2)
	stats := model.Stats()
	if stats.SampleCount != len(samples) {
		t.Fatalf("stats report %d samples, want %d", stats.SampleCount, len(samples))
	}
	if stats.ClassCount != 3 || len(stats.Classes) != 3 {
		t.Fatalf("stats report %d classes, want 3", stats.ClassCount)
	}
	for _, cs := range stats.Classes {
		if cs.Support != 2 {
			t.Fatalf("class %s has support %d, want 2", cs.Name, cs.Support)
		}
	}
}

func TestTrainRegressorValidation(t *testing.T) {
	t.Parallel()

	classes, err := NewClassMapping([]string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := TrainRegressor(nil, classes, 1); err == nil {
		t.Fatal("expected error for empty sample set")
	}

	samples := []MixtureSample{{Features: []float64{1, 2}, Proportions: []float64{1, 0}}}
	if _, err := TrainRegressor(samples, classes, 0); err == nil {
		t.Fatal("expected error for non-positive k")
	}

	bad := []MixtureSample{{Features: []float64{1, 2}, Proportions: []float64{1}}}
	if _, err := TrainRegressor(bad, classes, 1); err == nil {
		t.Fatal("expected error for proportion length mismatch")
	}
}
