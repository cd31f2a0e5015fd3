package unmix

// K-nearest-neighbour proportion regressor.
//
// Training samples are synthetic mixtures whose feature vectors have
// been z-score scaled and L2 normalised. Prediction finds the k
// nearest samples by cosine distance and returns the
// inverse-distance-weighted average of their proportion vectors,
// rescaled to 0-100 per class. The model is immutable once
// constructed or loaded, so it may be shared read-only across any
// number of worker goroutines.

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// ModelSchemaVersion identifies the persisted model layout. Loading a
// file with a different version fails rather than misreading it.
const ModelSchemaVersion = 1

const distanceEpsilon = 1e-9

type trainSample struct {
	ID          string    `json:"id,omitempty"`
	Features    []float64 `json:"features"`
	Proportions []float64 `json:"proportions"` // per class, 0-1
}

// Regressor maps a spectral feature vector to per-class proportions.
type Regressor struct {
	k       int
	samples []trainSample
	scaler  *FeatureScaler
	classes *ClassMapping
}

type modelFile struct {
	Version int            `json:"version"`
	K       int            `json:"k"`
	Classes []string       `json:"classes"`
	Scaler  *FeatureScaler `json:"scaler"`
	Samples []trainSample  `json:"samples"`
}

type distancePair struct {
	index    int
	distance float64
}

// TrainRegressor fits a scaler on the mixture features and stores the
// scaled, normalised samples for nearest-neighbour lookup.
func TrainRegressor(samples []MixtureSample, classes *ClassMapping, k int) (*Regressor, error) {
	if len(samples) == 0 {
		return nil, errors.New("no training samples")
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}
	if k > len(samples) {
		k = len(samples)
	}

	features := make([][]float64, len(samples))
	for i := range samples {
		features[i] = samples[i].Features
	}
	scaler, err := NewFeatureScaler(features)
	if err != nil {
		return nil, fmt.Errorf("fitting feature scaler: %w", err)
	}

	stored := make([]trainSample, len(samples))
	for i, s := range samples {
		if len(s.Proportions) != classes.Len() {
			return nil, fmt.Errorf("sample %d has %d proportions, want %d", i, len(s.Proportions), classes.Len())
		}
		f := scaler.Transform(s.Features)
		NormaliseVectorInPlace(f)
		stored[i] = trainSample{
			Features:    f,
			Proportions: append([]float64(nil), s.Proportions...),
		}
	}

	return &Regressor{
		k:       k,
		samples: stored,
		scaler:  scaler,
		classes: classes,
	}, nil
}

// LoadRegressor reads a persisted model. A non-positive k keeps the
// stored neighbour count.
func LoadRegressor(path string, k int) (*Regressor, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load model (%s): %w", path, err)
	}
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("unable to parse model: %w", err)
	}
	if mf.Version != ModelSchemaVersion {
		return nil, fmt.Errorf("model schema version %d incompatible with %d", mf.Version, ModelSchemaVersion)
	}
	if len(mf.Samples) == 0 {
		return nil, errors.New("model has no training samples")
	}
	classes, err := NewClassMapping(mf.Classes)
	if err != nil {
		return nil, fmt.Errorf("model class mapping: %w", err)
	}
	if mf.Scaler == nil {
		return nil, errors.New("model has no feature scaler")
	}

	dim := len(mf.Samples[0].Features)
	for i, s := range mf.Samples {
		if len(s.Features) != dim {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(s.Features), dim)
		}
		if len(s.Proportions) != classes.Len() {
			return nil, fmt.Errorf("sample %d has %d proportions, want %d", i, len(s.Proportions), classes.Len())
		}
	}
	if len(mf.Scaler.Mean) != dim {
		return nil, fmt.Errorf("scaler dimension %d does not match features %d", len(mf.Scaler.Mean), dim)
	}
	if len(mf.Scaler.Stddev) != dim {
		return nil, fmt.Errorf("scaler stddev dimension %d does not match features %d", len(mf.Scaler.Stddev), dim)
	}

	if k <= 0 {
		k = mf.K
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}
	if k > len(mf.Samples) {
		k = len(mf.Samples)
	}

	return &Regressor{
		k:       k,
		samples: mf.Samples,
		scaler:  mf.Scaler,
		classes: classes,
	}, nil
}

// Save persists the model as self-describing JSON, writing to a temp
// file and renaming for atomicity.
func (r *Regressor) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	mf := modelFile{
		Version: ModelSchemaVersion,
		K:       r.k,
		Classes: r.classes.Names(),
		Scaler:  r.scaler,
		Samples: r.samples,
	}
	data, err := json.Marshal(mf)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Classes returns the model's class mapping.
func (r *Regressor) Classes() *ClassMapping { return r.classes }

// NumClasses returns the length of predicted proportion vectors.
func (r *Regressor) NumClasses() int { return r.classes.Len() }

// FeatureDim returns the expected feature vector length.
func (r *Regressor) FeatureDim() int {
	if len(r.samples) == 0 {
		return 0
	}
	return len(r.samples[0].Features)
}

// Stats returns summary metadata about the stored sample set. A class
// supports a sample when it contributes any proportion to it.
func (r *Regressor) Stats() ModelStats {
	support := make([]int, r.classes.Len())
	for _, s := range r.samples {
		for c, p := range s.Proportions {
			if p > 0 {
				support[c]++
			}
		}
	}
	classStats := make([]ClassStat, r.classes.Len())
	for c := range classStats {
		name, _ := r.classes.Name(c)
		classStats[c] = ClassStat{Name: name, Support: support[c]}
	}
	sort.Slice(classStats, func(i, j int) bool { return classStats[i].Name < classStats[j].Name })
	return ModelStats{
		SampleCount: len(r.samples),
		ClassCount:  r.classes.Len(),
		FeatureDim:  r.FeatureDim(),
		K:           r.k,
		Classes:     classStats,
	}
}

// Predict returns the per-class proportion estimate, 0-100, for one
// spectral feature vector. Safe for concurrent use.
func (r *Regressor) Predict(features []float64) ([]float64, error) {
	out := make([]float64, r.classes.Len())
	if err := r.PredictInto(features, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PredictInto is Predict without the output allocation, for per-pixel
// inner loops.
func (r *Regressor) PredictInto(features, out []float64) error {
	if len(features) == 0 {
		return errors.New("feature vector is empty")
	}
	if len(features) != r.FeatureDim() {
		return fmt.Errorf("feature vector has %d bands, model expects %d", len(features), r.FeatureDim())
	}
	if len(out) != r.classes.Len() {
		return fmt.Errorf("output vector has length %d, want %d", len(out), r.classes.Len())
	}

	query := r.scaler.Transform(features)
	NormaliseVectorInPlace(query)

	distances := make([]distancePair, len(r.samples))
	for i := range r.samples {
		// cosine similarity in [-1,1], flipped into a distance
		distances[i] = distancePair{index: i, distance: 1 - cosineSimilarity(query, r.samples[i].Features)}
	}
	sort.Slice(distances, func(i, j int) bool {
		return distances[i].distance < distances[j].distance
	})

	for c := range out {
		out[c] = 0
	}
	var totalWeight float64
	for idx := 0; idx < r.k && idx < len(distances); idx++ {
		neighbour := distances[idx]
		weight := 1.0 / (neighbour.distance + distanceEpsilon)
		for c, p := range r.samples[neighbour.index].Proportions {
			out[c] += weight * p
		}
		totalWeight += weight
	}
	if totalWeight == 0 {
		return errors.New("no usable neighbours")
	}
	for c := range out {
		out[c] = out[c] / totalWeight * 100
		if out[c] < 0 {
			out[c] = 0
		} else if out[c] > 100 {
			out[c] = 100
		}
	}
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < limit; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
