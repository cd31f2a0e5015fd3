package unmix

// Feature scaling for spectral vectors. Reflectance magnitudes vary
// considerably between bright and dark wavelength regions; scaling each
// band to mean=0 std=1 before L2 normalisation keeps the distance
// metric from being dominated by the bright bands.

import (
	"errors"
	"math"
)

// FeatureScaler standardises features using per-band z-score
// normalisation, fit once on the training set and applied unchanged at
// inference time.
type FeatureScaler struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// NewFeatureScaler computes scaling parameters from a set of feature
// vectors.
func NewFeatureScaler(features [][]float64) (*FeatureScaler, error) {
	if len(features) == 0 {
		return nil, errors.New("no feature vectors provided")
	}
	dim := len(features[0])
	if dim == 0 {
		return nil, errors.New("feature vectors are empty")
	}

	mean := make([]float64, dim)
	for _, row := range features {
		if len(row) != dim {
			return nil, errors.New("inconsistent feature dimensions")
		}
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(features))
	}

	stddev := make([]float64, dim)
	for _, row := range features {
		for i, v := range row {
			diff := v - mean[i]
			stddev[i] += diff * diff
		}
	}
	for i := range stddev {
		stddev[i] = math.Sqrt(stddev[i] / float64(len(features)))
		// constant bands would otherwise divide by zero
		if stddev[i] < 1e-10 {
			stddev[i] = 1.0
		}
	}

	return &FeatureScaler{Mean: mean, Stddev: stddev}, nil
}

// Transform applies z-score standardisation, returning a new slice.
// Vectors of the wrong dimension are returned unchanged.
func (fs *FeatureScaler) Transform(features []float64) []float64 {
	if len(features) != len(fs.Mean) {
		return features
	}
	scaled := make([]float64, len(features))
	for i, v := range features {
		scaled[i] = (v - fs.Mean[i]) / fs.Stddev[i]
	}
	return scaled
}

// TransformInPlace standardises a vector without allocating.
func (fs *FeatureScaler) TransformInPlace(features []float64) {
	if len(features) != len(fs.Mean) {
		return
	}
	for i, v := range features {
		features[i] = (v - fs.Mean[i]) / fs.Stddev[i]
	}
}

// NormaliseVectorInPlace scales a vector to unit L2 length. Zero
// vectors are left unchanged.
func NormaliseVectorInPlace(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}
