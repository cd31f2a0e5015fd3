package unmix

import (
	"fmt"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"
)

// MixConfig controls synthetic mixture generation.
type MixConfig struct {
	Samples int

	// Bounds on the number of constituent endmembers per mixture.
	// MaxEndmembers is additionally capped at the number of classes.
	// Zero values default to 1 and 2.
	MinEndmembers int
	MaxEndmembers int

	// Dirichlet concentration for the proportion draw. Zero defaults
	// to 1 (uniform over the simplex).
	Alpha float64

	Seed uint64
}

func (cfg *MixConfig) normalise(classCount int) error {
	if cfg.Samples <= 0 {
		return fmt.Errorf("unmix.Mix: sample count %d must be positive", cfg.Samples)
	}
	if cfg.MinEndmembers == 0 {
		cfg.MinEndmembers = 1
	}
	if cfg.MaxEndmembers == 0 {
		cfg.MaxEndmembers = 2
	}
	if cfg.MaxEndmembers > classCount {
		cfg.MaxEndmembers = classCount
	}
	if cfg.MinEndmembers < 1 || cfg.MinEndmembers > cfg.MaxEndmembers {
		return fmt.Errorf("unmix.Mix: constituent bounds [%d,%d] invalid", cfg.MinEndmembers, cfg.MaxEndmembers)
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = 1
	}
	return nil
}

// Mix generates cfg.Samples synthetic linear mixtures from a labelled
// endmember library. Each mixture draws k distinct library rows, a
// Dirichlet proportion vector over them, and sums the spectra weighted
// by the proportions. The label vector holds the summed proportion per
// class; classes absent from the draw get 0. Single-endmember draws
// (k=1) are deliberately allowed: pure spectra are valid training
// points for a proportion regressor.
//
// The generator is a single preallocated pass, so large sample counts
// stay cheap.
func Mix(library []Endmember, classes *ClassMapping, cfg MixConfig) ([]MixtureSample, error) {
	if len(library) == 0 {
		return nil, fmt.Errorf("unmix.Mix: empty endmember library")
	}
	if err := (&cfg).normalise(classes.Len()); err != nil {
		return nil, err
	}

	nb := len(library[0].Spectrum)
	for _, em := range library {
		if len(em.Spectrum) != nb {
			return nil, fmt.Errorf("unmix.Mix: endmember %s has %d bands, want %d", em.ID, len(em.Spectrum), nb)
		}
		if _, ok := classes.Code(em.Class); !ok {
			return nil, fmt.Errorf("unmix.Mix: endmember %s has unmapped class %q", em.ID, em.Class)
		}
	}
	if cfg.MaxEndmembers > len(library) {
		cfg.MaxEndmembers = len(library)
	}
	if cfg.MinEndmembers > cfg.MaxEndmembers {
		return nil, fmt.Errorf("unmix.Mix: library has %d rows, fewer than the minimum %d constituents",
			len(library), cfg.MinEndmembers)
	}

	src := xrand.NewSource(cfg.Seed)
	rng := xrand.New(src)

	// one Dirichlet per constituent count, reused across samples
	dirichlets := make([]*distmv.Dirichlet, cfg.MaxEndmembers+1)
	for k := cfg.MinEndmembers; k <= cfg.MaxEndmembers; k++ {
		alpha := make([]float64, k)
		for i := range alpha {
			alpha[i] = cfg.Alpha
		}
		dirichlets[k] = distmv.NewDirichlet(alpha, src)
	}

	samples := make([]MixtureSample, cfg.Samples)
	weights := make([]float64, cfg.MaxEndmembers)
	picked := make([]int, cfg.MaxEndmembers)
	for n := range samples {
		k := cfg.MinEndmembers
		if cfg.MaxEndmembers > cfg.MinEndmembers {
			k += rng.Intn(cfg.MaxEndmembers - cfg.MinEndmembers + 1)
		}
		pickDistinct(rng, len(library), picked[:k])
		w := dirichlets[k].Rand(weights[:k])

		s := MixtureSample{
			Features:     make([]float64, nb),
			Proportions:  make([]float64, classes.Len()),
			Constituents: make([]string, k),
			Weights:      make([]float64, k),
		}
		for c := 0; c < k; c++ {
			em := library[picked[c]]
			s.Constituents[c] = em.ID
			s.Weights[c] = w[c]
			for b, v := range em.Spectrum {
				s.Features[b] += w[c] * v
			}
			code, _ := classes.Code(em.Class)
			s.Proportions[code] += w[c]
		}
		samples[n] = s
	}
	return samples, nil
}

// pickDistinct fills dst with distinct indices in [0,n) by rejection,
// avoiding a full permutation allocation per sample. len(dst) is tiny
// relative to n, so collisions are rare.
func pickDistinct(rng *xrand.Rand, n int, dst []int) {
	for i := range dst {
		for {
			c := rng.Intn(n)
			dup := false
			for _, prev := range dst[:i] {
				if prev == c {
					dup = true
					break
				}
			}
			if !dup {
				dst[i] = c
				break
			}
		}
	}
}
