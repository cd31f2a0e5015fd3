package main

// Trains the unmixing regressor: generates synthetic linear mixtures
// from the cached spectral library, fits the model on a training
// split, reports held-out error, and saves the model artifact.

import (
	"flag"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"spectral-unmix/store"
	"spectral-unmix/unmix"
)

// Config holds training configuration
type Config struct {
	DBPath     string
	Granule    string
	OutputPath string
	Samples    int
	K          int
	MinMix     int
	MaxMix     int
	Alpha      float64
	Seed       uint64
	Holdout    float64
	Verbose    bool
}

func main() {
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("=== Unmixing Model Training Pipeline ===")
	log.Printf("Library: %s\n", config.DBPath)
	log.Printf("Output model: %s\n", config.OutputPath)
	log.Println()

	startTime := time.Now()

	// Step 1: Load the spectral library
	log.Println("Step 1: Loading spectral library...")
	db, err := store.NewSQLiteClient(config.DBPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open library database: %v", err)
	}
	defer db.Close()

	library, err := db.LoadEndmembers(config.Granule)
	if err != nil {
		log.Fatalf("ERROR: Failed to load endmembers: %v", err)
	}
	if len(library) == 0 {
		log.Fatalf("ERROR: Spectral library is empty; run extract_endmembers first")
	}
	classes, err := db.LoadClassMapping()
	if err != nil {
		log.Fatalf("ERROR: Failed to load class mapping: %v", err)
	}
	log.Printf("Loaded %d endmembers covering %d classes: %s\n",
		len(library), classes.Len(), strings.Join(classes.Names(), ", "))
	log.Println()

	// Step 2: Generate synthetic mixtures
	log.Println("Step 2: Generating synthetic mixtures...")
	samples, err := unmix.Mix(library, classes, unmix.MixConfig{
		Samples:       config.Samples,
		MinEndmembers: config.MinMix,
		MaxEndmembers: config.MaxMix,
		Alpha:         config.Alpha,
		Seed:          config.Seed,
	})
	if err != nil {
		log.Fatalf("ERROR: Mixture generation failed: %v", err)
	}
	log.Printf("Generated %d synthetic samples\n", len(samples))

	split := len(samples) - int(float64(len(samples))*config.Holdout)
	if split <= 0 || split > len(samples) {
		log.Fatalf("ERROR: Holdout fraction %.2f leaves no training data", config.Holdout)
	}
	train, holdout := samples[:split], samples[split:]
	log.Printf("Training on %d samples, holding out %d\n", len(train), len(holdout))
	log.Println()

	// Step 3: Fit the regressor
	log.Println("Step 3: Fitting regressor...")
	model, err := unmix.TrainRegressor(train, classes, config.K)
	if err != nil {
		log.Fatalf("ERROR: Training failed: %v", err)
	}

	if len(holdout) > 0 {
		mae := holdoutMAE(model, holdout)
		log.Printf("Held-out mean absolute error: %.2f proportion points\n", mae)
	}
	log.Println()

	// Step 4: Save the model
	log.Println("Step 4: Saving model to disk...")
	if err := model.Save(config.OutputPath); err != nil {
		log.Fatalf("ERROR: Failed to save model: %v", err)
	}
	log.Printf("Model saved to: %s\n", config.OutputPath)
	log.Println()

	printTrainingSummary(model, startTime)
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.DBPath, "db", "data/unmix.db",
		"SQLite spectral library path")
	flag.StringVar(&config.Granule, "granule", "",
		"Restrict the library to one granule (empty = all)")
	flag.StringVar(&config.OutputPath, "output", "models/unmix_model.json",
		"Output path for the trained model")
	flag.IntVar(&config.Samples, "samples", 20000,
		"Number of synthetic mixtures to generate")
	flag.IntVar(&config.K, "k", 5,
		"Number of nearest neighbours")
	flag.IntVar(&config.MinMix, "min-endmembers", 1,
		"Minimum constituents per mixture")
	flag.IntVar(&config.MaxMix, "max-endmembers", 2,
		"Maximum constituents per mixture")
	flag.Float64Var(&config.Alpha, "alpha", 1.0,
		"Dirichlet concentration for proportion draws")
	flag.Uint64Var(&config.Seed, "seed", 42,
		"Random seed for mixture generation")
	flag.Float64Var(&config.Holdout, "holdout", 0.2,
		"Fraction of samples held out for error reporting")
	flag.BoolVar(&config.Verbose, "verbose", false,
		"Enable verbose logging")

	flag.Parse()
	_ = godotenv.Load()

	if _, err := os.Stat(config.DBPath); os.IsNotExist(err) {
		log.Fatalf("ERROR: Library database does not exist: %s", config.DBPath)
	}
	if config.Holdout < 0 || config.Holdout >= 1 {
		log.Fatalf("ERROR: Holdout fraction must be in [0,1): %.2f", config.Holdout)
	}

	return config
}

func holdoutMAE(model *unmix.Regressor, holdout []unmix.MixtureSample) float64 {
	var sum float64
	var n int
	for _, s := range holdout {
		pred, err := model.Predict(s.Features)
		if err != nil {
			log.Printf("  WARNING: holdout prediction failed: %v\n", err)
			continue
		}
		for c, p := range pred {
			sum += math.Abs(p - s.Proportions[c]*100)
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func printTrainingSummary(model *unmix.Regressor, startTime time.Time) {
	stats := model.Stats()

	log.Println("=== Training Summary ===")
	log.Printf("Stored samples: %d\n", stats.SampleCount)
	log.Printf("Feature bands: %d\n", stats.FeatureDim)
	log.Printf("Neighbours (k): %d\n", stats.K)
	log.Println()
	log.Println("Class support:")
	for _, cs := range stats.Classes {
		log.Printf("  %-20s: %6d samples\n", cs.Name, cs.Support)
	}
	log.Println()
	log.Printf("Total training time: %.2f seconds\n", time.Since(startTime).Seconds())
	log.Println("Training complete")
}
