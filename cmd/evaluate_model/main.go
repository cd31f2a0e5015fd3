package main

// Evaluates a saved unmixing model against a freshly generated,
// seeded synthetic mixture set and reports per-class error metrics.

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"

	"spectral-unmix/store"
	"spectral-unmix/unmix"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	ModelPath  string
	DBPath     string
	Samples    int
	Seed       uint64
	ReportPath string
}

// ClassMetrics tracks per-class error
type ClassMetrics struct {
	ClassName string  `json:"className"`
	MAE       float64 `json:"mae"`  // mean absolute error, proportion points
	RMSE      float64 `json:"rmse"` // root mean squared error, proportion points
	Bias      float64 `json:"bias"` // mean signed error
}

// EvaluationReport contains the full evaluation result
type EvaluationReport struct {
	Timestamp      time.Time      `json:"timestamp"`
	ModelPath      string         `json:"modelPath"`
	TotalSamples   int            `json:"totalSamples"`
	OverallMAE     float64        `json:"overallMAE"`
	OverallRMSE    float64        `json:"overallRMSE"`
	ClassMetrics   []ClassMetrics `json:"classMetrics"`
	ProcessingTime time.Duration  `json:"processingTime"`
}

func main() {
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Model Evaluation Pipeline ===")
	log.Printf("Model: %s\n", config.ModelPath)
	log.Printf("Evaluation samples: %d (seed %d)\n", config.Samples, config.Seed)
	log.Println()

	log.Println("Loading trained model...")
	model, err := unmix.LoadRegressor(config.ModelPath, 0)
	if err != nil {
		log.Fatalf("ERROR: Failed to load model: %v", err)
	}
	stats := model.Stats()
	log.Printf("Loaded %d samples covering %d classes\n", stats.SampleCount, stats.ClassCount)
	log.Println()

	log.Println("Generating evaluation mixtures...")
	db, err := store.NewSQLiteClient(config.DBPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open library database: %v", err)
	}
	defer db.Close()
	library, err := db.LoadEndmembers("")
	if err != nil {
		log.Fatalf("ERROR: Failed to load endmembers: %v", err)
	}
	evalSet, err := unmix.Mix(library, model.Classes(), unmix.MixConfig{
		Samples: config.Samples,
		Seed:    config.Seed,
	})
	if err != nil {
		log.Fatalf("ERROR: Mixture generation failed: %v", err)
	}
	log.Println()

	log.Println("Evaluating model...")
	report := evaluateModel(model, evalSet, config)
	printEvaluationReport(report)

	if config.ReportPath != "" {
		if err := saveReport(report, config.ReportPath); err != nil {
			log.Printf("WARNING: Failed to save report: %v\n", err)
		} else {
			log.Printf("\nReport saved to: %s\n", config.ReportPath)
		}
	}
}

func parseFlags() EvaluationConfig {
	config := EvaluationConfig{}

	flag.StringVar(&config.ModelPath, "model", "models/unmix_model.json",
		"Path to trained model")
	flag.StringVar(&config.DBPath, "db", "data/unmix.db",
		"SQLite spectral library path")
	flag.IntVar(&config.Samples, "samples", 5000,
		"Number of evaluation mixtures to generate")
	flag.Uint64Var(&config.Seed, "seed", 1234,
		"Random seed for the evaluation set (use a seed different from training)")
	flag.StringVar(&config.ReportPath, "report", "evaluation_report.json",
		"Path to save evaluation report (empty to skip)")

	flag.Parse()
	_ = godotenv.Load()

	return config
}

func evaluateModel(model *unmix.Regressor, evalSet []unmix.MixtureSample, config EvaluationConfig) EvaluationReport {
	started := time.Now()
	nc := model.NumClasses()

	absSum := make([]float64, nc)
	sqSum := make([]float64, nc)
	signedSum := make([]float64, nc)
	evaluated := 0

	for _, s := range evalSet {
		pred, err := model.Predict(s.Features)
		if err != nil {
			log.Printf("WARNING: prediction failed: %v\n", err)
			continue
		}
		for c := 0; c < nc; c++ {
			diff := pred[c] - s.Proportions[c]*100
			absSum[c] += math.Abs(diff)
			sqSum[c] += diff * diff
			signedSum[c] += diff
		}
		evaluated++
	}

	report := EvaluationReport{
		Timestamp:      time.Now(),
		ModelPath:      config.ModelPath,
		TotalSamples:   evaluated,
		ProcessingTime: time.Since(started),
	}
	if evaluated == 0 {
		return report
	}

	n := float64(evaluated)
	var totalAbs, totalSq float64
	for c := 0; c < nc; c++ {
		name, _ := model.Classes().Name(c)
		report.ClassMetrics = append(report.ClassMetrics, ClassMetrics{
			ClassName: name,
			MAE:       absSum[c] / n,
			RMSE:      math.Sqrt(sqSum[c] / n),
			Bias:      signedSum[c] / n,
		})
		totalAbs += absSum[c]
		totalSq += sqSum[c]
	}
	report.OverallMAE = totalAbs / (n * float64(nc))
	report.OverallRMSE = math.Sqrt(totalSq / (n * float64(nc)))
	return report
}

func printEvaluationReport(report EvaluationReport) {
	log.Println()
	log.Println("=== Evaluation Report ===")
	log.Printf("Samples evaluated: %d\n", report.TotalSamples)
	log.Printf("Overall MAE: %.2f proportion points\n", report.OverallMAE)
	log.Printf("Overall RMSE: %.2f proportion points\n", report.OverallRMSE)
	log.Println()
	log.Println("Per-class error:")
	for _, cm := range report.ClassMetrics {
		log.Printf("  %-20s MAE=%6.2f RMSE=%6.2f bias=%+6.2f\n",
			cm.ClassName, cm.MAE, cm.RMSE, cm.Bias)
	}
	log.Printf("\nEvaluation time: %.2f seconds\n", report.ProcessingTime.Seconds())
}

func saveReport(report EvaluationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
