package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"spectral-unmix/pipeline"
	"spectral-unmix/store"
	"spectral-unmix/unmix"
	"spectral-unmix/utils"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	_ = godotenv.Load()

	switch os.Args[1] {
	case "unmix":
		unmixCmd(os.Args[2:])
	case "runs":
		runsCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Expected 'unmix' or 'runs' subcommand")
}

func unmixCmd(args []string) {
	cmd := flag.NewFlagSet("unmix", flag.ExitOnError)
	fURL := cmd.String("f-url", "", "Reflectance granule URL or local path (required)")
	maskURL := cmd.String("mask-url", "", "Quality mask granule URL or local path (required)")
	modelPath := cmd.String("model", utils.GetEnv("UNMIX_MODEL", "models/unmix_model.json"), "Trained model path")
	outDir := cmd.String("out", "data/unmixed", "Output directory for GeoTIFFs")
	cacheDir := cmd.String("cache", "data/granules", "Granule download cache")
	dbPath := cmd.String("db", utils.GetEnv("UNMIX_DB", "data/unmix.db"), "SQLite run-history path (empty disables)")
	chunkRows := cmd.Int("chunk-rows", 100, "Chunk height in pixels")
	chunkCols := cmd.Int("chunk-cols", 100, "Chunk width in pixels")
	workers := cmd.Int("workers", 0, "Worker count (0 = GOMAXPROCS)")
	flagsArg := cmd.String("flags", "7", "Comma-separated quality flag bands")
	logLevel := cmd.String("log", utils.GetEnv("LOG_LEVEL", "info"), "Log level")
	cmd.Parse(args)

	logger := utils.SetLogLevel(*logLevel)
	ctx := context.Background()

	if *fURL == "" || *maskURL == "" {
		fmt.Fprintln(os.Stderr, "unmix: -f-url and -mask-url are required")
		cmd.Usage()
		os.Exit(2)
	}
	flagBands, err := parseFlagBands(*flagsArg)
	if err != nil {
		logger.ErrorContext(ctx, "invalid -flags value", slog.Any("error", xerrors.New(err)))
		os.Exit(2)
	}

	pool := unmix.NewPool(*workers)
	result, err := pipeline.Run(ctx, pool, pipeline.Config{
		CubeURL:   *fURL,
		MaskURL:   *maskURL,
		ModelPath: *modelPath,
		OutDir:    *outDir,
		CacheDir:  *cacheDir,
		DBPath:    *dbPath,
		FlagBands: flagBands,
		Chunks:    unmix.ChunkSpec{Rows: *chunkRows, Cols: *chunkCols},
		Token:     utils.GetEnv("EARTHDATA_TOKEN", ""),
	})
	if err != nil {
		logger.ErrorContext(ctx, "unmix run failed", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}

	logger.InfoContext(ctx, "unmix run complete",
		slog.String("runID", result.RunID),
		slog.String("granule", result.Granule),
		slog.String("output", result.Output),
		slog.Duration("duration", result.Duration),
	)
}

func runsCmd(args []string) {
	cmd := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := cmd.String("db", utils.GetEnv("UNMIX_DB", "data/unmix.db"), "SQLite run-history path")
	limit := cmd.Int("n", 20, "Number of runs to list")
	cmd.Parse(args)

	db, err := store.NewSQLiteClient(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runs: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	runs, err := db.LoadRuns(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runs: %v\n", err)
		os.Exit(1)
	}
	for _, r := range runs {
		status := r.Status
		if r.Reason != "" {
			status += " (" + r.Reason + ")"
		}
		fmt.Printf("%s  %s  %s  %s  %s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, r.Granule, r.Duration, status)
	}
}

func parseFlagBands(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad flag band %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}
