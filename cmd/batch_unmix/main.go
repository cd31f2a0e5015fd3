package main

// Iterates unmix runs over a list of granule/mask URL pairs read from
// a config file, one whitespace-separated pair per line. Lines
// starting with '#' are skipped. Failed runs are logged and counted;
// the process exits non-zero when any run failed.

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"spectral-unmix/pipeline"
	"spectral-unmix/unmix"
	"spectral-unmix/utils"
)

func main() {
	configPath := flag.String("config", "data/granule_list.txt", "File of '<cube-url> <mask-url>' pairs")
	modelPath := flag.String("model", utils.GetEnv("UNMIX_MODEL", "models/unmix_model.json"), "Trained model path")
	outDir := flag.String("out", "data/unmixed", "Output directory for GeoTIFFs")
	cacheDir := flag.String("cache", "data/granules", "Granule download cache")
	dbPath := flag.String("db", utils.GetEnv("UNMIX_DB", "data/unmix.db"), "SQLite run-history path")
	chunkRows := flag.Int("chunk-rows", 100, "Chunk height in pixels")
	chunkCols := flag.Int("chunk-cols", 100, "Chunk width in pixels")
	workers := flag.Int("workers", 0, "Worker count (0 = GOMAXPROCS)")
	logLevel := flag.String("log", utils.GetEnv("LOG_LEVEL", "info"), "Log level")
	flag.Parse()
	_ = godotenv.Load()

	logger := utils.SetLogLevel(*logLevel)
	ctx := context.Background()

	pairs, err := readPairs(*configPath)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read config", slog.Any("error", xerrors.New(err)))
		os.Exit(2)
	}
	if len(pairs) == 0 {
		logger.ErrorContext(ctx, "no granule pairs in config", slog.String("path", *configPath))
		os.Exit(2)
	}

	// one pool shared across the whole batch
	pool := unmix.NewPool(*workers)

	failures := 0
	for i, p := range pairs {
		logger.InfoContext(ctx, "starting batch entry",
			slog.Int("index", i+1), slog.Int("total", len(pairs)), slog.String("cube", p[0]))

		result, err := pipeline.Run(ctx, pool, pipeline.Config{
			CubeURL:   p[0],
			MaskURL:   p[1],
			ModelPath: *modelPath,
			OutDir:    *outDir,
			CacheDir:  *cacheDir,
			DBPath:    *dbPath,
			Chunks:    unmix.ChunkSpec{Rows: *chunkRows, Cols: *chunkCols},
			Token:     utils.GetEnv("EARTHDATA_TOKEN", ""),
		})
		if err != nil {
			failures++
			logger.ErrorContext(ctx, "batch entry failed",
				slog.String("cube", p[0]), slog.Any("error", xerrors.New(err)))
			continue
		}
		logger.InfoContext(ctx, "batch entry complete",
			slog.String("runID", result.RunID), slog.String("output", result.Output))
	}

	logger.InfoContext(ctx, "batch finished",
		slog.Int("total", len(pairs)), slog.Int("failed", failures))
	if failures > 0 {
		os.Exit(1)
	}
}

func readPairs(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs [][2]string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want '<cube-url> <mask-url>', got %q", line, text)
		}
		pairs = append(pairs, [2]string{fields[0], fields[1]})
	}
	return pairs, scanner.Err()
}
