// Package pipeline drives one unmixing run end to end: fetch granule
// and mask, build the quality mask, load the trained model, apply it
// chunk-wise, mask and orthorectify the result, and write a GeoTIFF.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spectral-unmix/raster"
	"spectral-unmix/remote"
	"spectral-unmix/store"
	"spectral-unmix/unmix"
	"spectral-unmix/utils"
)

// Config holds everything one run needs. The worker pool is passed in
// explicitly so its lifecycle belongs to the caller, not to ambient
// state.
type Config struct {
	CubeURL string
	MaskURL string

	ModelPath string
	OutDir    string
	CacheDir  string
	DBPath    string // empty disables run recording

	FlagBands []int // quality flag bands; nil defaults to band 7

	Chunks unmix.ChunkSpec

	// Token authenticates granule downloads (Earthdata bearer token).
	Token string
}

// Result summarises a finished run.
type Result struct {
	RunID    string
	Granule  string
	Output   string
	Duration time.Duration
}

// Run executes one unmixing run. Model-load and chunk failures abort
// the run; the error carries the failing stage.
func Run(ctx context.Context, pool *unmix.Pool, cfg Config) (*Result, error) {
	logger := utils.GetLogger()
	started := time.Now()
	runID := utils.GenerateUniqueID()

	res, err := run(ctx, pool, cfg, logger)

	if cfg.DBPath != "" {
		record := store.RunRecord{
			ID:        runID,
			Granule:   cfg.CubeURL,
			MaskURL:   cfg.MaskURL,
			ChunkRows: cfg.Chunks.Rows,
			ChunkCols: cfg.Chunks.Cols,
			Workers:   pool.Workers(),
			Status:    "success",
			StartedAt: started,
			Duration:  time.Since(started),
		}
		if err != nil {
			record.Status = "failed"
			record.Reason = err.Error()
		} else {
			record.Granule = res.Granule
			record.Output = res.Output
		}
		if db, dbErr := store.NewSQLiteClient(cfg.DBPath); dbErr != nil {
			logger.WarnContext(ctx, "run history unavailable", slog.Any("error", dbErr))
		} else {
			if recErr := db.RecordRun(record); recErr != nil {
				logger.WarnContext(ctx, "failed to record run", slog.Any("error", recErr))
			}
			db.Close()
		}
	}

	if err != nil {
		return nil, err
	}
	res.RunID = runID
	res.Duration = time.Since(started)
	return res, nil
}

func run(ctx context.Context, pool *unmix.Pool, cfg Config, logger *slog.Logger) (*Result, error) {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join("data", "granules")
	}
	if cfg.OutDir == "" {
		cfg.OutDir = filepath.Join("data", "unmixed")
	}
	flagBands := cfg.FlagBands
	if len(flagBands) == 0 {
		flagBands = []int{7}
	}

	logger.InfoContext(ctx, "connecting to granule files",
		slog.String("cube", cfg.CubeURL), slog.String("mask", cfg.MaskURL))
	client := remote.NewClient()
	cubePath, err := client.Download(ctx, cfg.CubeURL, cfg.CacheDir, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("fetching cube: %w", err)
	}
	maskPath, err := client.Download(ctx, cfg.MaskURL, cfg.CacheDir, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("fetching mask: %w", err)
	}

	logger.InfoContext(ctx, "creating quality mask", slog.Any("flagBands", flagBands))
	maskFile, err := os.Open(maskPath)
	if err != nil {
		return nil, fmt.Errorf("opening mask: %w", err)
	}
	defer maskFile.Close()
	mask, err := raster.ReadMask(maskFile, flagBands)
	if err != nil {
		return nil, fmt.Errorf("reading mask: %w", err)
	}

	logger.InfoContext(ctx, "reading spectral cube")
	cubeFile, err := os.Open(cubePath)
	if err != nil {
		return nil, fmt.Errorf("opening cube: %w", err)
	}
	defer cubeFile.Close()
	cube, err := raster.ReadCube(cubeFile)
	if err != nil {
		return nil, fmt.Errorf("reading cube: %w", err)
	}
	cube = cube.DropBadBands()

	if cube.Rows() != mask.Rows() || cube.Cols() != mask.Cols() {
		return nil, fmt.Errorf("cube shape %dx%d does not match mask %dx%d",
			cube.Rows(), cube.Cols(), mask.Rows(), mask.Cols())
	}

	// model problems must surface before any chunk is scheduled
	logger.InfoContext(ctx, "loading model", slog.String("path", cfg.ModelPath))
	model, err := unmix.LoadRegressor(cfg.ModelPath, 0)
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}

	logger.InfoContext(ctx, "applying model",
		slog.Int("rows", cube.Rows()), slog.Int("cols", cube.Cols()),
		slog.Int("bands", cube.Bands()), slog.Int("workers", pool.Workers()))
	result, err := pool.Apply(ctx, cube, model, cfg.Chunks)
	if err != nil {
		return nil, fmt.Errorf("applying model: %w", err)
	}

	logger.InfoContext(ctx, "applying quality mask")
	if err := unmix.ApplyMask(result, mask, unmix.Sentinel); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "orthorectifying result")
	ortho, err := raster.OrthorectifyResult(result, cube)
	if err != nil {
		return nil, err
	}

	if err := utils.CreateFolder(cfg.OutDir); err != nil {
		return nil, err
	}
	outPath := filepath.Join(cfg.OutDir, outputName(cubePath))
	logger.InfoContext(ctx, "writing geotiff", slog.String("path", outPath))
	if err := raster.WriteGeoTIFF(outPath, ortho, model.Classes().Names(), cube.Geotransform); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "success", slog.String("granule", cube.Granule))
	return &Result{Granule: cube.Granule, Output: outPath}, nil
}

func outputName(cubePath string) string {
	base := filepath.Base(cubePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return "unmixed_" + base + ".tiff"
}
