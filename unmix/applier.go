package unmix

// Chunked application of a trained model over a spectral cube.
//
// The cube is split into rectangular spatial chunks that are pure
// functions of (chunk data, shared read-only model), so they fan out
// to a fixed pool of workers with no locking: every chunk writes a
// disjoint region of the preallocated output array. The pool handle
// is explicit; nothing here reaches into global scheduler state.

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/ctessum/sparse"

	"spectral-unmix/raster"
)

// Sentinel overwrites every class band of a pixel the quality mask
// flags as unusable.
const Sentinel = -9999.0

// Predictor is the read-only trained model contract the applier
// needs. Implementations must be safe for concurrent use.
type Predictor interface {
	NumClasses() int
	FeatureDim() int
	PredictInto(features, out []float64) error
}

// ChunkSpec is the spatial tile size used to partition a cube. Zero
// or negative sizes mean "whole axis".
type ChunkSpec struct {
	Rows int
	Cols int
}

// Pool schedules chunk evaluations over a fixed number of workers.
// Create it once, pass it into Apply, and reuse it across runs.
type Pool struct {
	workers int

	// ChunkTimeout bounds a single chunk attempt; zero disables it.
	ChunkTimeout time.Duration
	// ChunkRetries re-runs a failed chunk this many times before the
	// run is failed.
	ChunkRetries int
}

// NewPool returns a pool with the given worker count, defaulting to
// GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the worker count.
func (p *Pool) Workers() int { return p.workers }

type chunkTask struct {
	row0, col0 int
	rows, cols int
}

// ChunkError reports which chunk failed a run.
type ChunkError struct {
	Row, Col int // spatial origin of the failing chunk
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk at (%d,%d): %v", e.Row, e.Col, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Apply runs the model over every pixel of the cube, chunk by chunk,
// and returns a rows x cols x classes proportion array with values
// clipped to [0,100]. Bad bands must already be dropped from the cube
// (DropBadBands); remaining NaN values are zero-filled before
// prediction. The run fails fast: the first chunk error cancels all
// outstanding work and is returned wrapped in a ChunkError carrying
// the chunk's spatial origin.
func (p *Pool) Apply(ctx context.Context, cube *raster.Cube, model Predictor, chunks ChunkSpec) (*sparse.DenseArray, error) {
	if model.FeatureDim() != cube.Bands() {
		return nil, fmt.Errorf("unmix.Apply: cube has %d bands, model expects %d", cube.Bands(), model.FeatureDim())
	}
	rows, cols := cube.Rows(), cube.Cols()
	if chunks.Rows <= 0 || chunks.Rows > rows {
		chunks.Rows = rows
	}
	if chunks.Cols <= 0 || chunks.Cols > cols {
		chunks.Cols = cols
	}

	out := sparse.ZerosDense(rows, cols, model.NumClasses())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan chunkTask)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				if err := p.runChunk(ctx, cube, model, task, out); err != nil {
					// a cancellation caused by another chunk's failure
					// is a no-op here; errOnce keeps the first cause
					fail(&ChunkError{Row: task.row0, Col: task.col0, Err: err})
					return
				}
			}
		}()
	}

	// enqueue in row-major order; the chunk->region mapping is carried
	// by the task itself, so completion order does not matter
enqueue:
	for r := 0; r < rows; r += chunks.Rows {
		for c := 0; c < cols; c += chunks.Cols {
			task := chunkTask{
				row0: r,
				col0: c,
				rows: minInt(chunks.Rows, rows-r),
				cols: minInt(chunks.Cols, cols-c),
			}
			select {
			case tasks <- task:
			case <-ctx.Done():
				break enqueue
			}
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pool) runChunk(ctx context.Context, cube *raster.Cube, model Predictor, task chunkTask, out *sparse.DenseArray) error {
	var err error
	for attempt := 0; attempt <= p.ChunkRetries; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.ChunkTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.ChunkTimeout)
		}
		err = predictChunk(attemptCtx, cube, model, task, out)
		if cancel != nil {
			cancel()
		}
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// predictChunk flattens the chunk's pixels, zero-fills missing values
// and writes clipped per-class predictions into the chunk's region of
// the shared output.
func predictChunk(ctx context.Context, cube *raster.Cube, model Predictor, task chunkTask, out *sparse.DenseArray) error {
	features := make([]float64, cube.Bands())
	pred := make([]float64, model.NumClasses())
	for i := task.row0; i < task.row0+task.rows; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for j := task.col0; j < task.col0+task.cols; j++ {
			features = cube.Spectrum(i, j, features)
			for b, v := range features {
				if math.IsNaN(v) {
					features[b] = 0
				}
			}
			if err := model.PredictInto(features, pred); err != nil {
				return err
			}
			for c, v := range pred {
				if v < 0 {
					v = 0
				} else if v > 100 {
					v = 100
				}
				out.Set(v, i, j, c)
			}
		}
	}
	return nil
}

// ApplyMask overwrites every class band of pixels flagged by the
// quality mask with the sentinel value.
func ApplyMask(arr *sparse.DenseArray, mask *raster.Mask, sentinel float64) error {
	if len(arr.Shape) != 3 {
		return fmt.Errorf("unmix.ApplyMask: array has %d dims, want 3", len(arr.Shape))
	}
	if arr.Shape[0] != mask.Rows() || arr.Shape[1] != mask.Cols() {
		return fmt.Errorf("unmix.ApplyMask: array shape %dx%d does not match mask %dx%d",
			arr.Shape[0], arr.Shape[1], mask.Rows(), mask.Cols())
	}
	nc := arr.Shape[2]
	for i := 0; i < arr.Shape[0]; i++ {
		for j := 0; j < arr.Shape[1]; j++ {
			if !mask.Flagged(i, j) {
				continue
			}
			for c := 0; c < nc; c++ {
				arr.Set(sentinel, i, j, c)
			}
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
