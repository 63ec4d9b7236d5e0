package heightmap

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// Writer persists encoded tiles.
type Writer interface {
	WriteTile(ctx context.Context, t Tile, data []byte) error
	Close() error
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Matrix  TileMatrix
	MaxZoom int
	// Roots are the tiles the walk starts from, all of the zoom 0 tiles when
	// empty.
	Roots []Tile
	// DataBound, when not zero, skips tiles (and their subtrees) that do
	// not intersect it.
	DataBound orb.Bound
	// Workers bounds the number of tiles built in parallel. Zero means
	// GOMAXPROCS.
	Workers int
	// Progress is called with the number of tiles written or skipped.
	Progress func(n int64)
}

// Processor builds the heightmap pyramid of a source.
type Processor struct {
	cfg    ProcessorConfig
	source Source
	writer Writer
	logger *slog.Logger
}

// NewProcessor returns a processor writing the tiles of source to w.
func NewProcessor(cfg ProcessorConfig, source Source, w Writer, logger *slog.Logger) (*Processor, error) {
	if err := cfg.Matrix.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxZoom < 0 {
		return nil, fmt.Errorf("invalid max zoom %d", cfg.MaxZoom)
	}
	if len(cfg.Roots) == 0 {
		cfg.Roots = cfg.Matrix.Roots()
	}
	for _, t := range cfg.Roots {
		if !cfg.Matrix.Contains(t) {
			return nil, fmt.Errorf("root tile %s is outside the tile matrix", t)
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Progress == nil {
		cfg.Progress = func(int64) {}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{cfg: cfg, source: source, writer: w, logger: logger}, nil
}

// Total returns how many tiles a full run visits.
func (p *Processor) Total() int64 {
	var n int64
	for _, t := range p.cfg.Roots {
		n += SubtreeSize(t.Z, p.cfg.MaxZoom)
	}
	return n
}

// Run builds every tile from the roots down to MaxZoom, one zoom level at a
// time. It does not close the writer.
func (p *Processor) Run(ctx context.Context) error {
	start := time.Now()
	level := p.cfg.Roots
	var written int64

	for len(level) > 0 {
		var (
			mu   sync.Mutex
			next []Tile
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Workers)
		for _, t := range level {
			if t.Z > p.cfg.MaxZoom {
				continue
			}
			g.Go(func() error {
				ok, err := p.processTile(gctx, t)
				if err != nil {
					return fmt.Errorf("tile %s: %w", t, err)
				}
				if !ok {
					p.cfg.Progress(SubtreeSize(t.Z, p.cfg.MaxZoom))
					return nil
				}
				p.cfg.Progress(1)
				mu.Lock()
				defer mu.Unlock()
				written++
				if t.Z < p.cfg.MaxZoom {
					children := t.Children()
					next = append(next, children[:]...)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		p.logger.Info("zoom level done", "zoom", level[0].Z, "tiles", len(level))
		level = next
	}

	p.logger.Info("heightmap pyramid done", "tiles", written, "duration", time.Since(start))
	return nil
}

// processTile samples, encodes and writes t. It reports false when t lies
// outside the data bound.
func (p *Processor) processTile(ctx context.Context, t Tile) (bool, error) {
	bound := p.cfg.Matrix.TileBound(t)
	if !p.hasData(bound) {
		return false, nil
	}

	sampler, err := p.source.Sampler(ctx, bound)
	if err != nil {
		return false, err
	}

	heights := Sample(p.cfg.Matrix, bound, sampler)

	var mask byte
	if t.Z < p.cfg.MaxZoom {
		mask = p.childMask(t)
	}
	data, err := Encode(heights, mask)
	if err != nil {
		return false, err
	}
	if err := p.writer.WriteTile(ctx, t, data); err != nil {
		return false, fmt.Errorf("failed to write tile: %w", err)
	}
	return true, nil
}

func (p *Processor) childMask(t Tile) byte {
	var mask byte
	for i, c := range t.Children() {
		if p.hasData(p.cfg.Matrix.TileBound(c)) {
			mask |= 1 << i
		}
	}
	return mask
}

func (p *Processor) hasData(b orb.Bound) bool {
	return p.cfg.DataBound.IsZero() || p.cfg.DataBound.Intersects(b)
}

// Sample returns the GridSize x GridSize heights of bound, row 0 north.
func Sample(m TileMatrix, bound orb.Bound, s PointSampler) []float32 {
	heights := make([]float32, m.GridSize*m.GridSize)
	for row := 0; row < m.GridSize; row++ {
		for col := 0; col < m.GridSize; col++ {
			pt := m.GridPoint(bound, col, row)
			heights[row*m.GridSize+col] = s.SampleAt(pt[0], pt[1])
		}
	}
	return heights
}
