// Command heightmap-tiles fetches an elevation coverage from a WCS 2.0.1
// service and writes it as a pyramid of Cesium heightmap-1.0 tiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"gopkg.in/cheggaaa/pb.v1"

	"github.com/akhenakh/heightmap/geotiff"
	"github.com/akhenakh/heightmap/heightmap"
	"github.com/akhenakh/heightmap/internal/logging"
	"github.com/akhenakh/heightmap/wcs"
)

const appName = "heightmap-tiles"

var (
	jobsFile   = flag.String("jobs", "", "YAML job `file`, replaces the positional arguments")
	format     = flag.String("format", heightmap.FormatFiles, "output format: files or mbtiles")
	projection = flag.String("projection", "EPSG:3067", "projection written to layer.json")
	workers    = flag.Int("workers", 4, "tiles built in parallel")
	margin     = flag.Float64("margin", 0, "widen every coverage request by this many units, 0 means two pixels")
	logLevel   = flag.String("log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	progress   = flag.Bool("progress", true, "show a progress bar")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] endpoint coverageId baseDir minE,minN,maxE,maxN maxZoom
       %s [flags] -jobs jobs.yaml
`, appName, appName)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	logger := logging.New(*logLevel, appName)
	slog.SetDefault(logger)

	jobs, err := loadJobs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, job := range jobs {
		if err := runJob(ctx, job, logger); err != nil {
			logger.Error("job failed", "job", job.Name, "error", err)
			os.Exit(1)
		}
	}
}

func loadJobs(args []string) ([]heightmap.Job, error) {
	if *jobsFile != "" {
		if len(args) > 0 {
			return nil, errors.New("positional arguments are not allowed with -jobs")
		}
		return heightmap.LoadJobs(*jobsFile)
	}
	job, err := jobFromArgs(args)
	if err != nil {
		return nil, err
	}
	return []heightmap.Job{job}, nil
}

func jobFromArgs(args []string) (heightmap.Job, error) {
	if len(args) != 5 {
		return heightmap.Job{}, fmt.Errorf("expected 5 arguments, got %d", len(args))
	}
	extent, err := parseFloats(args[3])
	if err != nil {
		return heightmap.Job{}, fmt.Errorf("invalid extent: %w", err)
	}
	maxZoom, err := strconv.Atoi(args[4])
	if err != nil {
		return heightmap.Job{}, fmt.Errorf("invalid max zoom: %w", err)
	}
	job := heightmap.Job{
		Name:       args[1],
		Endpoint:   args[0],
		CoverageID: args[1],
		Output:     args[2],
		Format:     *format,
		Projection: *projection,
		Extent:     extent,
		MaxZoom:    maxZoom,
		Workers:    *workers,
		Margin:     *margin,
	}
	return job, job.Validate()
}

func parseFloats(csv string) ([]float64, error) {
	parts := strings.Split(csv, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func runJob(ctx context.Context, job heightmap.Job, logger *slog.Logger) error {
	logger = logger.With("job", job.Name)

	client, err := wcs.NewClient(job.Endpoint, wcs.WithLogger(logger))
	if err != nil {
		return err
	}

	caps, err := client.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to get capabilities: %w", err)
	}
	if _, ok := caps.Coverage(job.CoverageID); !ok {
		logger.Warn("coverage not listed in capabilities", "coverage", job.CoverageID)
	}
	if !caps.SupportsFormat(wcs.FormatGeoTIFF) {
		logger.Warn("service does not advertise GeoTIFF output", "formats", caps.Formats)
	}

	desc, err := client.RectifiedGridCoverage(ctx, job.CoverageID)
	if err != nil {
		return err
	}

	extent, err := job.Bound()
	if err != nil {
		return err
	}

	cfg := heightmap.ProcessorConfig{
		Matrix:  heightmap.NewTileMatrix(extent),
		MaxZoom: job.MaxZoom,
		Workers: job.Workers,
	}
	source := heightmap.CoverageSource{
		Fetcher:  client,
		Coverage: desc,
		Margin:   job.Margin,
		Options:  []geotiff.Option{geotiff.WithLogger(logger)},
	}
	if b, err := desc.Bound(); err == nil {
		cfg.DataBound = b
		if source.Margin == 0 {
			source.Margin = pixelMargin(desc)
		}
	} else {
		logger.Warn("coverage has no usable envelope, building every tile", "error", err)
	}

	var w heightmap.Writer
	layer := heightmap.NewLayer(job.Name, job.Projection, extent)
	switch job.Format {
	case heightmap.FormatMBTiles:
		w, err = heightmap.NewMBTilesWriter(job.Output, layer)
	default:
		w, err = heightmap.NewFileWriter(job.Output, layer)
	}
	if err != nil {
		return err
	}

	var bar *pb.ProgressBar
	if *progress {
		cfg.Progress = func(n int64) { bar.Add64(n) }
	}

	p, err := heightmap.NewProcessor(cfg, source, w, logger)
	if err != nil {
		w.Close()
		return err
	}
	if *progress {
		bar = pb.New64(p.Total()).Prefix(job.Name + " : ")
		bar.Start()
	}

	logger.Info("building heightmap pyramid",
		"coverage", desc.ID,
		"output", job.Output,
		"max_zoom", job.MaxZoom,
		"tiles", p.Total())

	runErr := p.Run(ctx)
	if bar != nil {
		bar.FinishPrint(fmt.Sprintf("job %s finished", job.Name))
	}
	if err := w.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close output: %w", err)
	}
	return runErr
}

// pixelMargin returns two pixels of the coverage grid, so the tile edge grid
// points always have a pixel to round to.
func pixelMargin(desc *wcs.CoverageDescription) float64 {
	g := desc.DomainSet.Rectified
	if g == nil {
		return 0
	}
	cols, _, err := g.GridSize()
	if err != nil || cols == 0 {
		return 0
	}
	b, err := desc.Bound()
	if err != nil {
		return 0
	}
	return 2 * (b.Max[0] - b.Min[0]) / float64(cols)
}
