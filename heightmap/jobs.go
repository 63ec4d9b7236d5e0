package heightmap

import (
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// Job describes one pyramid to build from a WCS coverage.
type Job struct {
	Name       string    `yaml:"name"`
	Endpoint   string    `yaml:"endpoint"`
	CoverageID string    `yaml:"coverage_id"`
	Output     string    `yaml:"output"`
	Format     string    `yaml:"format"`
	Projection string    `yaml:"projection"`
	Extent     []float64 `yaml:"extent"`
	MaxZoom    int       `yaml:"max_zoom"`
	Workers    int       `yaml:"workers"`
	// Margin widens every coverage request, in coverage units.
	Margin float64 `yaml:"margin"`
}

// Output formats of a job.
const (
	FormatFiles   = "files"
	FormatMBTiles = "mbtiles"
)

// JobFile is the YAML document listing jobs.
type JobFile struct {
	Defaults Job   `yaml:"defaults"`
	Jobs     []Job `yaml:"jobs"`
}

// Bound returns the tile matrix extent of the job.
func (j Job) Bound() (orb.Bound, error) {
	if len(j.Extent) != 4 {
		return orb.Bound{}, fmt.Errorf("extent must have 4 values, got %d", len(j.Extent))
	}
	b := orb.Bound{Min: orb.Point{j.Extent[0], j.Extent[1]}, Max: orb.Point{j.Extent[2], j.Extent[3]}}
	if b.Max[0] <= b.Min[0] || b.Max[1] <= b.Min[1] {
		return orb.Bound{}, fmt.Errorf("invalid extent %v", j.Extent)
	}
	return b, nil
}

// Validate checks a job after defaults were applied.
func (j Job) Validate() error {
	var errs []error
	if j.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if j.CoverageID == "" {
		errs = append(errs, errors.New("coverage_id is required"))
	}
	if j.Output == "" {
		errs = append(errs, errors.New("output is required"))
	}
	if j.Format != FormatFiles && j.Format != FormatMBTiles {
		errs = append(errs, fmt.Errorf("unknown format %q", j.Format))
	}
	if j.MaxZoom < 0 {
		errs = append(errs, fmt.Errorf("invalid max_zoom %d", j.MaxZoom))
	}
	if _, err := j.Bound(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	return nil
}

// LoadJobs reads a job file, fills every job's missing values from the
// defaults section and validates the result.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f JobFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse job file %s: %w", path, err)
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("job file %s has no jobs", path)
	}

	applyDefaults(&f.Defaults, Job{Format: FormatFiles, MaxZoom: 8})
	jobs := make([]Job, len(f.Jobs))
	for i, j := range f.Jobs {
		applyDefaults(&j, f.Defaults)
		if j.Name == "" {
			j.Name = fmt.Sprintf("%s-%d", j.CoverageID, i)
		}
		if err := j.Validate(); err != nil {
			return nil, err
		}
		jobs[i] = j
	}
	return jobs, nil
}

func applyDefaults(j *Job, d Job) {
	if j.Endpoint == "" {
		j.Endpoint = d.Endpoint
	}
	if j.CoverageID == "" {
		j.CoverageID = d.CoverageID
	}
	if j.Output == "" {
		j.Output = d.Output
	}
	if j.Format == "" {
		j.Format = d.Format
	}
	if j.Projection == "" {
		j.Projection = d.Projection
	}
	if len(j.Extent) == 0 {
		j.Extent = d.Extent
	}
	if j.MaxZoom == 0 {
		j.MaxZoom = d.MaxZoom
	}
	if j.Workers == 0 {
		j.Workers = d.Workers
	}
	if j.Margin == 0 {
		j.Margin = d.Margin
	}
}
