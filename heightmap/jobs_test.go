package heightmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJobs(t *testing.T) {
	path := writeJobFile(t, `
defaults:
  endpoint: https://avoin-karttakuva.maanmittauslaitos.fi/ortokuvat-ja-korkeusmallit/wcs/v2
  extent: [-548576, 6291456, 1548576, 8388608]
  projection: EPSG:3067
  workers: 4
jobs:
  - coverage_id: korkeusmalli_10m
    output: out/10m
  - name: coarse
    coverage_id: korkeusmalli_2m
    output: out/coarse.mbtiles
    format: mbtiles
    max_zoom: 5
`)

	jobs, err := LoadJobs(path)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "korkeusmalli_10m-0", jobs[0].Name)
	assert.Equal(t, FormatFiles, jobs[0].Format)
	assert.Equal(t, 8, jobs[0].MaxZoom)
	assert.Equal(t, 4, jobs[0].Workers)
	assert.Equal(t, "EPSG:3067", jobs[0].Projection)

	assert.Equal(t, "coarse", jobs[1].Name)
	assert.Equal(t, FormatMBTiles, jobs[1].Format)
	assert.Equal(t, 5, jobs[1].MaxZoom)

	b, err := jobs[1].Bound()
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{-548576, 6291456}, Max: orb.Point{1548576, 8388608}}, b)
}

func TestLoadJobsInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"no jobs", "defaults:\n  endpoint: http://x\n"},
		{"missing endpoint", "jobs:\n  - coverage_id: a\n    output: o\n    extent: [0, 0, 1, 1]\n"},
		{"bad extent", "jobs:\n  - endpoint: http://x\n    coverage_id: a\n    output: o\n    extent: [0, 0, 1]\n"},
		{"bad format", "jobs:\n  - endpoint: http://x\n    coverage_id: a\n    output: o\n    format: png\n    extent: [0, 0, 1, 1]\n"},
		{"not yaml", "jobs: [\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadJobs(writeJobFile(t, tc.content))
			require.Error(t, err)
		})
	}

	_, err := LoadJobs(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
