package geotiff

import (
	"errors"
	"fmt"
	"math"
)

// Point is a geographic position in the raster's reference system.
type Point struct{ Easting, Northing float64 }

// ProfilePoint is a sampled position along a profile.
type ProfilePoint struct {
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`
	Value    float32 `json:"value"`
}

func (p Point) String() string { return fmt.Sprintf("(E: %f, N: %f)", p.Easting, p.Northing) }

// MaxProfileSteps bounds the pixels a single Profile call walks.
const MaxProfileSteps = 1 << 20

// ErrProfileTooLong is returned when a path crosses more than MaxProfileSteps
// pixels inside the raster.
var ErrProfileTooLong = errors.New("profile too long")

// Profile samples the raster along the polyline path at the raster's native
// pixel resolution. Each pixel is reported once; pixels outside the raster
// are skipped.
func (s *Sampler) Profile(path []Point) ([]ProfilePoint, error) {
	if len(path) < 2 {
		return nil, errors.New("at least two points are required to create a profile")
	}

	var profile []ProfilePoint
	visited := make(map[[2]int]struct{})
	walked := 0

	for i := 0; i < len(path)-1; i++ {
		x1, y1 := s.pixelAtFloat(path[i])
		x2, y2 := s.pixelAtFloat(path[i+1])
		if math.IsNaN(x1+y1+x2+y2) || math.IsInf(x1+y1+x2+y2, 0) {
			return nil, fmt.Errorf("profile segment %d: invalid coordinates", i)
		}

		dx, dy := x2-x1, y2-y1
		steps := math.Ceil(math.Max(math.Abs(dx), math.Abs(dy)))
		if steps == 0 {
			steps = 1
		}
		xInc, yInc := dx/steps, dy/steps

		lo, hi, ok := clipSteps(x1, xInc, float64(s.dir.Width), 0, steps)
		if ok {
			lo, hi, ok = clipSteps(y1, yInc, float64(s.dir.Height), lo, hi)
		}
		if !ok {
			continue
		}
		walked += int(hi-lo) + 1
		if walked > MaxProfileSteps {
			return nil, fmt.Errorf("%w: more than %d pixels", ErrProfileTooLong, MaxProfileSteps)
		}

		for j := lo; j <= hi; j++ {
			x := int(x1 + math.Round(j*xInc))
			y := int(y1 + math.Round(j*yInc))
			if !s.Contains(x, y) {
				continue
			}

			key := [2]int{x, y}
			if _, ok := visited[key]; ok {
				continue
			}
			visited[key] = struct{}{}

			v, err := s.pixel(x, y)
			if err != nil {
				return nil, fmt.Errorf("profile segment %d: %w", i, err)
			}
			e, n := s.Coord(x, y)
			profile = append(profile, ProfilePoint{Easting: e, Northing: n, Value: v})
		}
	}

	return profile, nil
}

// pixelAtFloat is PixelAt without the conversion to int, so far away points
// cannot overflow.
func (s *Sampler) pixelAtFloat(p Point) (x, y float64) {
	x = math.Floor((p.Easting-s.originX)*s.invScaleX + 0.5)
	y = math.Floor((p.Northing-s.originY)*s.invScaleY + 0.5)
	return x, y
}

// clipSteps narrows the step range [lo, hi] of the walk start+j*inc to the
// steps that can round into [0, size). It reports false when none can.
func clipSteps(start, inc, size, lo, hi float64) (float64, float64, bool) {
	if inc == 0 {
		return lo, hi, start >= 0 && start < size
	}
	a := (-1 - start) / inc
	b := (size - start) / inc
	if a > b {
		a, b = b, a
	}
	lo = math.Max(lo, math.Floor(a))
	hi = math.Min(hi, math.Ceil(b))
	return lo, hi, lo <= hi
}
