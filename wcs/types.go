// Package wcs is a small OGC Web Coverage Service 2.0 client: it reads the
// capabilities and coverage descriptions of a service and fetches coverage
// subsets as GeoTIFF bytes.
package wcs

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// SubtypeRectifiedGridCoverage is the coverage subtype of regular grids.
const SubtypeRectifiedGridCoverage = "RectifiedGridCoverage"

// Capabilities is the subset of a GetCapabilities response the heightmap
// tooling needs.
type Capabilities struct {
	XMLName  xml.Name `xml:"Capabilities"`
	Version  string   `xml:"version,attr"`
	Title    string   `xml:"ServiceIdentification>Title"`
	Profiles []string `xml:"ServiceIdentification>Profile"`
	Formats  []string `xml:"ServiceMetadata>formatSupported"`

	Coverages []CoverageSummary `xml:"Contents>CoverageSummary"`
}

// CoverageSummary lists one coverage offered by the service.
type CoverageSummary struct {
	ID      string `xml:"CoverageId"`
	Subtype string `xml:"CoverageSubtype"`
}

// Coverage returns the summary of the coverage named id.
func (c *Capabilities) Coverage(id string) (CoverageSummary, bool) {
	for _, cs := range c.Coverages {
		if cs.ID == id {
			return cs, true
		}
	}
	return CoverageSummary{}, false
}

// SupportsFormat reports whether the service advertises mime type format.
func (c *Capabilities) SupportsFormat(format string) bool {
	for _, f := range c.Formats {
		if strings.EqualFold(strings.TrimSpace(f), format) {
			return true
		}
	}
	return false
}

type coverageDescriptions struct {
	Descriptions []CoverageDescription `xml:"CoverageDescription"`
}

// CoverageDescription is one DescribeCoverage entry.
type CoverageDescription struct {
	GMLID        string    `xml:"id,attr"`
	ID           string    `xml:"CoverageId"`
	Envelope     Envelope  `xml:"boundedBy>Envelope"`
	DomainSet    DomainSet `xml:"domainSet"`
	Subtype      string    `xml:"ServiceParameters>CoverageSubtype"`
	NativeFormat string    `xml:"ServiceParameters>nativeFormat"`
}

// Envelope is a gml:Envelope with its axis labels.
type Envelope struct {
	SRSName     string `xml:"srsName,attr"`
	AxisLabels  string `xml:"axisLabels,attr"`
	LowerCorner string `xml:"lowerCorner"`
	UpperCorner string `xml:"upperCorner"`
}

// DomainSet holds whichever grid the coverage is defined on.
type DomainSet struct {
	Rectified *RectifiedGrid `xml:"RectifiedGrid"`
	Grid      *struct{}      `xml:"Grid"`
}

// RectifiedGrid is a gml:RectifiedGrid.
type RectifiedGrid struct {
	Dimension     int      `xml:"dimension,attr"`
	Low           string   `xml:"limits>GridEnvelope>low"`
	High          string   `xml:"limits>GridEnvelope>high"`
	AxisLabels    string   `xml:"axisLabels"`
	Origin        string   `xml:"origin>Point>pos"`
	OffsetVectors []string `xml:"offsetVector"`
}

// IsRectifiedGrid reports whether the coverage is a rectified grid
// coverage, from its subtype or, for services omitting it, its domain set.
func (d *CoverageDescription) IsRectifiedGrid() bool {
	if d.Subtype != "" {
		return d.Subtype == SubtypeRectifiedGridCoverage
	}
	return d.DomainSet.Rectified != nil
}

// Axes returns the two axis labels of the envelope, falling back to E and N.
func (d *CoverageDescription) Axes() (x, y string) {
	labels := strings.Fields(d.Envelope.AxisLabels)
	if len(labels) >= 2 {
		return labels[0], labels[1]
	}
	return "E", "N"
}

// Bound returns the envelope as an orb.Bound in the coverage's axis order.
func (d *CoverageDescription) Bound() (orb.Bound, error) {
	lower, err := parsePos(d.Envelope.LowerCorner)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("lowerCorner: %w", err)
	}
	upper, err := parsePos(d.Envelope.UpperCorner)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("upperCorner: %w", err)
	}
	return orb.Bound{Min: lower, Max: upper}, nil
}

// GridSize returns the number of columns and rows of a rectified grid.
func (g *RectifiedGrid) GridSize() (cols, rows int, err error) {
	low := strings.Fields(g.Low)
	high := strings.Fields(g.High)
	if len(low) < 2 || len(high) < 2 {
		return 0, 0, fmt.Errorf("invalid grid envelope %q %q", g.Low, g.High)
	}
	var v [4]int
	for i, s := range []string{low[0], low[1], high[0], high[1]} {
		if v[i], err = strconv.Atoi(s); err != nil {
			return 0, 0, fmt.Errorf("invalid grid envelope: %w", err)
		}
	}
	return v[2] - v[0] + 1, v[3] - v[1] + 1, nil
}

func parsePos(s string) (orb.Point, error) {
	f := strings.Fields(s)
	if len(f) < 2 {
		return orb.Point{}, fmt.Errorf("expected two coordinates in %q", s)
	}
	x, err := strconv.ParseFloat(f[0], 64)
	if err != nil {
		return orb.Point{}, err
	}
	y, err := strconv.ParseFloat(f[1], 64)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{x, y}, nil
}

// ServiceError is an OWS ExceptionReport returned by the service.
type ServiceError struct {
	Code    string
	Locator string
	Text    string
}

func (e *ServiceError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("wcs exception %s (%s): %s", e.Code, e.Locator, e.Text)
	}
	return fmt.Sprintf("wcs exception %s: %s", e.Code, e.Text)
}

type exceptionReport struct {
	XMLName    xml.Name `xml:"ExceptionReport"`
	Exceptions []struct {
		Code    string `xml:"exceptionCode,attr"`
		Locator string `xml:"locator,attr"`
		Text    string `xml:"ExceptionText"`
	} `xml:"Exception"`
}
