package wcs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const capabilitiesXML = `<?xml version="1.0" encoding="UTF-8"?>
<wcs:Capabilities xmlns:wcs="http://www.opengis.net/wcs/2.0" xmlns:ows="http://www.opengis.net/ows/2.0" version="2.0.1">
  <ows:ServiceIdentification>
    <ows:Title>Elevation</ows:Title>
    <ows:Profile>http://www.opengis.net/spec/WCS_protocol-binding_get-kvp/1.0.1</ows:Profile>
  </ows:ServiceIdentification>
  <wcs:ServiceMetadata>
    <wcs:formatSupported>image/tiff</wcs:formatSupported>
    <wcs:formatSupported>application/gml+xml</wcs:formatSupported>
  </wcs:ServiceMetadata>
  <wcs:Contents>
    <wcs:CoverageSummary>
      <wcs:CoverageId>korkeusmalli_10m</wcs:CoverageId>
      <wcs:CoverageSubtype>RectifiedGridCoverage</wcs:CoverageSubtype>
    </wcs:CoverageSummary>
    <wcs:CoverageSummary>
      <wcs:CoverageId>points</wcs:CoverageId>
      <wcs:CoverageSubtype>MultiPointCoverage</wcs:CoverageSubtype>
    </wcs:CoverageSummary>
  </wcs:Contents>
</wcs:Capabilities>`

const describeXML = `<?xml version="1.0" encoding="UTF-8"?>
<wcs:CoverageDescriptions xmlns:wcs="http://www.opengis.net/wcs/2.0" xmlns:gml="http://www.opengis.net/gml/3.2" xmlns:gmlcov="http://www.opengis.net/gmlcov/1.0">
  <wcs:CoverageDescription gml:id="korkeusmalli_10m">
    <gml:boundedBy>
      <gml:Envelope srsName="http://www.opengis.net/def/crs/EPSG/0/3067" axisLabels="E N" srsDimension="2">
        <gml:lowerCorner>50000 6600000</gml:lowerCorner>
        <gml:upperCorner>760000 7800000</gml:upperCorner>
      </gml:Envelope>
    </gml:boundedBy>
    <wcs:CoverageId>korkeusmalli_10m</wcs:CoverageId>
    <gml:domainSet>
      <gml:RectifiedGrid gml:id="grid" dimension="2">
        <gml:limits>
          <gml:GridEnvelope>
            <gml:low>0 0</gml:low>
            <gml:high>70999 119999</gml:high>
          </gml:GridEnvelope>
        </gml:limits>
        <gml:axisLabels>i j</gml:axisLabels>
        <gml:origin><gml:Point gml:id="p"><gml:pos>50005 7799995</gml:pos></gml:Point></gml:origin>
        <gml:offsetVector>10 0</gml:offsetVector>
        <gml:offsetVector>0 -10</gml:offsetVector>
      </gml:RectifiedGrid>
    </gml:domainSet>
    <wcs:ServiceParameters>
      <wcs:CoverageSubtype>RectifiedGridCoverage</wcs:CoverageSubtype>
      <wcs:nativeFormat>image/tiff</wcs:nativeFormat>
    </wcs:ServiceParameters>
  </wcs:CoverageDescription>
</wcs:CoverageDescriptions>`

const describePointsXML = `<wcs:CoverageDescriptions xmlns:wcs="http://www.opengis.net/wcs/2.0">
  <wcs:CoverageDescription>
    <wcs:CoverageId>points</wcs:CoverageId>
    <wcs:ServiceParameters>
      <wcs:CoverageSubtype>MultiPointCoverage</wcs:CoverageSubtype>
    </wcs:ServiceParameters>
  </wcs:CoverageDescription>
</wcs:CoverageDescriptions>`

const exceptionXML = `<?xml version="1.0" encoding="UTF-8"?>
<ows:ExceptionReport xmlns:ows="http://www.opengis.net/ows/2.0" version="2.0.1">
  <ows:Exception exceptionCode="NoSuchCoverage" locator="missing">
    <ows:ExceptionText>Coverage missing does not exist</ows:ExceptionText>
  </ows:Exception>
</ows:ExceptionReport>`

func newTestServer(t *testing.T, describeCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("service") != "WCS" || q.Get("version") != "2.0.1" {
			http.Error(w, "bad service", http.StatusBadRequest)
			return
		}
		switch q.Get("request") {
		case "GetCapabilities":
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(capabilitiesXML))
		case "DescribeCoverage":
			if describeCalls != nil {
				describeCalls.Add(1)
			}
			w.Header().Set("Content-Type", "application/xml")
			switch q.Get("coverageId") {
			case "korkeusmalli_10m":
				w.Write([]byte(describeXML))
			case "points":
				w.Write([]byte(describePointsXML))
			default:
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(exceptionXML))
			}
		case "GetCoverage":
			subsets := q["subset"]
			if q.Get("format") != FormatGeoTIFF || len(subsets) != 2 {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "image/tiff")
			w.Write([]byte("II*\x00" + subsets[0] + ";" + subsets[1]))
		default:
			http.Error(w, "unknown request", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewClient("ftp://example.com/wcs")
	require.Error(t, err)
	_, err = NewClient("://nope")
	require.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := NewClient(srv.URL + "/wcs")
	require.NoError(t, err)

	caps, err := c.Capabilities(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2.0.1", caps.Version)
	assert.Equal(t, "Elevation", caps.Title)
	assert.True(t, caps.SupportsFormat("image/tiff"))
	assert.False(t, caps.SupportsFormat("image/png"))
	require.Len(t, caps.Coverages, 2)

	cs, ok := caps.Coverage("korkeusmalli_10m")
	require.True(t, ok)
	assert.Equal(t, SubtypeRectifiedGridCoverage, cs.Subtype)
	_, ok = caps.Coverage("nope")
	assert.False(t, ok)
}

func TestDescribeCoverage(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, &calls)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	desc, err := c.DescribeCoverage(context.Background(), "korkeusmalli_10m")
	require.NoError(t, err)

	assert.Equal(t, "korkeusmalli_10m", desc.ID)
	assert.Equal(t, "korkeusmalli_10m", desc.GMLID)
	assert.True(t, desc.IsRectifiedGrid())
	assert.Equal(t, "image/tiff", desc.NativeFormat)

	x, y := desc.Axes()
	assert.Equal(t, "E", x)
	assert.Equal(t, "N", y)

	b, err := desc.Bound()
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{50000, 6600000}, Max: orb.Point{760000, 7800000}}, b)

	require.NotNil(t, desc.DomainSet.Rectified)
	cols, rows, err := desc.DomainSet.Rectified.GridSize()
	require.NoError(t, err)
	assert.Equal(t, 71000, cols)
	assert.Equal(t, 120000, rows)
	assert.Len(t, desc.DomainSet.Rectified.OffsetVectors, 2)

	// second call is served from the cache
	again, err := c.DescribeCoverage(context.Background(), "korkeusmalli_10m")
	require.NoError(t, err)
	assert.Same(t, desc, again)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRectifiedGridCoverage(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	desc, err := c.RectifiedGridCoverage(context.Background(), "korkeusmalli_10m")
	require.NoError(t, err)
	assert.Equal(t, "korkeusmalli_10m", desc.ID)

	_, err = c.RectifiedGridCoverage(context.Background(), "points")
	require.ErrorIs(t, err, ErrNotRectifiedGrid)
}

func TestServiceError(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.DescribeCoverage(context.Background(), "missing")
	require.Error(t, err)

	var serr *ServiceError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "NoSuchCoverage", serr.Code)
	assert.Equal(t, "missing", serr.Locator)
	assert.Equal(t, "Coverage missing does not exist", serr.Text)
}

func TestGetCoverage(t *testing.T) {
	srv := newTestServer(t, nil)
	c, err := NewClient(srv.URL + "/wcs?map=elevation")
	require.NoError(t, err)

	desc, err := c.DescribeCoverage(context.Background(), "korkeusmalli_10m")
	require.NoError(t, err)

	body, err := c.GetCoverage(context.Background(), desc, orb.Bound{
		Min: orb.Point{380000, 6670000},
		Max: orb.Point{390000, 6680000.5},
	})
	require.NoError(t, err)
	assert.Equal(t, "II*\x00E(380000,390000);N(6670000,6680000.5)", string(body))
}

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.Capabilities(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
