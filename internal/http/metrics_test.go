package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := NewHTTPMetrics(mp.Meter(httpInstrumentationName), nil)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/advice/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})

	for _, path := range []string{"/api/v1/advice/1", "/api/v1/advice/2", "/api/v1/advice/3"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "remindmine.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				// Three paths, one route label.
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(3), sum.DataPoints[0].Value)
				endpoint, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("endpoint"))
				assert.Equal(t, "/api/v1/advice/:id", endpoint.AsString())
			case "remindmine.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var n uint64
				for _, dp := range hist.DataPoints {
					n += dp.Count
				}
				assert.Equal(t, uint64(3), n)
			}
		}
	}
	assert.True(t, found["remindmine.http.requests_total"])
	assert.True(t, found["remindmine.http.request_duration_seconds"])
	assert.True(t, found["remindmine.http.response_size_bytes"])
	assert.True(t, found["remindmine.http.active_requests"])
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "/health", routeLabel("/health"))
	assert.Equal(t, "/api/v1/issues/:id/summary", routeLabel("/api/v1/issues/:id/summary"))
}
