package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/excelmind/internal/orchestrator"
	"github.com/fyrsmithlabs/excelmind/internal/workbook"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/excelmind/internal/http"

// apiMetrics records request and task-level instruments for the API.
// A nil instrument means creation failed; it is skipped when recording.
type apiMetrics struct {
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	inflight    metric.Int64UpDownCounter
	taskResults metric.Int64Counter
	uploadRows  metric.Int64Histogram
}

func newAPIMetrics(meter metric.Meter, logger *zap.Logger) *apiMetrics {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &apiMetrics{}
	var err error

	m.requests, err = meter.Int64Counter("excelmind.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status code"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	// Task requests run a whole orchestrator loop, so buckets reach minutes.
	m.duration, err = meter.Float64Histogram("excelmind.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status code"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300))
	warn("request_duration_seconds", err)

	m.inflight, err = meter.Int64UpDownCounter("excelmind.http.active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.taskResults, err = meter.Int64Counter("excelmind.http.task_results_total",
		metric.WithDescription("Tasks submitted over HTTP by final status and error kind"),
		metric.WithUnit("{task}"))
	warn("task_results_total", err)

	m.uploadRows, err = meter.Int64Histogram("excelmind.http.upload_rows",
		metric.WithDescription("Rows across all sheets of a task upload"),
		metric.WithUnit("{row}"),
		metric.WithExplicitBucketBoundaries(10, 100, 1000, 10000, 100000))
	warn("upload_rows", err)

	return m
}

// middleware records count, duration and in-flight requests per route.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return nil
		}
	}
}

func (m *apiMetrics) recordUpload(ctx context.Context, files []workbook.File) {
	if m.uploadRows == nil {
		return
	}
	var rows int64
	for _, f := range files {
		for _, sheet := range f.Sheets {
			rows += int64(len(sheet))
		}
	}
	m.uploadRows.Record(ctx, rows)
}

func (m *apiMetrics) recordResult(ctx context.Context, res *orchestrator.TaskResult) {
	if m.taskResults == nil {
		return
	}
	m.taskResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(res.Status)),
		attribute.String("error_kind", string(res.ErrorKind)),
	))
}

// routeLabel keeps labels bounded. Echo reports the matched pattern
// (/api/v1/tasks/:id); unmatched requests have an empty path.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
