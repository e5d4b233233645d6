package metrics

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
)

// observe records one finished request on the collector and, when set, the exporter.
func observe(collector *Collector, exporter *PrometheusExporter, name string, start time.Time, failed bool) {
	duration := time.Since(start).Seconds()

	collector.RecordRequest(name)
	collector.RecordDuration(name, duration)
	if exporter != nil {
		exporter.RecordRequest(name)
		exporter.RecordDuration(name, duration)
	}

	if failed {
		collector.RecordError(name)
		if exporter != nil {
			exporter.RecordError(name)
		}
	}
}

// UnaryServerInterceptor returns a gRPC interceptor that records metrics for each request.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(collector, exporter, info.FullMethod, start, err != nil)
		return resp, err
	}
}

// GinMiddleware returns a gin middleware that records metrics per Ajax handler.
// Relation routes are labelled by their :handler parameter, other routes by path.
func GinMiddleware(collector *Collector, exporter *PrometheusExporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		name := c.Param("handler")
		if name == "" {
			name = c.FullPath()
		}
		if name == "" {
			name = "unmatched"
		}
		observe(collector, exporter, name, start, c.Writer.Status() >= 500 || len(c.Errors) > 0)
	}
}
