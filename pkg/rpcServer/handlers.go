package rpcServer

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/internal/metrics/metricsTypes"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
)

type route struct {
	method  string
	path    string
	handler runtime.HandlerFunc
}

func (rpc *RpcServer) routes() []route {
	return []route{
		{http.MethodGet, "/pools", rpc.GetPools},
		{http.MethodGet, "/collections", rpc.GetCollections},
		{http.MethodGet, "/user", rpc.GetUser},
		{http.MethodPost, "/index-pool-deployer", rpc.IndexPoolDeployer},
		{http.MethodPost, "/index-pool-events", rpc.IndexPoolEvents},
		{http.MethodGet, "/sync-state", rpc.GetSyncState},
		{http.MethodGet, "/health", rpc.HealthCheck},
		{http.MethodGet, "/ready", rpc.ReadyCheck},
		{http.MethodGet, "/changes", rpc.StreamChanges},
	}
}

func (rpc *RpcServer) registerRoutes(mux *runtime.ServeMux) error {
	for _, r := range rpc.routes() {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			rpc.Logger.Sugar().Errorw("Failed to register route",
				zap.String("method", r.method),
				zap.String("path", r.path),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (rpc *RpcServer) handleRoutingError(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, r *http.Request, httpStatus int) {
	switch httpStatus {
	case http.StatusNotFound:
		writeError(w, httpStatus, errCode_NotFound, "no route for "+r.URL.Path)
	case http.StatusMethodNotAllowed:
		writeError(w, httpStatus, errCode_MethodNotAllowed, r.Method+" is not supported on "+r.URL.Path)
	default:
		writeError(w, httpStatus, errCode_InvalidArgument, http.StatusText(httpStatus))
	}
}

// statusRecorder keeps the response status for request metrics. Hijack is forwarded so the
// websocket upgrade still works behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rpc *RpcServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		duration := time.Since(started)
		_ = rpc.metricsSink.Incr(metricsTypes.Metric_Incr_HttpRequest, []metricsTypes.MetricsLabel{
			{Name: "path", Value: r.URL.Path},
			{Name: "status", Value: strconv.Itoa(rec.status)},
		}, 1)
		_ = rpc.metricsSink.Timing(metricsTypes.Metric_Timing_HttpDuration, duration, []metricsTypes.MetricsLabel{
			{Name: "path", Value: r.URL.Path},
		})
		rpc.Logger.Sugar().Debugw("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
		)
	})
}
