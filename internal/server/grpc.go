package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/ingestion"
	"LevFarm/internal/observability"
	"LevFarm/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

const maxCommandBody = 1 << 20

// GRPCServer serves gRPC health and reflection, and the HTTP/JSON API on a
// grpc-gateway mux.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	deps       *ServerDeps
	logger     zerolog.Logger
}

// SnapshotFunc takes a snapshot now and returns its sequence.
type SnapshotFunc func(ctx context.Context) (int64, error)

// ServerDeps holds everything the HTTP handlers call into.
type ServerDeps struct {
	QueryService  *query.QueryService
	IngestService *ingestion.CommandIngestService
	TakeSnapshot  SnapshotFunc
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		deps:       deps,
		logger:     deps.Logger,
	}
}

// SetServing flips the gRPC health status. It mirrors /readyz.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler builds the HTTP handler: the JSON API on a grpc-gateway mux plus
// health and metrics endpoints.
func (s *GRPCServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern, endpoint string
		h                         func(*http.Request, map[string]string) (any, error)
	}{
		{"GET", "/v1/status", "status", s.getStatus},
		{"GET", "/v1/triggers", "triggers", s.getTriggers},
		{"GET", "/v1/history", "history", s.getHistory},
		{"GET", "/v1/journals", "journals", s.getJournals},
		{"GET", "/v1/ledger", "ledger", s.getLedger},
		{"GET", "/v1/admin/integrity", "integrity", s.verifyIntegrity},
		{"POST", "/v1/admin/snapshot", "snapshot", s.takeSnapshot},
		{"POST", "/v1/commands/{type}", "commands", s.submitCommand},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, s.instrument(rt.endpoint, rt.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", s.deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.HealthChecker.ReadinessHandler)
	}
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway starts the HTTP server (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *GRPCServer) instrument(endpoint string, h func(*http.Request, map[string]string) (any, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		resp, err := h(r, params)
		if m := s.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if err != nil {
				m.QueryErrors.WithLabelValues(endpoint).Inc()
			}
		}
		if err != nil {
			st := toStatus(err)
			if st.Code() == codes.Internal {
				s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
			}
			writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]string{
				"code":    st.Code().String(),
				"message": st.Message(),
			})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// toStatus maps domain errors onto gRPC codes so HTTP statuses follow the
// gateway's mapping.
func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	var code codes.Code
	switch {
	case errors.Is(err, core.ErrDuplicate):
		code = codes.AlreadyExists
	case errors.Is(err, core.ErrStopped):
		code = codes.Unavailable
	case errors.Is(err, query.ErrNoDatabase):
		code = codes.Unimplemented
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.New(code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ============================================================================
// Handlers
// ============================================================================

func (s *GRPCServer) getStatus(r *http.Request, _ map[string]string) (any, error) {
	return s.deps.QueryService.GetStatus(r.Context())
}

func (s *GRPCServer) getTriggers(r *http.Request, _ map[string]string) (any, error) {
	callCost := decimal.Zero
	if v := r.URL.Query().Get("call_cost"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid call_cost: %v", err)
		}
		callCost = d
	}
	if callCost.IsNegative() {
		return nil, status.Error(codes.InvalidArgument, "call_cost must not be negative")
	}
	return s.deps.QueryService.GetTriggers(r.Context(), callCost)
}

func (s *GRPCServer) getHistory(r *http.Request, _ map[string]string) (any, error) {
	limit, before, err := page(r, 50, 500)
	if err != nil {
		return nil, err
	}
	return s.deps.QueryService.GetHistory(r.Context(), limit, r.URL.Query().Get("type"), before)
}

func (s *GRPCServer) getJournals(r *http.Request, _ map[string]string) (any, error) {
	limit, before, err := page(r, 100, 1000)
	if err != nil {
		return nil, err
	}
	return s.deps.QueryService.GetJournals(r.Context(), limit, before)
}

func (s *GRPCServer) getLedger(r *http.Request, _ map[string]string) (any, error) {
	return s.deps.QueryService.GetLedgerBalances(r.Context())
}

func (s *GRPCServer) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return s.deps.QueryService.VerifyIntegrity(r.Context())
}

func (s *GRPCServer) takeSnapshot(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.TakeSnapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots need a database")
	}
	seq, err := s.deps.TakeSnapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"sequence": seq}, nil
}

func (s *GRPCServer) submitCommand(r *http.Request, params map[string]string) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
	}
	env, err := s.deps.IngestService.Inject(r.Context(), params["type"], body)
	if err != nil {
		if errors.Is(err, core.ErrDuplicate) || errors.Is(err, core.ErrStopped) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return query.FromEnvelope(env), nil
}

// page reads limit and before query parameters. limit defaults to def and
// is capped at maxLimit.
func page(r *http.Request, def, maxLimit int) (int, *int64, error) {
	q := r.URL.Query()
	limit := def
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, nil, status.Errorf(codes.InvalidArgument, "invalid limit %q", v)
		}
		limit = min(n, maxLimit)
	}
	var before *int64
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return 0, nil, status.Errorf(codes.InvalidArgument, "invalid before %q", v)
		}
		before = &n
	}
	return limit, before, nil
}
