package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sithukyaw666/pushdeploy/model"
	"github.com/sithukyaw666/pushdeploy/operations"
)

const (
	maxEventBytes   = 1 << 20
	shutdownTimeout = 30 * time.Second
)

type deployer interface {
	Run(ctx context.Context, ev *model.DeploymentEvent) (*model.Outcome, error)
}

type server struct {
	deployer deployer
	logger   *slog.Logger
}

type errorResponse struct {
	Error        string `json:"error"`
	Stage        string `json:"stage,omitempty"`
	InvocationID string `json:"invocation_id,omitempty"`
}

func newServer(d deployer, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	s := &server{deployer: d, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleEvent)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
		return
	}
	ev, err := model.ParseEvent(data)
	if err != nil {
		s.logger.Warn("Rejected trigger event", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	out, err := s.deployer.Run(r.Context(), ev)
	if err != nil {
		resp := errorResponse{Error: err.Error()}
		var perr *operations.PipelineError
		if errors.As(err, &perr) {
			resp.Stage = string(perr.Stage)
		}
		if out != nil {
			resp.InvocationID = out.InvocationID
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, out.Event)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// serve runs handler on addr until ctx is cancelled, then drains in-flight
// deployments.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting gracefully.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
