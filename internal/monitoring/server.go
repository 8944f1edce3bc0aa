package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/services"
	"github.com/ijonas/omikuji/internal/utils"
)

const serverShutdownTimeout = 5 * time.Second

// Server exposes /metrics and /health on the configured port.
type Server struct {
	utils.StartStopOnce

	port    uint16
	checker services.Checker
	logger  *logger.Logger

	httpServer *http.Server
	listener   net.Listener
	chDone     chan struct{}
}

func NewServer(port uint16, checker services.Checker, lggr *logger.Logger) *Server {
	return &Server{
		port:    port,
		checker: checker,
		logger:  lggr.Named("MetricsServer"),
		chDone:  make(chan struct{}),
	}
}

func (s *Server) Start() error {
	return s.StartOnce("MetricsServer", func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", s.handleHealth)

		addr := fmt.Sprintf(":%d", s.port)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "listening on %s", addr)
		}
		s.listener = listener
		s.httpServer = &http.Server{Handler: mux}

		go func() {
			defer close(s.chDone)
			if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Errorw("metrics server exited", "error", err)
			}
		}()

		s.logger.Infow("Metrics server listening", "addr", addr)
		return nil
	})
}

func (s *Server) Close() error {
	return s.StopOnce("MetricsServer", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(ctx)
		<-s.chDone
		return err
	})
}

// handleHealth reports 200 while every registered service is healthy and 503
// otherwise, with per-service detail in the body.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	healthy, errs := s.checker.IsHealthy()

	detail := make(map[string]string, len(errs))
	for name, err := range errs {
		if err == nil {
			detail[name] = "ok"
		} else {
			detail[name] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(detail); err != nil {
		s.logger.Errorw("writing health response", "error", err)
	}
}
