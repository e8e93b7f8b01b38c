package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const shutdownGrace = 5 * time.Second

// healthServer is the minimal HTTP health endpoint SPEC_FULL.md §6
// requires: GET /health -> 200 OK. A port of 0 disables it.
type healthServer struct {
	port int
}

func newHealthServer(port int) *healthServer {
	return &healthServer{port: port}
}

func (h *healthServer) Run(ctx context.Context) error {
	if h.port == 0 {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", h.port), Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
