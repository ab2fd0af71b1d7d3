package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/embedded-vault/internal/process"
)

// vaultHealthTimeout bounds the proxied health request.
const vaultHealthTimeout = 3 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/vault", func(r chi.Router) {
			r.Get("/", s.handleVault)
			r.Get("/health", s.handleVaultHealth)
			r.Get("/output", s.handleVaultOutput)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"vault_running": s.target.IsRunning(),
	})
}

// vaultResponse describes the supervised server.
type vaultResponse struct {
	ID            string        `json:"id"`
	Version       string        `json:"version"`
	Address       string        `json:"address"`
	URL           string        `json:"url"`
	Running       bool          `json:"running"`
	Process       process.Stats `json:"process"`
	StartupTimeMS int64         `json:"startup_time_ms"`
	StdoutLines   int64         `json:"stdout_lines"`
	StderrLines   int64         `json:"stderr_lines"`
	UnsealKeySeen bool          `json:"unseal_key_seen"`
	RootToken     string        `json:"root_token,omitempty"`
	UnsealKey     string        `json:"unseal_key,omitempty"`
}

func (s *Server) handleVault(w http.ResponseWriter, _ *http.Request) {
	stats := s.target.Stats()
	resp := vaultResponse{
		ID:            stats.ID,
		Version:       stats.Version,
		Address:       stats.Address,
		URL:           s.target.URL(),
		Running:       s.target.IsRunning(),
		Process:       stats.Process,
		StartupTimeMS: stats.StartupTime.Milliseconds(),
		StdoutLines:   stats.StdoutLines,
		StderrLines:   stats.StderrLines,
		UnsealKeySeen: stats.UnsealKeySeen,
	}
	if s.cfg.ExposeSecrets {
		resp.RootToken = s.target.RootToken()
		resp.UnsealKey = s.target.UnsealKey()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVaultHealth(w http.ResponseWriter, r *http.Request) {
	if !s.target.IsRunning() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "vault is not running")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), vaultHealthTimeout)
	defer cancel()

	health, err := s.target.HealthCheck(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}

	status := http.StatusOK
	if !health.Usable() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"usable":       health.Usable(),
		"initialized":  health.Initialized,
		"sealed":       health.Sealed,
		"standby":      health.Standby,
		"version":      health.Version,
		"cluster_name": health.ClusterName,
		"status_code":  health.StatusCode,
	})
}

func (s *Server) handleVaultOutput(w http.ResponseWriter, r *http.Request) {
	var text string
	switch stream := r.URL.Query().Get("stream"); stream {
	case "", "stdout":
		text = s.target.Output()
	case "stderr":
		text = s.target.ErrorOutput()
	default:
		writeBadRequest(w, "stream must be stdout or stderr")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // best-effort write; the client may be gone
	io.WriteString(w, text)
}
