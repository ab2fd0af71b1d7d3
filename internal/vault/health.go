package vault

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// healthPath is the unauthenticated health endpoint.
const healthPath = "/v1/sys/health"

// healthTimeout bounds a single health request when ctx has no deadline.
const healthTimeout = 5 * time.Second

// maxHealthBody caps how much of a health response is read.
const maxHealthBody = 64 * 1024

// Health is the parsed /v1/sys/health response.
type Health struct {
	StatusCode  int
	Initialized bool
	Sealed      bool
	Standby     bool
	Version     string
	ClusterName string
}

// Usable reports whether the server is initialized, unsealed and active.
func (h Health) Usable() bool {
	return h.Initialized && !h.Sealed && !h.Standby
}

// HealthCheck queries the server's health endpoint. Sealed or standby
// servers answer with non-200 codes; those are reported in Health, not as
// errors.
func (srv *Server) HealthCheck(ctx context.Context) (Health, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, healthTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL()+healthPath, nil)
	if err != nil {
		return Health{}, fmt.Errorf("building health request: %w", err)
	}
	req.Header.Set("X-Vault-Token", srv.RootToken())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("vault health request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	if err != nil {
		return Health{}, fmt.Errorf("reading health response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Health{StatusCode: resp.StatusCode}, fmt.Errorf("vault health response is not JSON (status %d)", resp.StatusCode)
	}

	parsed := gjson.ParseBytes(body)
	return Health{
		StatusCode:  resp.StatusCode,
		Initialized: parsed.Get("initialized").Bool(),
		Sealed:      parsed.Get("sealed").Bool(),
		Standby:     parsed.Get("standby").Bool(),
		Version:     parsed.Get("version").String(),
		ClusterName: parsed.Get("cluster_name").String(),
	}, nil
}
