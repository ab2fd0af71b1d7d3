// Package api serves a small local HTTP API describing the supervised
// Vault server.
//
// Routes (all GET, JSON unless noted):
//
//	/api/v1/health         liveness of embedded-vault itself
//	/api/v1/vault          address, pid, statistics; secrets only when exposed
//	/api/v1/vault/health   the server's own /v1/sys/health, summarised
//	/api/v1/vault/output   captured stdout or stderr tail (text/plain)
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	if err := server.Start(ctx); err != nil { ... }
//	defer server.Close()
package api
