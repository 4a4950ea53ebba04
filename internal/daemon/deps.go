// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"net/http"

	"github.com/ManuGH/playd/internal/config"
	sessions "github.com/ManuGH/playd/internal/domain/session/manager"
)

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	Server config.ServerConfig

	// APIHandler is the HTTP handler for the API server
	APIHandler http.Handler

	// Registry owns every playback session. It is shut down after the
	// HTTP server stops accepting requests.
	Registry *sessions.Registry
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	if d.Registry == nil {
		return ErrMissingRegistry
	}
	return nil
}
