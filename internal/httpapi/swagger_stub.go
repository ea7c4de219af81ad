//go:build !swagger

package httpapi

import "github.com/go-chi/chi/v5"

// MountSwagger does nothing in default builds; -tags=swagger serves the UI
// and the document from docs/.
func MountSwagger(chi.Router) {}
