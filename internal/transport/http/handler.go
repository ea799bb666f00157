package http

import (
	"net/http"

	apierrors "cloudloader/internal/errors"
	"cloudloader/internal/storage"
)

// errBackendMissing is returned when a route was mounted without the backend middleware
var errBackendMissing = apierrors.New(http.StatusInternalServerError, apierrors.CodeInternal, "storage backend not selected")

// backendFrom returns the backend chosen for r by the Backend middleware
func backendFrom(r *http.Request) (storage.Backend, error) {
	b, ok := storage.BackendFrom(r.Context())
	if !ok {
		return nil, errBackendMissing
	}
	return b, nil
}
