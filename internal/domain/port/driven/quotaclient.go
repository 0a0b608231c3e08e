// Package driven defines the port interfaces for external collaborators.
package driven

import (
	"context"
	"errors"

	"github.com/dmaloy/keydeck/internal/domain/model"
)

// ErrInvalidCredential is returned by QuotaClient when the remote service
// rejects the key as invalid or expired (HTTP 401).
var ErrInvalidCredential = errors.New("api key invalid or expired")

// ErrForbidden is returned by QuotaClient when the key is valid but not
// permitted to read subscription data (HTTP 403).
var ErrForbidden = errors.New("api key not permitted to read subscription data")

// QuotaClient defines the driven port for the remote quota service.
type QuotaClient interface {
	// FetchQuota retrieves the current quota snapshot for one credential.
	// It performs no retries; callers own retry and timeout policy via ctx.
	FetchQuota(ctx context.Context, credential string) (model.QuotaSnapshot, error)
}
