package driven

import "context"

// ActivePublisher defines the driven port for the host-environment publisher.
// Publishing durably configures the host to use a credential; reading reports
// what the host is currently configured with.
type ActivePublisher interface {
	// PublishActive configures the host environment to use the credential.
	// On error the host configuration is unchanged.
	PublishActive(ctx context.Context, credential string) error

	// ReadActive returns the credential the host environment is currently
	// configured with, or "" when none is configured.
	ReadActive(ctx context.Context) (string, error)
}
