// Package secrets resolves credentials at startup, preferring explicit
// configuration and falling back to Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"intake/internal/logger"
)

var (
	// ErrSecretNotConfigured is returned when neither a value nor a secret name is available.
	ErrSecretNotConfigured = errors.New("secret not configured")

	// ErrEmptySecret is returned when Secret Manager returns an empty payload.
	ErrEmptySecret = errors.New("secret payload is empty")
)

// accessor is the subset of the Secret Manager client used here.
type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver reads secrets for one Google Cloud project.
type Resolver struct {
	client    accessor
	projectID string
	log       zerolog.Logger
}

// NewResolver creates a Secret Manager backed resolver.
func NewResolver(ctx context.Context, projectID string, opts ...option.ClientOption) (*Resolver, error) {
	const op = "NewResolver"

	if projectID == "" {
		return nil, fmt.Errorf("%s: project ID is required", op)
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create Secret Manager client: %w", op, err)
	}

	return newResolver(client, projectID), nil
}

func newResolver(client accessor, projectID string) *Resolver {
	return &Resolver{
		client:    client,
		projectID: projectID,
		log:       logger.WithComponent("secrets"),
	}
}

// Resolve returns value when it is set, otherwise the latest version of the
// named secret.
func (r *Resolver) Resolve(ctx context.Context, secretName, value string) (string, error) {
	const op = "Resolve"

	if value != "" {
		r.log.Debug().Str("secret", secretName).Msg("Using secret value from configuration")
		return value, nil
	}
	if secretName == "" {
		return "", fmt.Errorf("%s: %w", op, ErrSecretNotConfigured)
	}

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", r.projectID, secretName)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("%s: failed to access secret %s (the service account needs the Secret Manager Secret Accessor role): %w", op, secretName, err)
	}

	secret := strings.TrimSpace(string(resp.GetPayload().GetData()))
	if secret == "" {
		return "", fmt.Errorf("%s: %s: %w", op, secretName, ErrEmptySecret)
	}

	r.log.Info().Str("secret", secretName).Msg("Loaded secret from Secret Manager")
	return secret, nil
}

// Close closes the Secret Manager client.
func (r *Resolver) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
