package config

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

const secretScheme = "secretmanager://"

// IsSecretRef reports whether v names a Secret Manager version,
// e.g. secretmanager://projects/p/secrets/slack-bot-token/versions/latest.
func IsSecretRef(v string) bool {
	return strings.HasPrefix(v, secretScheme)
}

// SecretResolver returns the payload of a secret version resource name.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

type SecretManagerResolver struct {
	client *secretmanager.Client
}

func NewSecretManagerResolver(ctx context.Context) (*SecretManagerResolver, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	return &SecretManagerResolver{client: client}, nil
}

func (r *SecretManagerResolver) Resolve(ctx context.Context, name string) (string, error) {
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

func (r *SecretManagerResolver) Close() error {
	return r.client.Close()
}
