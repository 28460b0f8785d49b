// Package secrets provides secure storage for named credentials: the
// LLM provider API key and the task store's bearer token.
//
// This package defines a CredentialStore interface for managing these
// values. NewCredentialStore builds either the 1Password CLI
// (service account) store or a local file-based store for development.
// A 1Password Connect store is also provided; the factory does not
// construct it.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Credential is a named secret value with rotation metadata.
type Credential struct {
	Name      string     `json:"name"`
	Value     string     `json:"-"` // never serialized to JSON
	CreatedAt time.Time  `json:"created_at"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
}

// CredentialStore provides secure storage and retrieval of named
// secret values.
type CredentialStore interface {
	// GetOrCreate returns the named credential, generating a random
	// value and persisting it if it doesn't exist yet.
	GetOrCreate(ctx context.Context, name string) (*Credential, error)

	// Get retrieves the value of a named credential. Returns "", nil
	// if the credential doesn't exist.
	Get(ctx context.Context, name string) (string, error)

	// Rotate replaces a credential with a freshly generated value,
	// archiving the old one. The old value remains retrievable under
	// an archive name for a grace period.
	Rotate(ctx context.Context, name string) (*Credential, error)

	// Close releases any resources held by the store.
	Close() error
}

// Names of the credentials ARRE depends on.
const (
	CredentialLLMAPIKey            = "arre-llm-api-key"
	CredentialTaskStoreBearerToken = "arre-taskstore-bearer-token"
)

// GenerateSecret produces a new random credential value: 32 bytes of
// CSPRNG output, base64url-encoded.
func GenerateSecret(name string) (*Credential, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating random secret: %w", err)
	}

	return &Credential{
		Name:      name,
		Value:     base64.RawURLEncoding.EncodeToString(buf),
		CreatedAt: time.Now(),
	}, nil
}
