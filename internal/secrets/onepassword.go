package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// OnePasswordCredentialStore stores named credentials in 1Password
// using the Connect API.
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
//   - OP_VAULT_ID: UUID of the vault to store credentials in
type OnePasswordCredentialStore struct {
	client  connect.Client
	vaultID string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Credential
}

// OnePasswordConfig holds configuration for 1Password Connect.
type OnePasswordConfig struct {
	Host    string // OP_CONNECT_HOST
	Token   string // OP_CONNECT_TOKEN
	VaultID string // OP_VAULT_ID
}

// NewOnePasswordCredentialStore creates a new 1Password-backed
// credential store.
func NewOnePasswordCredentialStore(cfg OnePasswordConfig, logger *slog.Logger) (*OnePasswordCredentialStore, error) {
	if cfg.Host == "" || cfg.Token == "" || cfg.VaultID == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}

	client := connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "arre-control-plane")

	return &OnePasswordCredentialStore{
		client:  client,
		vaultID: cfg.VaultID,
		logger:  logger,
		cache:   make(map[string]*Credential),
	}, nil
}

// GetOrCreate returns the named credential, generating one if it
// doesn't exist.
func (cs *OnePasswordCredentialStore) GetOrCreate(ctx context.Context, name string) (*Credential, error) {
	cs.mu.RLock()
	if cached, ok := cs.cache[name]; ok {
		cs.mu.RUnlock()
		return cached, nil
	}
	cs.mu.RUnlock()

	cred, err := cs.getFromVault(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking for existing credential: %w", err)
	}

	if cred != nil {
		cs.mu.Lock()
		cs.cache[name] = cred
		cs.mu.Unlock()
		return cred, nil
	}

	cs.logger.Info("generating new credential", "name", name)

	cred, err = GenerateSecret(name)
	if err != nil {
		return nil, fmt.Errorf("generating credential: %w", err)
	}

	if err := cs.storeInVault(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing credential in 1Password: %w", err)
	}

	cs.mu.Lock()
	cs.cache[name] = cred
	cs.mu.Unlock()

	return cred, nil
}

// Get retrieves the value of a named credential.
func (cs *OnePasswordCredentialStore) Get(ctx context.Context, name string) (string, error) {
	cs.mu.RLock()
	if cached, ok := cs.cache[name]; ok {
		cs.mu.RUnlock()
		return cached.Value, nil
	}
	cs.mu.RUnlock()

	cred, err := cs.getFromVault(ctx, name)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}
	return cred.Value, nil
}

// Rotate replaces a credential with a freshly generated value,
// archiving the old one.
func (cs *OnePasswordCredentialStore) Rotate(ctx context.Context, name string) (*Credential, error) {
	old, err := cs.getFromVault(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("getting old credential: %w", err)
	}

	next, err := GenerateSecret(name)
	if err != nil {
		return nil, fmt.Errorf("generating new credential: %w", err)
	}
	now := time.Now()
	next.RotatedAt = &now

	if old != nil {
		archiveName := fmt.Sprintf("%s-archived-%s", name, time.Now().Format("20060102-150405"))
		old.Name = archiveName
		if err := cs.storeInVault(ctx, old); err != nil {
			cs.logger.Warn("failed to archive old credential", "error", err)
		}
	}

	if err := cs.updateInVault(ctx, next); err != nil {
		return nil, fmt.Errorf("updating credential in 1Password: %w", err)
	}

	cs.mu.Lock()
	cs.cache[name] = next
	cs.mu.Unlock()

	cs.logger.Info("rotated credential", "name", name)
	return next, nil
}

// Close releases any resources.
func (cs *OnePasswordCredentialStore) Close() error {
	cs.mu.Lock()
	cs.cache = make(map[string]*Credential)
	cs.mu.Unlock()
	return nil
}

// getFromVault retrieves a credential from 1Password by name.
func (cs *OnePasswordCredentialStore) getFromVault(ctx context.Context, name string) (*Credential, error) {
	items, err := cs.client.GetItemsByTitle(name, cs.vaultID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing items: %w", err)
	}

	if len(items) == 0 {
		return nil, nil
	}

	item, err := cs.client.GetItem(items[0].ID, cs.vaultID)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	return itemToCredential(item)
}

// storeInVault stores a new credential in 1Password.
func (cs *OnePasswordCredentialStore) storeInVault(ctx context.Context, cred *Credential) error {
	item := credentialToItem(cred, cs.vaultID)

	_, err := cs.client.CreateItem(item, cs.vaultID)
	if err != nil {
		return fmt.Errorf("creating item: %w", err)
	}

	return nil
}

// updateInVault updates an existing credential in 1Password.
func (cs *OnePasswordCredentialStore) updateInVault(ctx context.Context, cred *Credential) error {
	items, err := cs.client.GetItemsByTitle(cred.Name, cs.vaultID)
	if err != nil {
		return fmt.Errorf("finding item: %w", err)
	}

	item := credentialToItem(cred, cs.vaultID)

	if len(items) == 0 {
		_, err = cs.client.CreateItem(item, cs.vaultID)
	} else {
		item.ID = items[0].ID
		_, err = cs.client.UpdateItem(item, cs.vaultID)
	}

	if err != nil {
		return fmt.Errorf("saving item: %w", err)
	}

	return nil
}

// credentialToItem converts a Credential to a 1Password item. The
// secret value lives in a single concealed field; there is no split
// between public and private material.
func credentialToItem(cred *Credential, vaultID string) *onepassword.Item {
	return &onepassword.Item{
		Title:    cred.Name,
		Category: onepassword.Password,
		Vault:    onepassword.ItemVault{ID: vaultID},
		Fields: []*onepassword.ItemField{
			{
				ID:    "value",
				Label: "value",
				Type:  "CONCEALED",
				Value: cred.Value,
			},
			{
				ID:    "created_at",
				Label: "created_at",
				Type:  "STRING",
				Value: cred.CreatedAt.Format(time.RFC3339),
			},
		},
	}
}

// itemToCredential converts a 1Password item to a Credential.
func itemToCredential(item *onepassword.Item) (*Credential, error) {
	cred := &Credential{
		Name: item.Title,
	}

	for _, field := range item.Fields {
		switch field.ID {
		case "value":
			cred.Value = field.Value
		case "created_at":
			if t, err := time.Parse(time.RFC3339, field.Value); err == nil {
				cred.CreatedAt = t
			}
		}
	}

	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = item.CreatedAt
	}

	return cred, nil
}

// isNotFoundError checks if an error is a "not found" error from 1Password.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "not found") || strings.Contains(errStr, "404") || strings.Contains(errStr, "no items")
}
