package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// OnePasswordCLICredentialStore uses the 1Password CLI with Service
// Account authentication. This is the recommended approach for using
// 1Password Service Accounts in Go.
//
// Prerequisites:
//   - 1Password CLI (op) must be installed: https://developer.1password.com/docs/cli/
//   - Service Account token must be set: OP_SERVICE_ACCOUNT_TOKEN
type OnePasswordCLICredentialStore struct {
	token  string
	vault  string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Credential
}

// opItem represents a 1Password item from the CLI.
type opItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Fields    []opField `json:"fields"`
}

type opField struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Label   string `json:"label"`
	Value   string `json:"value"`
	Purpose string `json:"purpose,omitempty"`
}

// NewOnePasswordCLICredentialStore creates a new credential store using
// the 1Password CLI.
func NewOnePasswordCLICredentialStore(token, vault string, logger *slog.Logger) (*OnePasswordCLICredentialStore, error) {
	if token == "" {
		return nil, fmt.Errorf("1Password service account token is required")
	}

	cs := &OnePasswordCLICredentialStore{
		token:  token,
		vault:  vault,
		logger: logger,
		cache:  make(map[string]*Credential),
	}

	if err := cs.verifyAccess(); err != nil {
		return nil, fmt.Errorf("verifying 1Password access: %w", err)
	}

	logger.Info("initialized 1Password credential store", "vault", vault)
	return cs, nil
}

// verifyAccess checks that the CLI is installed and the token is valid.
func (cs *OnePasswordCLICredentialStore) verifyAccess() error {
	if _, err := exec.LookPath("op"); err != nil {
		return fmt.Errorf("1Password CLI (op) not found in PATH - install from https://developer.1password.com/docs/cli/")
	}

	_, err := cs.runOP("vault", "list", "--format=json")
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	return nil
}

// runOP executes an op CLI command with the service account token.
func (cs *OnePasswordCLICredentialStore) runOP(args ...string) ([]byte, error) {
	cmd := exec.Command("op", args...)
	cmd.Env = append(cmd.Environ(), "OP_SERVICE_ACCOUNT_TOKEN="+cs.token)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %s", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// GetOrCreate returns the named credential, generating one if it
// doesn't exist.
func (cs *OnePasswordCLICredentialStore) GetOrCreate(ctx context.Context, name string) (*Credential, error) {
	cs.mu.RLock()
	if cached, ok := cs.cache[name]; ok {
		cs.mu.RUnlock()
		return cached, nil
	}
	cs.mu.RUnlock()

	cred, err := cs.getItem(name)
	if err != nil && !isItemNotFound(err) {
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

	if err := cs.createItem(cred); err != nil {
		return nil, fmt.Errorf("storing credential in 1Password: %w", err)
	}

	cs.mu.Lock()
	cs.cache[name] = cred
	cs.mu.Unlock()

	return cred, nil
}

// Get retrieves the value of a named credential.
func (cs *OnePasswordCLICredentialStore) Get(ctx context.Context, name string) (string, error) {
	cred, err := cs.getItem(name)
	if err != nil {
		if isItemNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if cred == nil {
		return "", nil
	}
	return cred.Value, nil
}

// Rotate creates a new credential value and archives the old one.
func (cs *OnePasswordCLICredentialStore) Rotate(ctx context.Context, name string) (*Credential, error) {
	old, err := cs.getItem(name)
	if err != nil && !isItemNotFound(err) {
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
		if err := cs.createItem(old); err != nil {
			cs.logger.Warn("failed to archive old credential", "error", err)
		}
		cs.deleteItem(name)
	}

	if err := cs.createItem(next); err != nil {
		return nil, fmt.Errorf("storing new credential: %w", err)
	}

	cs.mu.Lock()
	cs.cache[name] = next
	cs.mu.Unlock()

	cs.logger.Info("rotated credential", "name", name)
	return next, nil
}

// Close releases any resources.
func (cs *OnePasswordCLICredentialStore) Close() error {
	cs.mu.Lock()
	cs.cache = make(map[string]*Credential)
	cs.mu.Unlock()
	return nil
}

// getItem retrieves a credential from 1Password by name.
func (cs *OnePasswordCLICredentialStore) getItem(name string) (*Credential, error) {
	output, err := cs.runOP("item", "get", name, "--vault="+cs.vault, "--format=json")
	if err != nil {
		return nil, err
	}

	var item opItem
	if err := json.Unmarshal(output, &item); err != nil {
		return nil, fmt.Errorf("parsing item: %w", err)
	}

	return itemToCredentialCLI(&item), nil
}

// createItem creates a new credential item in 1Password.
func (cs *OnePasswordCLICredentialStore) createItem(cred *Credential) error {
	args := []string{
		"item", "create",
		"--category=Secure Note",
		"--title=" + cred.Name,
		"--vault=" + cs.vault,
		"value[concealed]=" + cred.Value,
		"created_at[text]=" + strings.TrimSpace(cred.CreatedAt.Format(time.RFC3339)),
	}

	_, err := cs.runOP(args...)
	return err
}

// deleteItem deletes a credential item from 1Password.
func (cs *OnePasswordCLICredentialStore) deleteItem(name string) error {
	_, err := cs.runOP("item", "delete", name, "--vault="+cs.vault)
	return err
}

// itemToCredentialCLI converts a 1Password CLI item to a Credential.
func itemToCredentialCLI(item *opItem) *Credential {
	cred := &Credential{
		Name:      item.Title,
		CreatedAt: item.CreatedAt,
	}

	for _, field := range item.Fields {
		switch field.Label {
		case "value":
			cred.Value = field.Value
		case "created_at":
			if t, err := time.Parse(time.RFC3339, field.Value); err == nil {
				cred.CreatedAt = t
			}
		}
	}

	return cred
}

// isItemNotFound checks if an error indicates the item was not found.
func isItemNotFound(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "no item") ||
		strings.Contains(errStr, "doesn't exist")
}
