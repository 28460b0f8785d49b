package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LocalCredentialStore stores credentials on the local filesystem.
// This is intended for development and testing only.
//
// Credentials are stored one file per name:
//
//	<base_dir>/<name>.json
type LocalCredentialStore struct {
	baseDir string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Credential
}

// credentialFile is the JSON structure stored on disk.
type credentialFile struct {
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	CreatedAt time.Time  `json:"created_at"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
}

// NewLocalCredentialStore creates a new local filesystem-backed
// credential store. If baseDir is empty, it defaults to
// ~/.arre/credentials.
func NewLocalCredentialStore(baseDir string, logger *slog.Logger) (*LocalCredentialStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".arre", "credentials")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}

	logger.Info("using local credential store", "path", baseDir)

	return &LocalCredentialStore{
		baseDir: baseDir,
		logger:  logger,
		cache:   make(map[string]*Credential),
	}, nil
}

// GetOrCreate returns the named credential, generating one if it
// doesn't exist.
func (cs *LocalCredentialStore) GetOrCreate(ctx context.Context, name string) (*Credential, error) {
	cs.mu.RLock()
	if cached, ok := cs.cache[name]; ok {
		cs.mu.RUnlock()
		return cached, nil
	}
	cs.mu.RUnlock()

	cred, err := cs.load(name)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
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
	if err := cs.save(cred); err != nil {
		return nil, fmt.Errorf("saving credential: %w", err)
	}

	cs.mu.Lock()
	cs.cache[name] = cred
	cs.mu.Unlock()

	return cred, nil
}

// Get retrieves the value of a named credential.
func (cs *LocalCredentialStore) Get(ctx context.Context, name string) (string, error) {
	cred, err := cs.load(name)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}
	return cred.Value, nil
}

// Rotate replaces a credential with a freshly generated value,
// archiving the old one under a timestamped name.
func (cs *LocalCredentialStore) Rotate(ctx context.Context, name string) (*Credential, error) {
	old, err := cs.load(name)
	if err != nil {
		return nil, fmt.Errorf("loading old credential: %w", err)
	}
	if old != nil {
		archiveName := fmt.Sprintf("%s-archived-%s", name, time.Now().Format("20060102-150405"))
		old.Name = archiveName
		if err := cs.save(old); err != nil {
			cs.logger.Warn("failed to archive old credential", "error", err)
		}
	}

	next, err := GenerateSecret(name)
	if err != nil {
		return nil, fmt.Errorf("generating new credential: %w", err)
	}
	now := time.Now()
	next.RotatedAt = &now

	if err := cs.save(next); err != nil {
		return nil, fmt.Errorf("saving new credential: %w", err)
	}

	cs.mu.Lock()
	cs.cache[name] = next
	cs.mu.Unlock()

	cs.logger.Info("rotated credential", "name", name)
	return next, nil
}

// Close clears the in-memory cache.
func (cs *LocalCredentialStore) Close() error {
	cs.mu.Lock()
	cs.cache = make(map[string]*Credential)
	cs.mu.Unlock()
	return nil
}

func (cs *LocalCredentialStore) load(name string) (*Credential, error) {
	path := filepath.Join(cs.baseDir, name+".json")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credential file: %w", err)
	}

	var f credentialFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing credential file: %w", err)
	}

	return &Credential{
		Name:      f.Name,
		Value:     f.Value,
		CreatedAt: f.CreatedAt,
		RotatedAt: f.RotatedAt,
	}, nil
}

func (cs *LocalCredentialStore) save(cred *Credential) error {
	path := filepath.Join(cs.baseDir, cred.Name+".json")

	f := credentialFile{
		Name:      cred.Name,
		Value:     cred.Value,
		CreatedAt: cred.CreatedAt,
		RotatedAt: cred.RotatedAt,
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	return os.WriteFile(path, raw, 0600)
}
