package secrets

import (
	"fmt"
	"log/slog"
	"os"
)

// Config holds configuration for the secrets backend.
type Config struct {
	// Backend specifies which backend to use: "1password", "local", or "auto"
	// "auto" (default) uses 1Password if configured, otherwise local
	Backend string

	// 1Password Service Account configuration
	// Set via environment: OP_SERVICE_ACCOUNT_TOKEN
	OnePasswordToken string

	// 1Password vault name (default: "arre credentials")
	OnePasswordVault string

	// Local storage directory (default: ~/.arre/credentials)
	LocalCredentialDir string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Backend:            getEnv("ARRE_SECRETS_BACKEND", "auto"),
		OnePasswordToken:   os.Getenv("OP_SERVICE_ACCOUNT_TOKEN"),
		OnePasswordVault:   getEnv("OP_VAULT", "arre credentials"),
		LocalCredentialDir: os.Getenv("ARRE_CREDENTIAL_DIR"),
	}
	return cfg
}

// NewCredentialStore creates a CredentialStore based on configuration.
func NewCredentialStore(cfg Config, logger *slog.Logger) (CredentialStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		if cfg.OnePasswordToken == "" {
			return nil, fmt.Errorf("1Password backend requested but OP_SERVICE_ACCOUNT_TOKEN not set")
		}
		return NewOnePasswordCLICredentialStore(cfg.OnePasswordToken, cfg.OnePasswordVault, logger)

	case "local":
		return NewLocalCredentialStore(cfg.LocalCredentialDir, logger)

	case "auto":
		// Try 1Password first, fall back to local
		if cfg.OnePasswordToken != "" {
			cs, err := NewOnePasswordCLICredentialStore(cfg.OnePasswordToken, cfg.OnePasswordVault, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password, falling back to local storage",
					"error", err)
				return NewLocalCredentialStore(cfg.LocalCredentialDir, logger)
			}
			return cs, nil
		}
		logger.Info("OP_SERVICE_ACCOUNT_TOKEN not set, using local credential storage")
		return NewLocalCredentialStore(cfg.LocalCredentialDir, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
