package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/macroscope/macroscope/pkg/crypto"
)

const (
	jwtSecretBytes     = 48
	signingSecretBytes = 32
)

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	// Generated signing secrets invalidate outstanding download links on restart.
	if cfg.Storage.IsLocal() && strings.TrimSpace(cfg.Storage.Local.SigningSecret) == "" {
		secret, err := generateHexKey(signingSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate storage signing secret: %w", err)
		}
		cfg.Storage.Local.SigningSecret = secret
		generated["storage.local.signing_secret"] = true
	}

	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
