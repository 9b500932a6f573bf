// Package security audits the runtime configuration for weak settings before the server starts.
package security

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/macroscope/macroscope/internal/app"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const maxRecommendedRefreshTTL = 30 * 24 * time.Hour

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
}

// Result aggregates all checks with a status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Failed reports whether any check failed.
func (r Result) Failed() bool {
	return r.Summary[string(StatusFail)] > 0
}

// Audit evaluates cfg. A nil config yields a single failing check.
func Audit(cfg *app.Config, now time.Time) Result {
	var checks []Check
	if cfg == nil {
		checks = []Check{{ID: "config_loaded", Status: StatusFail, Message: "Configuration not loaded."}}
	} else {
		checks = []Check{
			checkJWTSecret(cfg),
			checkSigningSecret(cfg),
			checkRefreshTTL(cfg),
			checkPublicURL(cfg),
			checkAllowedOrigins(cfg),
			checkInvitationDelivery(cfg),
		}
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{CheckedAt: now.UTC(), Checks: checks, Summary: summary}
}

// LogFindings writes every non-passing check to log.
func LogFindings(log *zap.Logger, result Result) {
	for _, check := range result.Checks {
		fields := []zap.Field{zap.String("check", check.ID), zap.String("remediation", check.Remediation)}
		switch check.Status {
		case StatusFail:
			log.Error(check.Message, fields...)
		case StatusWarn:
			log.Warn(check.Message, fields...)
		}
	}
}

func checkJWTSecret(cfg *app.Config) Check {
	length := len(strings.TrimSpace(cfg.Auth.JWT.Secret))
	switch {
	case length == 0:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     "Missing JWT signing secret.",
			Remediation: "Provide a cryptographically secure signing secret (>= 32 bytes).",
		}
	case length < 32:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
		}
	case length < 48:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes.", length),
			Remediation: "Increase MACROSCOPE_AUTH_JWT_SECRET to at least 48 bytes.",
		}
	}
	return Check{ID: "jwt_secret_strength", Status: StatusPass, Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length)}
}

func checkSigningSecret(cfg *app.Config) Check {
	if !cfg.Storage.IsLocal() {
		return Check{ID: "storage_signing_secret", Status: StatusPass, Message: "Download links are signed by the object store."}
	}
	length := len(strings.TrimSpace(cfg.Storage.Local.SigningSecret))
	switch {
	case length == 0:
		return Check{
			ID:          "storage_signing_secret",
			Status:      StatusFail,
			Message:     "Local storage has no download signing secret.",
			Remediation: "Set MACROSCOPE_STORAGE_LOCAL_SIGNING_SECRET to a random value.",
		}
	case length < 32:
		return Check{
			ID:          "storage_signing_secret",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Download signing secret is short (%d characters).", length),
			Remediation: "Use a signing secret of at least 32 characters.",
		}
	}
	return Check{ID: "storage_signing_secret", Status: StatusPass, Message: "Download signing secret configured."}
}

func checkRefreshTTL(cfg *app.Config) Check {
	ttl := cfg.Auth.Session.RefreshTTL
	if ttl <= 0 {
		return Check{
			ID:          "session_refresh_ttl",
			Status:      StatusWarn,
			Message:     "Refresh token TTL is not configured; using default duration.",
			Remediation: "Set MACROSCOPE_AUTH_SESSION_REFRESH_TOKEN_TTL to control session lifetime.",
		}
	}
	if ttl > maxRecommendedRefreshTTL {
		return Check{
			ID:          "session_refresh_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Refresh token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedRefreshTTL),
			Remediation: "Reduce refresh token TTL to 30 days or lower.",
		}
	}
	return Check{ID: "session_refresh_ttl", Status: StatusPass, Message: fmt.Sprintf("Refresh token TTL is %s.", ttl)}
}

func checkPublicURL(cfg *app.Config) Check {
	raw := strings.TrimSpace(cfg.Server.PublicURL)
	parsed, err := url.Parse(raw)
	if raw == "" || err != nil || parsed.Host == "" {
		return Check{
			ID:          "public_url_tls",
			Status:      StatusWarn,
			Message:     "Public URL is missing or invalid; download links may not resolve.",
			Remediation: "Set MACROSCOPE_SERVER_PUBLIC_URL to the externally reachable origin.",
		}
	}
	if parsed.Scheme != "https" && !isLoopback(parsed.Hostname()) {
		return Check{
			ID:          "public_url_tls",
			Status:      StatusWarn,
			Message:     "Public URL does not use HTTPS; signed links travel in clear text.",
			Remediation: "Serve MacroScope behind TLS and use an https public URL.",
		}
	}
	return Check{ID: "public_url_tls", Status: StatusPass, Message: "Public URL " + parsed.Scheme + "://" + parsed.Host + "."}
}

func checkAllowedOrigins(cfg *app.Config) Check {
	for _, origin := range cfg.Server.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			return Check{
				ID:          "websocket_origins",
				Status:      StatusWarn,
				Message:     "Wildcard websocket origin configured.",
				Remediation: "List the exact origins allowed to open realtime connections.",
			}
		}
	}
	return Check{ID: "websocket_origins", Status: StatusPass, Message: "Websocket origins restricted."}
}

func checkInvitationDelivery(cfg *app.Config) Check {
	if strings.TrimSpace(cfg.Notifier.Endpoint) != "" || cfg.Email.SMTP.Enabled {
		return Check{ID: "invitation_delivery", Status: StatusPass, Message: "Invitation emails are delivered."}
	}
	return Check{
		ID:          "invitation_delivery",
		Status:      StatusWarn,
		Message:     "Neither a notifier endpoint nor SMTP is configured; email invitations and verification emails are not sent.",
		Remediation: "Configure notifier.endpoint or email.smtp.",
	}
}

func isLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
