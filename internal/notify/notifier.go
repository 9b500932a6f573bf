// Package notify delivers invitation emails outside the request path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/macroscope/macroscope/pkg/mail"
)

// Invitation is the payload handed to a notifier for one invitation.
type Invitation struct {
	ID             string
	RecipientEmail string
	GroupName      string
	InviterName    string
	Message        string
	Token          string
}

// InvitationNotifier delivers invitation notices.
type InvitationNotifier interface {
	NotifyInvitation(ctx context.Context, inv Invitation) error
}

// ErrNotifierDisabled is returned by the no-op notifier.
var ErrNotifierDisabled = errors.New("notify: notifier disabled")

// Noop never delivers anything.
type Noop struct{}

func (Noop) NotifyInvitation(context.Context, Invitation) error {
	return ErrNotifierDisabled
}

// HTTPConfig configures an HTTP webhook notifier.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// HTTPNotifier posts invitation payloads to a webhook endpoint.
type HTTPNotifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type invitationPayload struct {
	RecipientEmail  string `json:"recipientEmail"`
	GroupName       string `json:"groupName"`
	InviterName     string `json:"inviterName"`
	Message         string `json:"message,omitempty"`
	InvitationToken string `json:"invitationToken"`
	InvitationID    string `json:"invitationId"`
}

// NewHTTPNotifier validates cfg and returns a webhook notifier.
func NewHTTPNotifier(cfg HTTPConfig) (*HTTPNotifier, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("notify: endpoint is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPNotifier{endpoint: endpoint, apiKey: cfg.APIKey, client: client}, nil
}

func (n *HTTPNotifier) NotifyInvitation(ctx context.Context, inv Invitation) error {
	body, err := json.Marshal(invitationPayload{
		RecipientEmail:  inv.RecipientEmail,
		GroupName:       inv.GroupName,
		InviterName:     inv.InviterName,
		Message:         inv.Message,
		InvitationToken: inv.Token,
		InvitationID:    inv.ID,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send invitation: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// MailNotifier renders the invitation template and sends it through a mailer.
type MailNotifier struct {
	mailer   mail.Mailer
	linkBase string
}

// NewMailNotifier builds links as <linkBase>?token=<token>.
func NewMailNotifier(mailer mail.Mailer, linkBase string) (*MailNotifier, error) {
	if mailer == nil {
		return nil, errors.New("notify: mailer is required")
	}
	return &MailNotifier{mailer: mailer, linkBase: strings.TrimSpace(linkBase)}, nil
}

func (n *MailNotifier) NotifyInvitation(ctx context.Context, inv Invitation) error {
	body, err := mail.Render("invitation", mail.TemplateData{
		InviterName: inv.InviterName,
		GroupName:   inv.GroupName,
		Message:     inv.Message,
		Link:        InvitationLink(n.linkBase, inv.Token),
	})
	if err != nil {
		return err
	}

	return n.mailer.Send(ctx, mail.Message{
		To:      []string{inv.RecipientEmail},
		Subject: fmt.Sprintf("%s invited you to %s", inv.InviterName, inv.GroupName),
		Body:    body,
	})
}

// InvitationLink appends the token to base as a query parameter.
func InvitationLink(base, token string) string {
	if base == "" {
		return token
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + token
}
