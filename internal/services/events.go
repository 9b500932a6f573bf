package services

import "context"

// Inbox events pushed to connected clients.
const (
	EventInboxUpdated = "inbox.updated"
)

// InboxPublisher pushes realtime inbox events to a user.
type InboxPublisher interface {
	PublishInbox(userID, event string, data any)
}

type noopPublisher struct{}

func (noopPublisher) PublishInbox(string, string, any) {}

func publisherOrNoop(p InboxPublisher) InboxPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

// IdentityInvalidator drops cached session identities after profile or credential changes.
type IdentityInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, string) {}

func invalidatorOrNoop(i IdentityInvalidator) IdentityInvalidator {
	if i == nil {
		return noopInvalidator{}
	}
	return i
}
