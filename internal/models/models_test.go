package models

import (
	"testing"
	"time"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"identity", func() *BaseModel {
			m := &Identity{}
			return &m.BaseModel
		}},
		{"group", func() *BaseModel {
			m := &Group{}
			return &m.BaseModel
		}},
		{"group_membership", func() *BaseModel {
			m := &GroupMembership{}
			return &m.BaseModel
		}},
		{"join_request", func() *BaseModel {
			m := &GroupJoinRequest{}
			return &m.BaseModel
		}},
		{"invitation", func() *BaseModel {
			m := &GroupInvitation{}
			return &m.BaseModel
		}},
		{"project", func() *BaseModel {
			m := &Project{}
			return &m.BaseModel
		}},
		{"project_file", func() *BaseModel {
			m := &ProjectFile{}
			return &m.BaseModel
		}},
		{"password_reset_token", func() *BaseModel {
			m := &PasswordResetToken{}
			return &m.BaseModel
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			if err := model.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if model.ID == "" {
				t.Fatal("expected ID to be generated")
			}
		})
	}
}

func TestPriorityRank(t *testing.T) {
	cases := map[string]int{
		"urgent":    4,
		"HIGH":      3,
		"medium":    2,
		"":          2,
		"completed": 2,
		"bogus":     2,
		"low":       1,
	}
	for priority, want := range cases {
		if got := PriorityRank(priority); got != want {
			t.Fatalf("PriorityRank(%q) = %d, want %d", priority, got, want)
		}
	}
}

func TestIsDefaultAvatar(t *testing.T) {
	if !IsDefaultAvatar("default://camel-boss") {
		t.Fatal("expected bundled avatar to be recognised")
	}
	if IsDefaultAvatar("default://unicorn") {
		t.Fatal("expected unknown avatar id to be rejected")
	}
	if IsDefaultAvatar("https://cdn.example.com/a.png") {
		t.Fatal("expected URL not to be a default avatar")
	}
}

func TestIdentityState(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	id := &Identity{LockedUntil: &later}
	if !id.IsLocked(now) {
		t.Fatal("expected identity to be locked")
	}
	if id.IsLocked(later.Add(time.Second)) {
		t.Fatal("expected lock to lapse")
	}
	if id.IsVerified() {
		t.Fatal("expected identity to be unverified")
	}
	id.EmailVerifiedAt = &now
	if !id.IsVerified() {
		t.Fatal("expected identity to be verified")
	}
}

func TestInvitationIsOpen(t *testing.T) {
	now := time.Now()
	inv := &GroupInvitation{Status: InvitationSent, ExpiresAt: now.Add(time.Hour)}
	if !inv.IsOpen(now) {
		t.Fatal("expected sent invitation to be open")
	}
	inv.Status = InvitationAccepted
	if inv.IsOpen(now) {
		t.Fatal("expected accepted invitation to be closed")
	}
	inv.Status = InvitationPending
	if inv.IsOpen(now.Add(2 * time.Hour)) {
		t.Fatal("expected expired invitation to be closed")
	}
}
