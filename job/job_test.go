package job

import (
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusReady, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Fatalf("Terminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusPending, StatusProcessing, StatusReady, StatusFailed} {
		if !s.Valid() {
			t.Fatalf("Valid(%q) = false, want true", s)
		}
	}
	for _, s := range []Status{"", "done", "PENDING"} {
		if s.Valid() {
			t.Fatalf("Valid(%q) = true, want false", s)
		}
	}
}

func TestNewJobDefaults(t *testing.T) {
	t.Parallel()

	j := New(42, "sha256:abc")
	if j.ID.IsNil() {
		t.Fatal("expected a minted job id")
	}
	if j.Status != StatusPending {
		t.Fatalf("Status = %q, want %q", j.Status, StatusPending)
	}
	if j.Version != 1 {
		t.Fatalf("Version = %d, want 1", j.Version)
	}
	if j.AttemptCount != 0 {
		t.Fatalf("AttemptCount = %d, want 0", j.AttemptCount)
	}
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() {
		t.Fatal("expected entity timestamps to be set")
	}
	if j.Claimed() {
		t.Fatal("new job must not be claimed")
	}
}

func TestLeaseExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	stale := now.Add(-10 * time.Minute)

	j := New(1, "sha")
	if j.LeaseExpired(now) {
		t.Fatal("pending job must never report an expired lease")
	}

	j.Status = StatusProcessing
	j.ClaimOwner = "w1"
	j.ClaimedAt = &stale
	if !j.LeaseExpired(now.Add(-5 * time.Minute)) {
		t.Fatal("claim older than cutoff must report expired")
	}
	if j.LeaseExpired(now.Add(-15 * time.Minute)) {
		t.Fatal("claim newer than cutoff must not report expired")
	}

	j.Status = StatusReady
	if j.LeaseExpired(now) {
		t.Fatal("terminal job must never report an expired lease")
	}
}
