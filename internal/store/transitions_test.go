package store

import (
	"testing"

	"mediqueue/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "waiting", true},
		{"call", "calling", false},
		{"call", "attended", false},
		{"requeue", "calling", true},
		{"requeue", "waiting", false},
		{"attend", "calling", true},
		{"attend", "waiting", false},
		{"attend", "attended", false},
		{"no_show", "calling", true},
		{"no_show", "waiting", false},
		{"no_show", "no_show", false},
		{"cancel", "waiting", true},
		{"cancel", "calling", true},
		{"cancel", "cancelled", false},
		{"cancel", "attended", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestOutcomeAction(t *testing.T) {
	cases := []struct {
		outcome string
		action  string
		ok      bool
	}{
		{"attended", "attend", true},
		{"cancelled", "cancel", true},
		{"no_show", "no_show", true},
		{"done", "", false},
		{"", "", false},
	}
	for _, tt := range cases {
		action, ok := OutcomeAction(tt.outcome)
		if action != tt.action || ok != tt.ok {
			t.Fatalf("OutcomeAction(%q)=(%q, %v), want (%q, %v)", tt.outcome, action, ok, tt.action, tt.ok)
		}
	}
}

func TestOutcomeStatusTerminal(t *testing.T) {
	for _, outcome := range []string{"attended", "cancelled", "no_show"} {
		status, ok := OutcomeStatus(outcome)
		if !ok {
			t.Fatalf("OutcomeStatus(%q) not ok", outcome)
		}
		if !models.Terminal(status) {
			t.Fatalf("outcome %q produced non-terminal status %q", outcome, status)
		}
		for action := range transitionMap {
			if ValidTransition(action, status) {
				t.Fatalf("terminal status %q allows action %q", status, action)
			}
		}
	}
}
