package escrow

import (
	"errors"
	"testing"
)

func TestNextFollowsGraph(t *testing.T) {
	cases := []struct {
		from   Status
		action Action
		want   Status
	}{
		{StatusFunded, ActionAccept, StatusAccepted},
		{StatusAccepted, ActionStart, StatusInProgress},
		{StatusInProgress, ActionSubmit, StatusSubmitted},
		{StatusSubmitted, ActionApprove, StatusCompleted},
		{StatusReviewing, ActionApprove, StatusCompleted},
		{StatusSubmitted, ActionDispute, StatusDisputed},
		{StatusReviewing, ActionDispute, StatusDisputed},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.action)
		if err != nil {
			t.Errorf("Next(%s, %s) unexpected error: %v", tc.from, tc.action, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tc.from, tc.action, got, tc.want)
		}
	}
}

func TestNextRejectsEveryOtherPair(t *testing.T) {
	all := []Status{StatusFunded, StatusAccepted, StatusInProgress, StatusSubmitted, StatusReviewing, StatusCompleted, StatusDisputed}
	for _, a := range Actions() {
		allowed := map[Status]bool{}
		for _, p := range a.Predecessors() {
			allowed[p] = true
		}
		for _, s := range all {
			if allowed[s] {
				continue
			}
			_, err := Next(s, a)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Next(%s, %s) error = %v, want InvalidTransition", s, a, err)
			}
		}
	}
}

func TestStatusFromChain(t *testing.T) {
	t.Run("created collapses into funded", func(t *testing.T) {
		s, err := StatusFromChain(0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s != StatusFunded {
			t.Errorf("expected funded, got %s", s)
		}
	})

	t.Run("in order", func(t *testing.T) {
		s, err := StatusFromChain(4)
		if err != nil || s != StatusSubmitted {
			t.Errorf("expected submitted, got %s (%v)", s, err)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, err := StatusFromChain(42); err == nil {
			t.Error("expected error for unknown status")
		}
	})
}

func TestReachableAndRework(t *testing.T) {
	if !Reachable(StatusFunded, StatusCompleted) {
		t.Error("completed should be reachable from funded")
	}
	if Reachable(StatusCompleted, StatusFunded) {
		t.Error("funded must not be reachable from completed")
	}
	if Reachable(StatusDisputed, StatusCompleted) {
		t.Error("terminal states have no successors")
	}
	if !Step(StatusSubmitted, StatusReviewing) {
		t.Error("submitted -> reviewing is a single step")
	}
	if Step(StatusFunded, StatusInProgress) {
		t.Error("funded -> in_progress skips accepted")
	}
	if !Rework(StatusReviewing, StatusInProgress) {
		t.Error("reviewing -> in_progress is a rework edge")
	}
	if Rework(StatusCompleted, StatusInProgress) {
		t.Error("completed jobs cannot be reworked")
	}
}

func TestErrorClassification(t *testing.T) {
	err := NewError(ErrNetwork, "accept", "confirmation timeout", errors.New("deadline exceeded"))
	if !errors.Is(err, ErrNetwork) {
		t.Error("expected errors.Is to match kind")
	}
	if !Retryable(err) {
		t.Error("network errors are retry-safe")
	}
	if NeedsReconcile(err) {
		t.Error("network errors do not require reconciliation")
	}

	rev := NewError(ErrReverted, "accept", "not freelancer", nil)
	if Retryable(rev) || !NeedsReconcile(rev) {
		t.Error("reverts need reconciliation before retry")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors are unclassified")
	}
}
