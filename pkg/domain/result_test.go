package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "nope"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "block: nope") {
		t.Fatalf("expected blocking message in %q", err.Error())
	}
	if strings.Contains(err.Error(), "warn") {
		t.Fatalf("warnings should not be listed: %q", err.Error())
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRuleViolationErrorWithoutBlocking(t *testing.T) {
	err := RuleViolationError{}
	if err.Error() != "transaction blocked by rules" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	engine.Register(staticRule{"second"})
	res, err := engine.Evaluate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected two violations, got %d", len(res.Violations))
	}
	names := engine.Rules()
	if len(names) != 2 || names[0] != "warn" || names[1] != "second" {
		t.Fatalf("unexpected rule order %v", names)
	}
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	engine.Register(staticRule{"never"})
	res, err := engine.Evaluate(context.Background(), nil, nil)
	if err == nil {
		t.Fatalf("expected evaluation error")
	}
	if len(res.Violations) != 0 {
		t.Fatalf("expected empty result on error")
	}
}

func TestChangeRef(t *testing.T) {
	c := Change{Entity: EntityHistory, ParentID: "a1", ID: "h1"}
	if got := c.Ref().Path(); got != "assets/a1/history/h1" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestErrorHelpers(t *testing.T) {
	lv := &LifecycleViolation{Action: LifecycleReturn, Status: StatusAvailable, Reason: "not in use"}
	wrapped := &StoreError{Op: "return", Err: lv}
	if !IsLifecycleViolation(wrapped) {
		t.Fatalf("expected lifecycle violation through StoreError")
	}
	if IsNotFound(wrapped) {
		t.Fatalf("did not expect not found")
	}
	if !strings.Contains(wrapped.Error(), "store return") {
		t.Fatalf("unexpected store error text %q", wrapped.Error())
	}
	nf := &NotFoundError{Entity: EntityAsset, ID: "x"}
	if !IsNotFound(nf) || nf.Error() != "assets x not found" {
		t.Fatalf("unexpected not found %v", nf)
	}
	if err := Invalidf("bad %s", "field"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if (&StoreError{Err: errors.New("x")}).Error() != "store: x" {
		t.Fatalf("unexpected bare store error")
	}
}

func TestSessionActor(t *testing.T) {
	if got := (Session{}).Actor(); got != "system" {
		t.Fatalf("expected system actor, got %q", got)
	}
	s := SessionFromUser(User{Base: Base{ID: "u1"}, AuthUID: "uid", DisplayName: " Kim "})
	if s.Actor() != "Kim" || !s.Valid() {
		t.Fatalf("unexpected session %+v", s)
	}
	if (Session{UserID: "u2"}).Actor() != "u2" {
		t.Fatalf("expected user id fallback")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(ctx context.Context, view TransactionView, changes []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(ctx context.Context, view TransactionView, changes []Change) (Result, error) {
	return Result{}, errors.New("boom")
}
