package core

import (
	"assetcore/internal/infra/persistence/memory"
	"assetcore/pkg/domain"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func evaluateRule(t *testing.T, rule domain.Rule, store *memory.Store, changes []Change) domain.Result {
	t.Helper()
	var res domain.Result
	err := store.View(context.Background(), func(v domain.TransactionView) error {
		var err error
		res, err = rule.Evaluate(context.Background(), v, changes)
		return err
	})
	if err != nil {
		t.Fatalf("evaluate %s: %v", rule.Name(), err)
	}
	return res
}

func blockingMessages(res domain.Result) []string {
	var out []string
	for _, v := range res.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v.Message)
		}
	}
	return out
}

func TestLifecycleTransitionRuleAssets(t *testing.T) {
	store := memory.NewStore(nil)
	rule := LifecycleTransitionRule()
	disposed := Asset{Base: Base{ID: "a-1"}, Name: "A", Status: domain.StatusDisposed}
	revived := disposed
	revived.Status = domain.StatusAvailable
	renamed := disposed
	renamed.Name = "B"

	cases := []struct {
		name    string
		change  Change
		blocked string
	}{
		{
			name:    "invalid state",
			change:  Change{Entity: EntityAsset, Action: ActionCreate, ID: "a-1", After: mustChangePayload(t, Asset{Base: Base{ID: "a-1"}, Status: "broken"})},
			blocked: "invalid state",
		},
		{
			name:    "leaving disposed",
			change:  Change{Entity: EntityAsset, Action: ActionUpdate, ID: "a-1", Before: mustChangePayload(t, disposed), After: mustChangePayload(t, revived)},
			blocked: "terminal state",
		},
		{
			name:   "editing a disposed asset",
			change: Change{Entity: EntityAsset, Action: ActionUpdate, ID: "a-1", Before: mustChangePayload(t, disposed), After: mustChangePayload(t, renamed)},
		},
		{
			name:   "delete",
			change: Change{Entity: EntityAsset, Action: ActionDelete, ID: "a-1", Before: mustChangePayload(t, disposed), After: domain.UndefinedChangePayload()},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := blockingMessages(evaluateRule(t, rule, store, []Change{tc.change}))
			if tc.blocked == "" {
				if len(msgs) != 0 {
					t.Fatalf("expected no violations, got %v", msgs)
				}
				return
			}
			if len(msgs) != 1 || !strings.Contains(msgs[0], tc.blocked) {
				t.Fatalf("expected violation containing %q, got %v", tc.blocked, msgs)
			}
		})
	}
}

func TestLifecycleTransitionRuleFreezesClosedAssignments(t *testing.T) {
	store := memory.NewStore(nil)
	rule := LifecycleTransitionRule()
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	closed := Assignment{Base: Base{ID: "as-1"}, AssetID: "a-1", AssetName: "A", Status: domain.AssignmentCompleted, EndDate: &end}

	touched := closed
	touched.UpdatedAt = end.Add(time.Hour)
	if msgs := blockingMessages(evaluateRule(t, rule, store, []Change{{
		Entity: EntityAssignment, Action: ActionUpdate, ID: "as-1",
		Before: mustChangePayload(t, closed), After: mustChangePayload(t, touched),
	}})); len(msgs) != 0 {
		t.Fatalf("expected timestamp-only update to pass, got %v", msgs)
	}

	renamed := closed
	renamed.AssetName = "B"
	msgs := blockingMessages(evaluateRule(t, rule, store, []Change{{
		Entity: EntityAssignment, Action: ActionUpdate, ID: "as-1",
		Before: mustChangePayload(t, closed), After: mustChangePayload(t, renamed),
	}}))
	if len(msgs) != 1 || !strings.Contains(msgs[0], "can no longer change") {
		t.Fatalf("expected frozen assignment violation, got %v", msgs)
	}

	reopened := closed
	reopened.Status = domain.AssignmentActive
	msgs = blockingMessages(evaluateRule(t, rule, store, []Change{{
		Entity: EntityAssignment, Action: ActionUpdate, ID: "as-1",
		Before: mustChangePayload(t, closed), After: mustChangePayload(t, reopened),
	}}))
	if len(msgs) != 1 || !strings.Contains(msgs[0], "terminal state") {
		t.Fatalf("expected reopen violation, got %v", msgs)
	}
}

func TestLifecycleTransitionRuleMaintenance(t *testing.T) {
	store := memory.NewStore(nil)
	rule := LifecycleTransitionRule()
	cancelled := MaintenanceRecord{Base: Base{ID: "m-1"}, AssetID: "a-1", Status: domain.MaintenanceCancelled}
	edited := cancelled
	edited.Technician = "Choi"
	if msgs := blockingMessages(evaluateRule(t, rule, store, []Change{{
		Entity: EntityMaintenance, Action: ActionUpdate, ParentID: "a-1", ID: "m-1",
		Before: mustChangePayload(t, cancelled), After: mustChangePayload(t, edited),
	}})); len(msgs) != 0 {
		t.Fatalf("expected field edits on closed maintenance to pass, got %v", msgs)
	}
	restarted := cancelled
	restarted.Status = domain.MaintenanceInProgress
	if msgs := blockingMessages(evaluateRule(t, rule, store, []Change{{
		Entity: EntityMaintenance, Action: ActionUpdate, ParentID: "a-1", ID: "m-1",
		Before: mustChangePayload(t, cancelled), After: mustChangePayload(t, restarted),
	}})); len(msgs) != 1 {
		t.Fatalf("expected restart violation, got %v", msgs)
	}
}

func TestAssetAssignmentConsistencyRuleBlocksDirectWrites(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(NewDefaultRulesEngine())
	svc := NewService(store)
	created, err := svc.CreateAssetWithAssignment(ctx, testSession, Asset{Name: "A"}, &AssignmentInput{AssignedTo: "Hong"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	assetID := created.Asset.ID

	cases := map[string]func(tx domain.Transaction) error{
		"in use without pointer": func(tx domain.Transaction) error {
			_, err := tx.UpdateAsset(assetID, func(a *Asset) error { a.CurrentAssignmentID = nil; return nil })
			return err
		},
		"available with pointer": func(tx domain.Transaction) error {
			_, err := tx.UpdateAsset(assetID, func(a *Asset) error { a.Status = domain.StatusAvailable; return nil })
			return err
		},
		"second active assignment": func(tx domain.Transaction) error {
			_, err := tx.CreateAssignment(Assignment{AssetID: assetID, AssignedTo: "Lee", Status: domain.AssignmentActive})
			return err
		},
		"completing the current assignment only": func(tx domain.Transaction) error {
			_, err := tx.UpdateAssignment(created.Assignment.ID, func(a *Assignment) error {
				a.Status = domain.AssignmentCompleted
				return nil
			})
			return err
		},
	}
	for name, write := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.RunInTransaction(ctx, write)
			var rv domain.RuleViolationError
			if !errors.As(err, &rv) {
				t.Fatalf("expected rule violation, got %v", err)
			}
			found := false
			for _, v := range rv.Result.Violations {
				if v.Rule == "asset_assignment_consistency" {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected consistency violation, got %v", rv.Result.Violations)
			}
		})
	}
	checkInvariants(t, svc)
}

func TestAssetAssignmentConsistencyRuleMissingAsset(t *testing.T) {
	store := memory.NewStore(nil)
	rule := AssetAssignmentConsistencyRule()
	var deleted domain.Result
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		asset, err := tx.CreateAsset(Asset{Name: "A", Status: domain.StatusAvailable})
		if err != nil {
			return err
		}
		a, err := tx.CreateAssignment(Assignment{AssetID: asset.ID, AssignedTo: "Hong", Status: domain.AssignmentCompleted})
		if err != nil {
			return err
		}
		if err := tx.DeleteAssignment(a.ID); err != nil {
			return err
		}
		deleted, err = rule.Evaluate(context.Background(), tx, []Change{{
			Entity: EntityAssignment, Action: ActionDelete, ID: a.ID,
			Before: mustChangePayload(t, a), After: domain.UndefinedChangePayload(),
		}})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if deleted.HasBlocking() {
		t.Fatalf("expected delete of an inactive assignment to pass, got %v", deleted.Violations)
	}

	orphan := Assignment{Base: Base{ID: "orphan"}, AssetID: "ghost", Status: domain.AssignmentActive}
	var res domain.Result
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		res, _ = rule.Evaluate(context.Background(), orphanView{TransactionView: v, orphan: orphan}, []Change{{
			Entity: EntityAssignment, Action: ActionCreate, ID: orphan.ID, After: mustChangePayload(t, orphan),
		}})
		return nil
	})
	msgs := blockingMessages(res)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "missing asset") {
		t.Fatalf("expected missing asset violation, got %v", msgs)
	}
}

type orphanView struct {
	domain.TransactionView
	orphan Assignment
}

func (v orphanView) FindAssignment(id string) (Assignment, bool) {
	if id == v.orphan.ID {
		return v.orphan, true
	}
	return v.TransactionView.FindAssignment(id)
}

func TestHistoryAppendOnlyRule(t *testing.T) {
	store := memory.NewStore(nil)
	rule := HistoryAppendOnlyRule()
	entry := HistoryEntry{Base: Base{ID: "h-1"}, AssetID: "a-1", Type: domain.HistoryPurchase}
	edited := entry
	edited.Description = "changed"

	update := Change{Entity: EntityHistory, Action: ActionUpdate, ParentID: "a-1", ID: "h-1", Before: mustChangePayload(t, entry), After: mustChangePayload(t, edited)}
	remove := Change{Entity: EntityHistory, Action: ActionDelete, ParentID: "a-1", ID: "h-1", Before: mustChangePayload(t, entry), After: domain.UndefinedChangePayload()}
	deleteAsset := Change{Entity: EntityAsset, Action: ActionDelete, ID: "a-1", After: domain.UndefinedChangePayload()}
	deleteOther := Change{Entity: EntityAsset, Action: ActionDelete, ID: "a-2", After: domain.UndefinedChangePayload()}
	create := Change{Entity: EntityHistory, Action: ActionCreate, ParentID: "a-1", ID: "h-2", After: mustChangePayload(t, entry)}

	cases := []struct {
		name    string
		changes []Change
		blocked int
	}{
		{"append", []Change{create}, 0},
		{"edit", []Change{update}, 1},
		{"lone delete", []Change{remove}, 1},
		{"delete with other asset", []Change{remove, deleteOther}, 1},
		{"delete with owning asset", []Change{remove, deleteAsset}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := blockingMessages(evaluateRule(t, rule, store, tc.changes)); len(got) != tc.blocked {
				t.Fatalf("expected %d violations, got %v", tc.blocked, got)
			}
		})
	}
}

func TestHistoryCannotBeDeletedOnItsOwn(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created := mustCreateAsset(t, svc, "A", nil)
	history, _ := svc.AssetHistory(ctx, created.Asset.ID)

	_, err := svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteHistoryEntry(created.Asset.ID, history[0].ID)
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	after, _ := svc.AssetHistory(ctx, created.Asset.ID)
	if len(after) != 1 {
		t.Fatalf("expected history kept, got %d entries", len(after))
	}
}
