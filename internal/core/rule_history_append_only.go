package core

import (
	"assetcore/pkg/domain"
	"context"
	"fmt"
)

// HistoryAppendOnlyRule rejects edits to history entries and deletions that
// are not part of deleting the owning asset.
func HistoryAppendOnlyRule() domain.Rule {
	return historyAppendOnlyRule{}
}

type historyAppendOnlyRule struct{}

func (historyAppendOnlyRule) Name() string { return "history_append_only" }

func (historyAppendOnlyRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	deletedAssets := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity == domain.EntityAsset && change.Action == domain.ActionDelete {
			deletedAssets[change.ID] = struct{}{}
		}
	}
	for _, change := range changes {
		if change.Entity != domain.EntityHistory {
			continue
		}
		var msg string
		switch change.Action {
		case domain.ActionUpdate:
			msg = fmt.Sprintf("history entry %s cannot be edited", change.ID)
		case domain.ActionDelete:
			if _, ok := deletedAssets[change.ParentID]; ok {
				continue
			}
			msg = fmt.Sprintf("history entry %s can only be removed with asset %s", change.ID, change.ParentID)
		default:
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "history_append_only",
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   domain.EntityHistory,
			EntityID: change.ID,
		})
	}
	return res, nil
}
