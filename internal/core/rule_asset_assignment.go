package core

import (
	"assetcore/pkg/domain"
	"context"
	"fmt"
	"sort"
)

// AssetAssignmentConsistencyRule keeps an asset's status, its current
// assignment pointer and its active assignments in agreement.
func AssetAssignmentConsistencyRule() domain.Rule {
	return assetAssignmentRule{}
}

type assetAssignmentRule struct{}

func (assetAssignmentRule) Name() string { return "asset_assignment_consistency" }

func (r assetAssignmentRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	touched := make(map[string]struct{})
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityAsset:
			touched[change.ID] = struct{}{}
		case domain.EntityAssignment:
			for _, payload := range []domain.ChangePayload{change.Before, change.After} {
				if a, ok := domain.DecodeChangePayload[domain.Assignment](payload); ok {
					touched[a.AssetID] = struct{}{}
				}
			}
			if change.Action == domain.ActionDelete {
				continue
			}
			if a, ok := view.FindAssignment(change.ID); ok {
				if _, exists := view.FindAsset(a.AssetID); !exists {
					res.Violations = append(res.Violations, r.violation(domain.EntityAssignment, a.ID,
						fmt.Sprintf("assignment %s references missing asset %s", a.ID, a.AssetID)))
				}
			}
		}
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		asset, ok := view.FindAsset(id)
		if !ok {
			continue
		}
		res.Violations = append(res.Violations, r.checkAsset(view, asset)...)
	}
	return res, nil
}

func (r assetAssignmentRule) checkAsset(view domain.TransactionView, asset domain.Asset) []domain.Violation {
	var out []domain.Violation
	add := func(format string, args ...any) {
		out = append(out, r.violation(domain.EntityAsset, asset.ID, fmt.Sprintf(format, args...)))
	}
	inUse := asset.Status == domain.StatusInUse
	hasCurrent := asset.CurrentAssignmentID != nil
	switch {
	case inUse && !hasCurrent:
		add("asset %s is %s without a current assignment", asset.ID, asset.Status)
	case !inUse && hasCurrent:
		add("asset %s is %s but still points at assignment %s", asset.ID, asset.Status, *asset.CurrentAssignmentID)
	}
	if hasCurrent {
		current, ok := view.FindAssignment(*asset.CurrentAssignmentID)
		switch {
		case !ok:
			add("asset %s points at missing assignment %s", asset.ID, *asset.CurrentAssignmentID)
		case current.AssetID != asset.ID:
			add("asset %s points at assignment %s of asset %s", asset.ID, current.ID, current.AssetID)
		case current.Status != domain.AssignmentActive:
			add("asset %s points at %s assignment %s", asset.ID, current.Status, current.ID)
		}
	}
	active := view.ActiveAssignmentsFor(asset.ID)
	if len(active) > 1 {
		add("asset %s has %d active assignments", asset.ID, len(active))
	}
	for _, a := range active {
		if !hasCurrent || a.ID != *asset.CurrentAssignmentID {
			add("active assignment %s is not the current assignment of asset %s", a.ID, asset.ID)
		}
	}
	return out
}

func (assetAssignmentRule) violation(entity domain.EntityType, id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "asset_assignment_consistency",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   entity,
		EntityID: id,
	}
}
