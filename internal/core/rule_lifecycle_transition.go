package core

import (
	"assetcore/pkg/domain"
	"context"
	"fmt"
	"reflect"
	"time"
)

// LifecycleTransitionRule blocks invalid and post-terminal state changes on
// assets, assignments and maintenance records.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleSubject struct {
	id    string
	state string
	body  any
}

type lifecycleMachine struct {
	entity   domain.EntityType
	label    string
	terminal map[string]struct{}
	valid    map[string]struct{}
	// frozen records reject every field change once terminal, not just
	// state changes.
	frozen    bool
	extractor func(payload domain.ChangePayload) (lifecycleSubject, bool)
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityAsset: {
		entity:   domain.EntityAsset,
		label:    "asset",
		terminal: toSet(string(domain.StatusDisposed)),
		valid:    toSet(statusStrings(domain.AssetStatuses)...),
		extractor: func(payload domain.ChangePayload) (lifecycleSubject, bool) {
			asset, ok := domain.DecodeChangePayload[domain.Asset](payload)
			if !ok {
				return lifecycleSubject{}, false
			}
			return lifecycleSubject{id: asset.ID, state: string(asset.Status)}, true
		},
	},
	domain.EntityAssignment: {
		entity:   domain.EntityAssignment,
		label:    "assignment",
		terminal: toSet(string(domain.AssignmentCompleted), string(domain.AssignmentCancelled)),
		valid: toSet(
			string(domain.AssignmentActive),
			string(domain.AssignmentCompleted),
			string(domain.AssignmentCancelled),
		),
		frozen: true,
		extractor: func(payload domain.ChangePayload) (lifecycleSubject, bool) {
			assignment, ok := domain.DecodeChangePayload[domain.Assignment](payload)
			if !ok {
				return lifecycleSubject{}, false
			}
			id, state := assignment.ID, string(assignment.Status)
			assignment.UpdatedAt = time.Time{}
			return lifecycleSubject{id: id, state: state, body: assignment}, true
		},
	},
	domain.EntityMaintenance: {
		entity:   domain.EntityMaintenance,
		label:    "maintenance record",
		terminal: toSet(string(domain.MaintenanceCompleted), string(domain.MaintenanceCancelled)),
		valid: toSet(
			string(domain.MaintenanceScheduled),
			string(domain.MaintenanceInProgress),
			string(domain.MaintenanceCompleted),
			string(domain.MaintenanceCancelled),
		),
		extractor: func(payload domain.ChangePayload) (lifecycleSubject, bool) {
			record, ok := domain.DecodeChangePayload[domain.MaintenanceRecord](payload)
			if !ok {
				return lifecycleSubject{}, false
			}
			return lifecycleSubject{id: record.ID, state: string(record.Status)}, true
		},
	},
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}
		after, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		if _, valid := machine.valid[after.state]; !valid {
			res.Violations = append(res.Violations, machine.violation(after.id,
				fmt.Sprintf("%s %s is set to invalid state %q", machine.label, after.id, after.state)))
			continue
		}
		before, ok := machine.extractor(change.Before)
		if !ok {
			continue
		}
		if _, terminal := machine.terminal[before.state]; !terminal {
			continue
		}
		switch {
		case after.state != before.state:
			res.Violations = append(res.Violations, machine.violation(after.id,
				fmt.Sprintf("cannot move %s %s from terminal state %s to %s", machine.label, before.id, before.state, after.state)))
		case machine.frozen && !reflect.DeepEqual(before.body, after.body):
			res.Violations = append(res.Violations, machine.violation(after.id,
				fmt.Sprintf("%s %s is %s and can no longer change", machine.label, before.id, before.state)))
		}
	}
	return res, nil
}

func (m lifecycleMachine) violation(id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "lifecycle_transition",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   m.entity,
		EntityID: id,
	}
}

func statusStrings(statuses []domain.AssetStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
