package core

import (
	"assetcore/pkg/domain"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Operation names reported to metrics, traces and audit.
const (
	OpCreateAsset             = "create_asset"
	OpAssignAsset             = "assign_asset"
	OpReturnAsset             = "return_asset"
	OpDisposeAsset            = "dispose_asset"
	OpAddMaintenance          = "add_maintenance"
	OpChangeStatus            = "change_status"
	OpUpdateAsset             = "update_asset"
	OpDeleteAsset             = "delete_asset"
	OpUpdateMaintenanceStatus = "update_maintenance_status"
)

// AssignmentInput carries the custody details of a new assignment.
type AssignmentInput struct {
	AssignedTo string    `json:"assigned_to"`
	Department string    `json:"department,omitempty"`
	Location   string    `json:"location,omitempty"`
	StartDate  time.Time `json:"start_date,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

func (in AssignmentInput) validate() error {
	if strings.TrimSpace(in.AssignedTo) == "" {
		return domain.Invalidf("assignee required")
	}
	return nil
}

// MaintenanceInput describes a service event. UnderRepair moves the asset to
// 수리중.
type MaintenanceInput struct {
	Kind        string                   `json:"kind"`
	Status      domain.MaintenanceStatus `json:"status,omitempty"`
	Technician  string                   `json:"technician,omitempty"`
	Cost        decimal.Decimal          `json:"cost"`
	Date        time.Time                `json:"date,omitempty"`
	Description string                   `json:"description"`
	UnderRepair bool                     `json:"under_repair,omitempty"`
}

func (in MaintenanceInput) validate() error {
	if strings.TrimSpace(in.Kind) == "" && strings.TrimSpace(in.Description) == "" {
		return domain.Invalidf("maintenance kind or description required")
	}
	if in.Cost.IsNegative() {
		return domain.Invalidf("maintenance cost cannot be negative")
	}
	if in.Status != "" && !validMaintenanceStatus(in.Status) {
		return domain.Invalidf("unknown maintenance status %q", in.Status)
	}
	return nil
}

func validMaintenanceStatus(status domain.MaintenanceStatus) bool {
	switch status {
	case domain.MaintenanceScheduled, domain.MaintenanceInProgress, domain.MaintenanceCompleted, domain.MaintenanceCancelled:
		return true
	default:
		return false
	}
}

// Outcome reports every record written by a lifecycle operation.
type Outcome struct {
	Asset       Asset
	Assignment  *Assignment
	Completed   *Assignment
	Maintenance *MaintenanceRecord
	History     []HistoryEntry
	Result      Result
}

// lifecyclePlan holds the inputs needed to apply a decision.
type lifecyclePlan struct {
	complete    string
	assignment  *AssignmentInput
	maintenance *MaintenanceInput
	reason      string
	notes       string
}

// historyWriter stamps every entry of one operation with the same date and
// actor; the store sequences them.
type historyWriter struct {
	tx    domain.Transaction
	base  time.Time
	actor string
}

func (w *historyWriter) append(asset Asset, entry HistoryEntry) (HistoryEntry, error) {
	entry.AssetID = asset.ID
	entry.AssetName = asset.Name
	entry.Date = w.base
	entry.Actor = w.actor
	return w.tx.AppendHistory(entry)
}

func related(id string, entity EntityType) (*string, EntityType) {
	if id == "" {
		return nil, ""
	}
	return &id, entity
}

// applyDecision performs the writes of an allowed decision in order.
func (s *Service) applyDecision(tx domain.Transaction, hw *historyWriter, asset Asset, d domain.Decision, plan lifecyclePlan, out *Outcome) error {
	now := hw.base
	for _, w := range d.Writes {
		switch w.Kind {
		case domain.WriteCompleteAssignment:
			if plan.complete == "" {
				return fmt.Errorf("no assignment to complete for asset %s", asset.ID)
			}
			completed, err := tx.UpdateAssignment(plan.complete, func(a *Assignment) error {
				if a.AssetID != asset.ID {
					return domain.Invalidf("assignment %s does not belong to asset %s", a.ID, asset.ID)
				}
				if a.Status != domain.AssignmentActive {
					return domain.Invalidf("assignment %s is %s", a.ID, a.Status)
				}
				end := now
				a.Status = domain.AssignmentCompleted
				a.EndDate = &end
				if plan.notes != "" {
					a.Notes = strings.TrimSpace(strings.Join([]string{a.Notes, plan.notes}, "\n"))
				}
				return nil
			})
			if err != nil {
				return err
			}
			out.Completed = &completed

		case domain.WriteCreateAssignment:
			in := plan.assignment
			start := in.StartDate
			if start.IsZero() {
				start = now
			}
			created, err := tx.CreateAssignment(Assignment{
				AssetID:    asset.ID,
				AssetName:  asset.Name,
				AssignedTo: strings.TrimSpace(in.AssignedTo),
				Department: in.Department,
				Location:   in.Location,
				StartDate:  start.UTC(),
				Status:     domain.AssignmentActive,
				Notes:      in.Notes,
			})
			if err != nil {
				return err
			}
			out.Assignment = &created

		case domain.WriteCreateMaintenance:
			in := plan.maintenance
			date := in.Date
			if date.IsZero() {
				date = now
			}
			record := MaintenanceRecord{
				AssetID:     asset.ID,
				AssetName:   asset.Name,
				Kind:        in.Kind,
				Status:      in.Status,
				Technician:  in.Technician,
				Cost:        in.Cost,
				Date:        date.UTC(),
				Description: in.Description,
			}
			if record.Status == domain.MaintenanceCompleted {
				done := now
				record.CompletedAt = &done
			}
			created, err := tx.CreateMaintenance(record)
			if err != nil {
				return err
			}
			out.Maintenance = &created

		case domain.WriteUpdateAsset:
			updated, err := tx.UpdateAsset(asset.ID, func(a *Asset) error {
				a.Status = d.ResultingStatus
				a.CurrentAssignmentID = nil
				if d.ResultingStatus == domain.StatusInUse && out.Assignment != nil {
					id := out.Assignment.ID
					a.CurrentAssignmentID = &id
				}
				return nil
			})
			if err != nil {
				return err
			}
			asset = updated

		case domain.WriteAppendHistory:
			entry, err := historyFor(w.History, d, plan, out)
			if err != nil {
				return err
			}
			appended, err := hw.append(asset, entry)
			if err != nil {
				return err
			}
			out.History = append(out.History, appended)

		default:
			return fmt.Errorf("unknown write kind %q", w.Kind)
		}
	}
	if current, ok := tx.FindAsset(asset.ID); ok {
		asset = current
	}
	out.Asset = asset
	return nil
}

func historyFor(kind domain.HistoryType, d domain.Decision, plan lifecyclePlan, out *Outcome) (HistoryEntry, error) {
	entry := HistoryEntry{Type: kind, Details: map[string]any{}}
	switch kind {
	case domain.HistoryAssign:
		a := out.Assignment
		if a == nil {
			return HistoryEntry{}, fmt.Errorf("assign history without assignment")
		}
		entry.Description = fmt.Sprintf("Assigned to %s", a.AssignedTo)
		entry.Details["assigned_to"] = a.AssignedTo
		entry.Details["department"] = a.Department
		entry.Details["location"] = a.Location
		entry.Details["start_date"] = a.StartDate.Format(time.RFC3339Nano)
		entry.RelatedID, entry.RelatedType = related(a.ID, EntityAssignment)
	case domain.HistoryReturn:
		a := out.Completed
		if a == nil {
			return HistoryEntry{}, fmt.Errorf("return history without completed assignment")
		}
		entry.Description = fmt.Sprintf("Returned by %s", a.AssignedTo)
		entry.Details["assigned_to"] = a.AssignedTo
		if plan.notes != "" {
			entry.Details["notes"] = plan.notes
		}
		entry.RelatedID, entry.RelatedType = related(a.ID, EntityAssignment)
	case domain.HistoryDispose:
		entry.Description = "Disposed"
		if plan.reason != "" {
			entry.Description = "Disposed: " + plan.reason
		}
		entry.Details["reason"] = plan.reason
		entry.Details["previous_status"] = string(d.From)
		if out.Completed != nil {
			entry.Details["completed_assignment_id"] = out.Completed.ID
		}
	case domain.HistoryMaintenance:
		m := out.Maintenance
		if m == nil {
			return HistoryEntry{}, fmt.Errorf("maintenance history without record")
		}
		entry.Description = strings.TrimSpace(fmt.Sprintf("Maintenance %s %s", m.Kind, m.Description))
		entry.Details["kind"] = m.Kind
		entry.Details["status"] = string(m.Status)
		entry.Details["technician"] = m.Technician
		entry.Details["cost"] = m.Cost.String()
		if d.ResultingStatus != d.From {
			entry.Details["previous_status"] = string(d.From)
			entry.Details["new_status"] = string(d.ResultingStatus)
		}
		entry.RelatedID, entry.RelatedType = related(m.ID, EntityMaintenance)
	case domain.HistoryStatusChange:
		entry.Description = fmt.Sprintf("Status changed from %s to %s", d.From, d.ResultingStatus)
		entry.Details["previous_status"] = string(d.From)
		entry.Details["new_status"] = string(d.ResultingStatus)
		if plan.reason != "" {
			entry.Details["reason"] = plan.reason
		}
	default:
		return HistoryEntry{}, fmt.Errorf("unsupported history type %q", kind)
	}
	return entry, nil
}

func (s *Service) historyWriter(tx domain.Transaction, session Session) *historyWriter {
	return &historyWriter{tx: tx, base: s.now(), actor: session.Actor()}
}

func findAsset(tx domain.TransactionView, id string) (Asset, error) {
	asset, ok := tx.FindAsset(id)
	if !ok {
		return Asset{}, &domain.NotFoundError{Entity: EntityAsset, ID: id}
	}
	return asset, nil
}

// CreateAssetWithAssignment records a purchase and, when in is non-nil,
// assigns the new asset in the same transaction.
func (s *Service) CreateAssetWithAssignment(ctx context.Context, session Session, asset Asset, in *AssignmentInput) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, op{name: OpCreateAsset, entity: EntityAsset, action: ActionCreate, target: session.UserID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if strings.TrimSpace(asset.Name) == "" {
			return "", domain.Invalidf("asset name required")
		}
		if asset.Status == "" {
			asset.Status = domain.StatusAvailable
		}
		if !asset.Status.Valid() {
			return "", domain.Invalidf("unknown asset status %q", asset.Status)
		}
		if in == nil && asset.Status == domain.StatusInUse {
			return "", domain.Invalidf("an asset in use needs an assignment")
		}
		if in != nil {
			if err := in.validate(); err != nil {
				return "", err
			}
		}
		asset.CurrentAssignmentID = nil
		asset.Attachments = nil

		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			out = Outcome{}
			var decision domain.Decision
			if in != nil {
				d, err := domain.Decide(asset.Status, domain.Request{Action: domain.LifecycleAssign})
				if err != nil {
					return err
				}
				decision = d
			}
			created, err := tx.CreateAsset(asset)
			if err != nil {
				return err
			}
			hw := s.historyWriter(tx, session)
			purchase, err := hw.append(created, purchaseEntry(created))
			if err != nil {
				return err
			}
			out.Asset = created
			out.History = append(out.History, purchase)
			if in == nil {
				return nil
			}
			return s.applyDecision(tx, hw, created, decision, lifecyclePlan{assignment: in}, &out)
		})
		out.Result = res
		return out.Asset.ID, err
	})
	return out, err
}

func purchaseEntry(asset Asset) HistoryEntry {
	details := map[string]any{
		"category":      asset.Category,
		"serial_number": asset.SerialNumber,
		"price":         asset.Purchase.Price.String(),
		"vendor":        asset.Purchase.Vendor,
		"status":        string(asset.Status),
	}
	if asset.Purchase.Date != nil {
		details["purchase_date"] = asset.Purchase.Date.Format(time.RFC3339)
	}
	return HistoryEntry{
		Type:        domain.HistoryPurchase,
		Description: fmt.Sprintf("Purchased %s", asset.Name),
		Details:     details,
	}
}

// AssignAsset opens a new assignment. When previousAssignmentID is set the
// asset must currently hold that assignment; it is completed first and a
// return entry precedes the assign entry.
func (s *Service) AssignAsset(ctx context.Context, session Session, assetID, previousAssignmentID string, in AssignmentInput) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, op{name: OpAssignAsset, entity: EntityAssignment, action: ActionCreate, target: assetID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if err := in.validate(); err != nil {
			return "", err
		}
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			out = Outcome{}
			asset, err := findAsset(tx, assetID)
			if err != nil {
				return err
			}
			action := domain.LifecycleAssign
			if previousAssignmentID != "" {
				action = domain.LifecycleReassign
			}
			d, err := domain.Decide(asset.Status, domain.Request{Action: action})
			if err != nil {
				return err
			}
			if previousAssignmentID != "" {
				if err := checkCurrentAssignment(tx, asset, previousAssignmentID); err != nil {
					return err
				}
			}
			return s.applyDecision(tx, s.historyWriter(tx, session), asset, d, lifecyclePlan{
				complete:   previousAssignmentID,
				assignment: &in,
			}, &out)
		})
		out.Result = res
		if out.Assignment != nil {
			return out.Assignment.ID, err
		}
		return "", err
	})
	return out, err
}

func checkCurrentAssignment(tx domain.TransactionView, asset Asset, assignmentID string) error {
	if _, ok := tx.FindAssignment(assignmentID); !ok {
		return &domain.NotFoundError{Entity: EntityAssignment, ID: assignmentID}
	}
	if asset.CurrentAssignmentID == nil || *asset.CurrentAssignmentID != assignmentID {
		return domain.Invalidf("assignment %s is not the current assignment of asset %s", assignmentID, asset.ID)
	}
	return nil
}

// ReturnAsset completes the asset's active assignment and makes it available.
// An empty assignmentID selects the current assignment.
func (s *Service) ReturnAsset(ctx context.Context, session Session, assetID, assignmentID, notes string) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, op{name: OpReturnAsset, entity: EntityAssignment, action: ActionUpdate, target: assetID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			out = Outcome{}
			asset, err := findAsset(tx, assetID)
			if err != nil {
				return err
			}
			d, err := domain.Decide(asset.Status, domain.Request{Action: domain.LifecycleReturn})
			if err != nil {
				return err
			}
			if assignmentID == "" && asset.CurrentAssignmentID != nil {
				assignmentID = *asset.CurrentAssignmentID
			}
			if err := checkCurrentAssignment(tx, asset, assignmentID); err != nil {
				return err
			}
			return s.applyDecision(tx, s.historyWriter(tx, session), asset, d, lifecyclePlan{
				complete: assignmentID,
				notes:    strings.TrimSpace(notes),
			}, &out)
		})
		out.Result = res
		return assignmentID, err
	})
	return out, err
}

// DisposeAsset marks the asset disposed, completing its active assignment.
func (s *Service) DisposeAsset(ctx context.Context, session Session, assetID, reason string) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, op{name: OpDisposeAsset, entity: EntityAsset, action: ActionUpdate, target: assetID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			out = Outcome{}
			asset, err := findAsset(tx, assetID)
			if err != nil {
				return err
			}
			active := activeAssignmentID(tx, asset)
			d, err := domain.Decide(asset.Status, domain.Request{
				Action:              domain.LifecycleDispose,
				HasActiveAssignment: active != "",
			})
			if err != nil {
				return err
			}
			return s.applyDecision(tx, s.historyWriter(tx, session), asset, d, lifecyclePlan{
				complete: active,
				reason:   strings.TrimSpace(reason),
			}, &out)
		})
		out.Result = res
		return assetID, err
	})
	return out, err
}

func activeAssignmentID(tx domain.TransactionView, asset Asset) string {
	if asset.CurrentAssignmentID != nil {
		return *asset.CurrentAssignmentID
	}
	if active := tx.ActiveAssignmentsFor(asset.ID); len(active) > 0 {
		return active[0].ID
	}
	return ""
}

// AddMaintenance records a service event and optionally moves the asset to
// 수리중, completing its active assignment first. Disposed assets are
// rejected.
func (s *Service) AddMaintenance(ctx context.Context, session Session, assetID string, in MaintenanceInput) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, op{name: OpAddMaintenance, entity: EntityMaintenance, action: ActionCreate, target: assetID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if err := in.validate(); err != nil {
			return "", err
		}
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			out = Outcome{}
			asset, err := findAsset(tx, assetID)
			if err != nil {
				return err
			}
			active := activeAssignmentID(tx, asset)
			d, err := domain.Decide(asset.Status, domain.Request{
				Action:              domain.LifecycleAddMaintenance,
				UnderRepair:         in.UnderRepair,
				HasActiveAssignment: active != "",
			})
			if err != nil {
				return err
			}
			return s.applyDecision(tx, s.historyWriter(tx, session), asset, d, lifecyclePlan{
				complete:    active,
				maintenance: &in,
			}, &out)
		})
		out.Result = res
		if out.Maintenance != nil {
			return out.Maintenance.ID, err
		}
		return "", err
	})
	return out, err
}

// ChangeStatus applies an explicit status override.
func (s *Service) ChangeStatus(ctx context.Context, session Session, assetID string, status AssetStatus, reason string) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, op{name: OpChangeStatus, entity: EntityAsset, action: ActionUpdate, target: assetID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			out = Outcome{}
			asset, err := findAsset(tx, assetID)
			if err != nil {
				return err
			}
			d, err := domain.Decide(asset.Status, domain.Request{Action: domain.LifecycleChangeStatus, Target: status})
			if err != nil {
				return err
			}
			return s.applyDecision(tx, s.historyWriter(tx, session), asset, d, lifecyclePlan{reason: strings.TrimSpace(reason)}, &out)
		})
		out.Result = res
		return assetID, err
	})
	return out, err
}

// UpdateAsset edits descriptive asset fields. Status, the current assignment
// and stored files are owned by the lifecycle and file operations and are
// left unchanged. A rename is copied to the active assignment and to open
// maintenance records; history keeps the name at the time it was written.
func (s *Service) UpdateAsset(ctx context.Context, session Session, id string, mutator func(*Asset) error) (Asset, Result, error) {
	var updated Asset
	var res Result
	err := s.run(ctx, op{name: OpUpdateAsset, entity: EntityAsset, action: ActionUpdate, target: id, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if mutator == nil {
			return "", domain.Invalidf("mutator required")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			before, err := findAsset(tx, id)
			if err != nil {
				return err
			}
			updated, err = tx.UpdateAsset(id, func(a *Asset) error {
				if err := mutator(a); err != nil {
					return err
				}
				if strings.TrimSpace(a.Name) == "" {
					return domain.Invalidf("asset name required")
				}
				a.Status = before.Status
				a.CurrentAssignmentID = before.CurrentAssignmentID
				a.ImageURL = before.ImageURL
				a.Attachments = before.Attachments
				return nil
			})
			if err != nil {
				return err
			}
			if updated.Name == before.Name {
				return nil
			}
			return backfillAssetName(tx, updated)
		})
		return id, err
	})
	return updated, res, err
}

func backfillAssetName(tx domain.Transaction, asset Asset) error {
	for _, a := range tx.ActiveAssignmentsFor(asset.ID) {
		if _, err := tx.UpdateAssignment(a.ID, func(a *Assignment) error {
			a.AssetName = asset.Name
			return nil
		}); err != nil {
			return err
		}
	}
	for _, m := range tx.ListMaintenance(asset.ID) {
		if m.Status == domain.MaintenanceCompleted || m.Status == domain.MaintenanceCancelled {
			continue
		}
		if _, err := tx.UpdateMaintenance(asset.ID, m.ID, func(m *MaintenanceRecord) error {
			m.AssetName = asset.Name
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAsset removes the asset together with its assignments, maintenance
// records and history in one transaction, then schedules removal of its
// files. File removal is not rolled back and its failures are only logged.
func (s *Service) DeleteAsset(ctx context.Context, session Session, id string) (Result, error) {
	var res Result
	err := s.run(ctx, op{name: OpDeleteAsset, entity: EntityAsset, action: ActionDelete, target: id, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		var deleted Asset
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			asset, err := findAsset(tx, id)
			if err != nil {
				return err
			}
			for _, h := range tx.ListHistory(id) {
				if err := tx.DeleteHistoryEntry(id, h.ID); err != nil {
					return err
				}
			}
			for _, m := range tx.ListMaintenance(id) {
				if err := tx.DeleteMaintenance(id, m.ID); err != nil {
					return err
				}
			}
			for _, a := range tx.ListAssignments() {
				if a.AssetID != id {
					continue
				}
				if err := tx.DeleteAssignment(a.ID); err != nil {
					return err
				}
			}
			deleted = asset
			return tx.DeleteAsset(id)
		})
		if err == nil && s.files != nil {
			s.files.CleanupAsync(deleted)
		}
		return id, err
	})
	return res, err
}

// UpdateMaintenanceStatus moves a maintenance record along its lifecycle.
func (s *Service) UpdateMaintenanceStatus(ctx context.Context, session Session, assetID, recordID string, status domain.MaintenanceStatus) (MaintenanceRecord, Result, error) {
	var updated MaintenanceRecord
	var res Result
	err := s.run(ctx, op{name: OpUpdateMaintenanceStatus, entity: EntityMaintenance, action: ActionUpdate, target: recordID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if !validMaintenanceStatus(status) {
			return "", domain.Invalidf("unknown maintenance status %q", status)
		}
		now := s.now()
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateMaintenance(assetID, recordID, func(m *MaintenanceRecord) error {
				m.Status = status
				if status == domain.MaintenanceCompleted && m.CompletedAt == nil {
					m.CompletedAt = &now
				}
				return nil
			})
			return err
		})
		return recordID, err
	})
	return updated, res, err
}
