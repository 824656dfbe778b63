package memory

import (
	"assetcore/pkg/domain"
	"fmt"
	"sort"
	"strings"
	"time"
)

// transactionView exposes a read-only view of a state to rules and callers.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) FindAsset(id string) (Asset, bool) {
	a, ok := v.state.assets[id]
	if !ok {
		return Asset{}, false
	}
	return cloneAsset(a), true
}

func (v transactionView) ListAssets() []Asset {
	out := make([]Asset, 0, len(v.state.assets))
	for _, id := range sortedKeys(v.state.assets) {
		out = append(out, cloneAsset(v.state.assets[id]))
	}
	return out
}

func (v transactionView) FindAssignment(id string) (Assignment, bool) {
	a, ok := v.state.assignments[id]
	if !ok {
		return Assignment{}, false
	}
	return cloneAssignment(a), true
}

func (v transactionView) ListAssignments() []Assignment {
	out := make([]Assignment, 0, len(v.state.assignments))
	for _, id := range sortedKeys(v.state.assignments) {
		out = append(out, cloneAssignment(v.state.assignments[id]))
	}
	return out
}

func (v transactionView) ActiveAssignmentsFor(assetID string) []Assignment {
	var out []Assignment
	for _, id := range sortedKeys(v.state.assignments) {
		a := v.state.assignments[id]
		if a.AssetID == assetID && a.Status == domain.AssignmentActive {
			out = append(out, cloneAssignment(a))
		}
	}
	return out
}

func (v transactionView) FindHistoryEntry(assetID, id string) (HistoryEntry, bool) {
	h, ok := v.state.history[id]
	if !ok || (assetID != "" && h.AssetID != assetID) {
		return HistoryEntry{}, false
	}
	return cloneHistory(h), true
}

// ListHistory returns entries in write order. Entries stored without a
// sequence sort first, by date.
func (v transactionView) ListHistory(assetID string) []HistoryEntry {
	var out []HistoryEntry
	for _, h := range v.state.history {
		if h.AssetID == assetID {
			out = append(out, cloneHistory(h))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return lessByTime(out[i].Date, out[j].Date, out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

func (v transactionView) FindMaintenance(assetID, id string) (MaintenanceRecord, bool) {
	m, ok := v.state.maintenance[id]
	if !ok || (assetID != "" && m.AssetID != assetID) {
		return MaintenanceRecord{}, false
	}
	return cloneMaintenance(m), true
}

// ListMaintenance returns records by service date; records sharing a date
// keep write order.
func (v transactionView) ListMaintenance(assetID string) []MaintenanceRecord {
	var out []MaintenanceRecord
	for _, m := range v.state.maintenance {
		if m.AssetID == assetID {
			out = append(out, cloneMaintenance(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return lessByTime(out[i].Date, out[j].Date, out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

func (v transactionView) FindCategory(id string) (Category, bool) {
	c, ok := v.state.categories[id]
	return c, ok
}

func (v transactionView) ListCategories() []Category {
	out := make([]Category, 0, len(v.state.categories))
	for _, id := range sortedKeys(v.state.categories) {
		out = append(out, v.state.categories[id])
	}
	return out
}

func (v transactionView) FindUser(id string) (User, bool) {
	u, ok := v.state.users[id]
	return u, ok
}

func (v transactionView) FindUserByAuthUID(uid string) (User, bool) {
	for _, id := range sortedKeys(v.state.users) {
		if u := v.state.users[id]; u.AuthUID == uid {
			return u, true
		}
	}
	return User{}, false
}

func (v transactionView) ListUsers() []User {
	out := make([]User, 0, len(v.state.users))
	for _, id := range sortedKeys(v.state.users) {
		out = append(out, v.state.users[id])
	}
	return out
}

func (v transactionView) Documents(collection domain.EntityType) []domain.Document {
	docs, err := v.state.documents(collection, "")
	if err != nil {
		return nil
	}
	return docs
}

func lessByTime(a, b, createdA, createdB time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	if !createdA.Equal(createdB) {
		return createdA.Before(createdB)
	}
	return idA < idB
}

// transaction represents a mutation set applied to a cloned state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) view() transactionView {
	return transactionView{state: &tx.state}
}

// recordChange appends a change entry for rule evaluation and commit hooks.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindAsset(id string) (Asset, bool) { return tx.view().FindAsset(id) }
func (tx *transaction) ListAssets() []Asset                { return tx.view().ListAssets() }
func (tx *transaction) FindAssignment(id string) (Assignment, bool) {
	return tx.view().FindAssignment(id)
}
func (tx *transaction) ListAssignments() []Assignment { return tx.view().ListAssignments() }
func (tx *transaction) ActiveAssignmentsFor(assetID string) []Assignment {
	return tx.view().ActiveAssignmentsFor(assetID)
}
func (tx *transaction) FindHistoryEntry(assetID, id string) (HistoryEntry, bool) {
	return tx.view().FindHistoryEntry(assetID, id)
}
func (tx *transaction) ListHistory(assetID string) []HistoryEntry {
	return tx.view().ListHistory(assetID)
}
func (tx *transaction) FindMaintenance(assetID, id string) (MaintenanceRecord, bool) {
	return tx.view().FindMaintenance(assetID, id)
}
func (tx *transaction) ListMaintenance(assetID string) []MaintenanceRecord {
	return tx.view().ListMaintenance(assetID)
}
func (tx *transaction) FindCategory(id string) (Category, bool) { return tx.view().FindCategory(id) }
func (tx *transaction) ListCategories() []Category             { return tx.view().ListCategories() }
func (tx *transaction) FindUser(id string) (User, bool)         { return tx.view().FindUser(id) }
func (tx *transaction) FindUserByAuthUID(uid string) (User, bool) {
	return tx.view().FindUserByAuthUID(uid)
}
func (tx *transaction) ListUsers() []User { return tx.view().ListUsers() }
func (tx *transaction) Documents(collection domain.EntityType) []domain.Document {
	return tx.view().Documents(collection)
}

// nextSeq allocates the next write sequence from the transactional state, so
// an aborted transaction consumes nothing.
func (tx *transaction) nextSeq() int64 {
	tx.state.seq++
	return tx.state.seq
}

func (tx *transaction) newID(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return tx.store.idFn()
}

func notFound(entity domain.EntityType, id string) error {
	return &domain.NotFoundError{Entity: entity, ID: id}
}

// CreateAsset stores a new asset within the transaction.
func (tx *transaction) CreateAsset(a Asset) (Asset, error) {
	a.ID = tx.newID(a.ID)
	if _, exists := tx.state.assets[a.ID]; exists {
		return Asset{}, fmt.Errorf("asset %q already exists", a.ID)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	if a.Specifications == nil {
		a.Specifications = map[string]string{}
	}
	if a.Attachments == nil {
		a.Attachments = []domain.Attachment{}
	}
	tx.state.assets[a.ID] = cloneAsset(a)
	tx.recordChange(Change{Entity: domain.EntityAsset, Action: domain.ActionCreate, ID: a.ID, After: domain.MustChangePayload(a)})
	return cloneAsset(a), nil
}

// UpdateAsset mutates an asset using the provided mutator function.
func (tx *transaction) UpdateAsset(id string, mutator func(*Asset) error) (Asset, error) {
	current, ok := tx.state.assets[id]
	if !ok {
		return Asset{}, notFound(domain.EntityAsset, id)
	}
	before := cloneAsset(current)
	if err := mutator(&current); err != nil {
		return Asset{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.assets[id] = cloneAsset(current)
	tx.recordChange(Change{Entity: domain.EntityAsset, Action: domain.ActionUpdate, ID: id, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return cloneAsset(current), nil
}

// DeleteAsset removes an asset. Its assignments, history and maintenance
// records must be deleted first within the same transaction.
func (tx *transaction) DeleteAsset(id string) error {
	current, ok := tx.state.assets[id]
	if !ok {
		return notFound(domain.EntityAsset, id)
	}
	for _, a := range tx.state.assignments {
		if a.AssetID == id {
			return fmt.Errorf("asset %q still referenced by assignment %q", id, a.ID)
		}
	}
	for _, h := range tx.state.history {
		if h.AssetID == id {
			return fmt.Errorf("asset %q still owns history entry %q", id, h.ID)
		}
	}
	for _, m := range tx.state.maintenance {
		if m.AssetID == id {
			return fmt.Errorf("asset %q still owns maintenance record %q", id, m.ID)
		}
	}
	delete(tx.state.assets, id)
	tx.recordChange(Change{Entity: domain.EntityAsset, Action: domain.ActionDelete, ID: id, Before: domain.MustChangePayload(current)})
	return nil
}

// CreateAssignment stores a new assignment for an existing asset.
func (tx *transaction) CreateAssignment(a Assignment) (Assignment, error) {
	if _, ok := tx.state.assets[a.AssetID]; !ok {
		return Assignment{}, notFound(domain.EntityAsset, a.AssetID)
	}
	a.ID = tx.newID(a.ID)
	if _, exists := tx.state.assignments[a.ID]; exists {
		return Assignment{}, fmt.Errorf("assignment %q already exists", a.ID)
	}
	if a.Status == "" {
		a.Status = domain.AssignmentActive
	}
	if a.StartDate.IsZero() {
		a.StartDate = tx.now
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.assignments[a.ID] = cloneAssignment(a)
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionCreate, ID: a.ID, After: domain.MustChangePayload(a)})
	return cloneAssignment(a), nil
}

// UpdateAssignment mutates an assignment.
func (tx *transaction) UpdateAssignment(id string, mutator func(*Assignment) error) (Assignment, error) {
	current, ok := tx.state.assignments[id]
	if !ok {
		return Assignment{}, notFound(domain.EntityAssignment, id)
	}
	before := cloneAssignment(current)
	if err := mutator(&current); err != nil {
		return Assignment{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.assignments[id] = cloneAssignment(current)
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionUpdate, ID: id, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return cloneAssignment(current), nil
}

// DeleteAssignment removes an assignment.
func (tx *transaction) DeleteAssignment(id string) error {
	current, ok := tx.state.assignments[id]
	if !ok {
		return notFound(domain.EntityAssignment, id)
	}
	delete(tx.state.assignments, id)
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionDelete, ID: id, Before: domain.MustChangePayload(current)})
	return nil
}

// AppendHistory adds an audit entry under its asset.
func (tx *transaction) AppendHistory(h HistoryEntry) (HistoryEntry, error) {
	if _, ok := tx.state.assets[h.AssetID]; !ok {
		return HistoryEntry{}, notFound(domain.EntityAsset, h.AssetID)
	}
	h.ID = tx.newID(h.ID)
	if _, exists := tx.state.history[h.ID]; exists {
		return HistoryEntry{}, fmt.Errorf("history entry %q already exists", h.ID)
	}
	if h.Date.IsZero() {
		h.Date = tx.now
	}
	if h.Details == nil {
		h.Details = map[string]any{}
	}
	h.Seq = tx.nextSeq()
	h.CreatedAt = tx.now
	h.UpdatedAt = tx.now
	tx.state.history[h.ID] = cloneHistory(h)
	tx.recordChange(Change{Entity: domain.EntityHistory, Action: domain.ActionCreate, ParentID: h.AssetID, ID: h.ID, After: domain.MustChangePayload(h)})
	return cloneHistory(h), nil
}

// DeleteHistoryEntry removes an audit entry.
func (tx *transaction) DeleteHistoryEntry(assetID, id string) error {
	current, ok := tx.state.history[id]
	if !ok || current.AssetID != assetID {
		return notFound(domain.EntityHistory, id)
	}
	delete(tx.state.history, id)
	tx.recordChange(Change{Entity: domain.EntityHistory, Action: domain.ActionDelete, ParentID: assetID, ID: id, Before: domain.MustChangePayload(current)})
	return nil
}

// CreateMaintenance stores a maintenance record under its asset.
func (tx *transaction) CreateMaintenance(m MaintenanceRecord) (MaintenanceRecord, error) {
	if _, ok := tx.state.assets[m.AssetID]; !ok {
		return MaintenanceRecord{}, notFound(domain.EntityAsset, m.AssetID)
	}
	m.ID = tx.newID(m.ID)
	if _, exists := tx.state.maintenance[m.ID]; exists {
		return MaintenanceRecord{}, fmt.Errorf("maintenance record %q already exists", m.ID)
	}
	if m.Status == "" {
		m.Status = domain.MaintenanceScheduled
	}
	if m.Date.IsZero() {
		m.Date = tx.now
	}
	m.Seq = tx.nextSeq()
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.maintenance[m.ID] = cloneMaintenance(m)
	tx.recordChange(Change{Entity: domain.EntityMaintenance, Action: domain.ActionCreate, ParentID: m.AssetID, ID: m.ID, After: domain.MustChangePayload(m)})
	return cloneMaintenance(m), nil
}

// UpdateMaintenance mutates a maintenance record. The owning asset cannot change.
func (tx *transaction) UpdateMaintenance(assetID, id string, mutator func(*MaintenanceRecord) error) (MaintenanceRecord, error) {
	current, ok := tx.state.maintenance[id]
	if !ok || current.AssetID != assetID {
		return MaintenanceRecord{}, notFound(domain.EntityMaintenance, id)
	}
	before := cloneMaintenance(current)
	if err := mutator(&current); err != nil {
		return MaintenanceRecord{}, err
	}
	current.ID = id
	current.AssetID = assetID
	current.Seq = before.Seq
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.maintenance[id] = cloneMaintenance(current)
	tx.recordChange(Change{Entity: domain.EntityMaintenance, Action: domain.ActionUpdate, ParentID: assetID, ID: id, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return cloneMaintenance(current), nil
}

// DeleteMaintenance removes a maintenance record.
func (tx *transaction) DeleteMaintenance(assetID, id string) error {
	current, ok := tx.state.maintenance[id]
	if !ok || current.AssetID != assetID {
		return notFound(domain.EntityMaintenance, id)
	}
	delete(tx.state.maintenance, id)
	tx.recordChange(Change{Entity: domain.EntityMaintenance, Action: domain.ActionDelete, ParentID: assetID, ID: id, Before: domain.MustChangePayload(current)})
	return nil
}

// CreateCategory stores a new category. Codes are unique.
func (tx *transaction) CreateCategory(c Category) (Category, error) {
	c.ID = tx.newID(c.ID)
	if _, exists := tx.state.categories[c.ID]; exists {
		return Category{}, fmt.Errorf("category %q already exists", c.ID)
	}
	for _, existing := range tx.state.categories {
		if c.Code != "" && existing.Code == c.Code {
			return Category{}, domain.Invalidf("category code %q already used", c.Code)
		}
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.categories[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityCategory, Action: domain.ActionCreate, ID: c.ID, After: domain.MustChangePayload(c)})
	return c, nil
}

// UpdateCategory mutates a category.
func (tx *transaction) UpdateCategory(id string, mutator func(*Category) error) (Category, error) {
	current, ok := tx.state.categories[id]
	if !ok {
		return Category{}, notFound(domain.EntityCategory, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Category{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.categories[id] = current
	tx.recordChange(Change{Entity: domain.EntityCategory, Action: domain.ActionUpdate, ID: id, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return current, nil
}

// DeleteCategory removes a category.
func (tx *transaction) DeleteCategory(id string) error {
	current, ok := tx.state.categories[id]
	if !ok {
		return notFound(domain.EntityCategory, id)
	}
	delete(tx.state.categories, id)
	tx.recordChange(Change{Entity: domain.EntityCategory, Action: domain.ActionDelete, ID: id, Before: domain.MustChangePayload(current)})
	return nil
}

// CreateUser stores a new application user. Auth UIDs are unique.
func (tx *transaction) CreateUser(u User) (User, error) {
	u.ID = tx.newID(u.ID)
	if _, exists := tx.state.users[u.ID]; exists {
		return User{}, fmt.Errorf("user %q already exists", u.ID)
	}
	if u.AuthUID != "" {
		if _, taken := tx.view().FindUserByAuthUID(u.AuthUID); taken {
			return User{}, domain.Invalidf("auth uid %q already mapped", u.AuthUID)
		}
	}
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.users[u.ID] = u
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionCreate, ID: u.ID, After: domain.MustChangePayload(u)})
	return u, nil
}

// UpdateUser mutates a user.
func (tx *transaction) UpdateUser(id string, mutator func(*User) error) (User, error) {
	current, ok := tx.state.users[id]
	if !ok {
		return User{}, notFound(domain.EntityUser, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return User{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.users[id] = current
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionUpdate, ID: id, Before: domain.MustChangePayload(before), After: domain.MustChangePayload(current)})
	return current, nil
}

// DeleteUser removes a user.
func (tx *transaction) DeleteUser(id string) error {
	current, ok := tx.state.users[id]
	if !ok {
		return notFound(domain.EntityUser, id)
	}
	delete(tx.state.users, id)
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionDelete, ID: id, Before: domain.MustChangePayload(current)})
	return nil
}
