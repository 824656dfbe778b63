package memory

import (
	"assetcore/pkg/domain"
	"fmt"
	"maps"
	"sort"
	"time"
)

// collections lists every stored collection in a stable order.
var collections = []domain.EntityType{
	domain.EntityAsset,
	domain.EntityAssignment,
	domain.EntityHistory,
	domain.EntityMaintenance,
	domain.EntityCategory,
	domain.EntityUser,
}

type memoryState struct {
	assets      map[string]Asset
	assignments map[string]Assignment
	history     map[string]HistoryEntry
	maintenance map[string]MaintenanceRecord
	categories  map[string]Category
	users       map[string]User
	// seq is the last sequence handed to a history or maintenance write.
	seq int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Assets      map[string]Asset             `json:"assets"`
	Assignments map[string]Assignment        `json:"assignments"`
	History     map[string]HistoryEntry      `json:"history"`
	Maintenance map[string]MaintenanceRecord `json:"maintenance"`
	Categories  map[string]Category          `json:"categories"`
	Users       map[string]User              `json:"users"`
	Seq         int64                        `json:"seq"`
}

func newMemoryState() memoryState {
	return memoryState{
		assets:      make(map[string]Asset),
		assignments: make(map[string]Assignment),
		history:     make(map[string]HistoryEntry),
		maintenance: make(map[string]MaintenanceRecord),
		categories:  make(map[string]Category),
		users:       make(map[string]User),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Assets:      cloned.assets,
		Assignments: cloned.assignments,
		History:     cloned.history,
		Maintenance: cloned.maintenance,
		Categories:  cloned.categories,
		Users:       cloned.users,
		Seq:         cloned.seq,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		assets:      s.Assets,
		assignments: s.Assignments,
		history:     s.History,
		maintenance: s.Maintenance,
		categories:  s.Categories,
		users:       s.Users,
		seq:         s.Seq,
	}
	cloned := state.clone()
	cloned.seq = max(cloned.seq, cloned.maxSeq())
	return cloned
}

// maxSeq reports the highest sequence stored on any record.
func (s memoryState) maxSeq() int64 {
	var top int64
	for _, h := range s.history {
		top = max(top, h.Seq)
	}
	for _, m := range s.maintenance {
		top = max(top, m.Seq)
	}
	return top
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.assets {
		cloned.assets[k] = cloneAsset(v)
	}
	for k, v := range s.assignments {
		cloned.assignments[k] = cloneAssignment(v)
	}
	for k, v := range s.history {
		cloned.history[k] = cloneHistory(v)
	}
	for k, v := range s.maintenance {
		cloned.maintenance[k] = cloneMaintenance(v)
	}
	for k, v := range s.categories {
		cloned.categories[k] = v
	}
	for k, v := range s.users {
		cloned.users[k] = v
	}
	cloned.seq = s.seq
	return cloned
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func cloneAsset(a Asset) Asset {
	cp := a
	cp.CurrentAssignmentID = cloneString(a.CurrentAssignmentID)
	cp.Purchase.Date = cloneTime(a.Purchase.Date)
	cp.Purchase.WarrantyEnd = cloneTime(a.Purchase.WarrantyEnd)
	if a.Attachments != nil {
		cp.Attachments = append([]domain.Attachment(nil), a.Attachments...)
	}
	if a.Specifications != nil {
		cp.Specifications = maps.Clone(a.Specifications)
	}
	return cp
}

func cloneAssignment(a Assignment) Assignment {
	cp := a
	cp.EndDate = cloneTime(a.EndDate)
	return cp
}

// cloneHistory copies the top level of Details; nested values are shared
// because entries are never mutated after append.
func cloneHistory(h HistoryEntry) HistoryEntry {
	cp := h
	cp.RelatedID = cloneString(h.RelatedID)
	if h.Details != nil {
		cp.Details = maps.Clone(h.Details)
	}
	return cp
}

func cloneMaintenance(m MaintenanceRecord) MaintenanceRecord {
	cp := m
	cp.CompletedAt = cloneTime(m.CompletedAt)
	return cp
}

// documents renders a collection in document form, filtered to parentID for
// nested collections when set.
func (s *memoryState) documents(collection domain.EntityType, parentID string) ([]domain.Document, error) {
	var out []domain.Document
	add := func(parent, id string, v any) error {
		doc, err := domain.NewDocument(domain.DocumentRef{Collection: collection, ParentID: parent, ID: id}, v)
		if err != nil {
			return err
		}
		out = append(out, doc)
		return nil
	}
	var err error
	switch collection {
	case domain.EntityAsset:
		for _, id := range sortedKeys(s.assets) {
			if err = add("", id, s.assets[id]); err != nil {
				return nil, err
			}
		}
	case domain.EntityAssignment:
		for _, id := range sortedKeys(s.assignments) {
			if err = add("", id, s.assignments[id]); err != nil {
				return nil, err
			}
		}
	case domain.EntityHistory:
		for _, id := range sortedKeys(s.history) {
			h := s.history[id]
			if parentID != "" && h.AssetID != parentID {
				continue
			}
			if err = add(h.AssetID, id, h); err != nil {
				return nil, err
			}
		}
	case domain.EntityMaintenance:
		for _, id := range sortedKeys(s.maintenance) {
			m := s.maintenance[id]
			if parentID != "" && m.AssetID != parentID {
				continue
			}
			if err = add(m.AssetID, id, m); err != nil {
				return nil, err
			}
		}
	case domain.EntityCategory:
		for _, id := range sortedKeys(s.categories) {
			if err = add("", id, s.categories[id]); err != nil {
				return nil, err
			}
		}
	case domain.EntityUser:
		for _, id := range sortedKeys(s.users) {
			if err = add("", id, s.users[id]); err != nil {
				return nil, err
			}
		}
	default:
		return nil, domain.Invalidf("unknown collection %q", collection)
	}
	return out, nil
}

func (s *memoryState) document(ref domain.DocumentRef) (domain.Document, bool, error) {
	var (
		v  any
		ok bool
	)
	switch ref.Collection {
	case domain.EntityAsset:
		v, ok = s.assets[ref.ID]
	case domain.EntityAssignment:
		v, ok = s.assignments[ref.ID]
	case domain.EntityHistory:
		var h HistoryEntry
		h, ok = s.history[ref.ID]
		ok = ok && (ref.ParentID == "" || h.AssetID == ref.ParentID)
		v, ref.ParentID = h, h.AssetID
	case domain.EntityMaintenance:
		var m MaintenanceRecord
		m, ok = s.maintenance[ref.ID]
		ok = ok && (ref.ParentID == "" || m.AssetID == ref.ParentID)
		v, ref.ParentID = m, m.AssetID
	case domain.EntityCategory:
		v, ok = s.categories[ref.ID]
	case domain.EntityUser:
		v, ok = s.users[ref.ID]
	default:
		return domain.Document{}, false, domain.Invalidf("unknown collection %q", ref.Collection)
	}
	if !ok {
		return domain.Document{}, false, nil
	}
	doc, err := domain.NewDocument(ref, v)
	if err != nil {
		return domain.Document{}, false, err
	}
	return doc, true, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SnapshotFromDocuments rebuilds a snapshot from stored documents, as read
// back from a durable backend.
func SnapshotFromDocuments(docs []domain.Document) (Snapshot, error) {
	state := newMemoryState()
	for _, doc := range docs {
		var err error
		switch doc.Collection {
		case domain.EntityAsset:
			var a Asset
			if err = doc.Decode(&a); err == nil {
				a.ID = doc.ID
				state.assets[doc.ID] = a
			}
		case domain.EntityAssignment:
			var a Assignment
			if err = doc.Decode(&a); err == nil {
				a.ID = doc.ID
				state.assignments[doc.ID] = a
			}
		case domain.EntityHistory:
			var h HistoryEntry
			if err = doc.Decode(&h); err == nil {
				h.ID, h.AssetID = doc.ID, doc.ParentID
				state.history[doc.ID] = h
			}
		case domain.EntityMaintenance:
			var m MaintenanceRecord
			if err = doc.Decode(&m); err == nil {
				m.ID, m.AssetID = doc.ID, doc.ParentID
				state.maintenance[doc.ID] = m
			}
		case domain.EntityCategory:
			var c Category
			if err = doc.Decode(&c); err == nil {
				c.ID = doc.ID
				state.categories[doc.ID] = c
			}
		case domain.EntityUser:
			var u User
			if err = doc.Decode(&u); err == nil {
				u.ID = doc.ID
				state.users[doc.ID] = u
			}
		default:
			err = fmt.Errorf("unknown collection %q", doc.Collection)
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("memory: load %s: %w", doc.Path(), err)
		}
	}
	return snapshotFromMemoryState(state), nil
}
