package domain

import "context"

// TransactionView provides read-only access to store state. Inside a
// transaction it reflects the writes made so far.
type TransactionView interface {
	FindAsset(id string) (Asset, bool)
	ListAssets() []Asset
	FindAssignment(id string) (Assignment, bool)
	ListAssignments() []Assignment
	// ActiveAssignmentsFor returns every active assignment referencing the
	// asset. More than one is an invariant breach.
	ActiveAssignmentsFor(assetID string) []Assignment
	FindHistoryEntry(assetID, id string) (HistoryEntry, bool)
	ListHistory(assetID string) []HistoryEntry
	FindMaintenance(assetID, id string) (MaintenanceRecord, bool)
	ListMaintenance(assetID string) []MaintenanceRecord
	FindCategory(id string) (Category, bool)
	ListCategories() []Category
	FindUser(id string) (User, bool)
	FindUserByAuthUID(uid string) (User, bool)
	ListUsers() []User
	// Documents returns the collection in document form. Nested
	// collections are returned across every parent.
	Documents(collection EntityType) []Document
}

// Transaction exposes the typed writes a persistence implementation must
// support within an atomic scope. Create stamps ID (when empty) and
// timestamps; Update stamps UpdatedAt and keeps the ID.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView

	CreateAsset(Asset) (Asset, error)
	UpdateAsset(id string, mutator func(*Asset) error) (Asset, error)
	DeleteAsset(id string) error

	CreateAssignment(Assignment) (Assignment, error)
	UpdateAssignment(id string, mutator func(*Assignment) error) (Assignment, error)
	DeleteAssignment(id string) error

	AppendHistory(HistoryEntry) (HistoryEntry, error)
	DeleteHistoryEntry(assetID, id string) error

	CreateMaintenance(MaintenanceRecord) (MaintenanceRecord, error)
	UpdateMaintenance(assetID, id string, mutator func(*MaintenanceRecord) error) (MaintenanceRecord, error)
	DeleteMaintenance(assetID, id string) error

	CreateCategory(Category) (Category, error)
	UpdateCategory(id string, mutator func(*Category) error) (Category, error)
	DeleteCategory(id string) error

	CreateUser(User) (User, error)
	UpdateUser(id string, mutator func(*User) error) (User, error)
	DeleteUser(id string) error
}

// CancelFunc stops a subscription. It is safe to call more than once.
type CancelFunc func()

// SubscribeFunc receives the full result set of a subscribed query, or an
// error such as *NotFoundError for a single-document query.
type SubscribeFunc func(docs []Document, err error)

// PersistentStore is the record store used by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Get(ctx context.Context, ref DocumentRef) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query, fn SubscribeFunc) (CancelFunc, error)
}
