// Package domain defines the persistent asset-management records, lifecycle
// vocabulary, record-store contracts, and rule evaluation primitives used by
// assetcore.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the collection a record is stored in.
type EntityType string

// Supported collections. History and maintenance records are nested under
// their parent asset.
const (
	// EntityAsset identifies the asset collection (aggregate root).
	EntityAsset EntityType = "assets"
	// EntityAssignment identifies custody periods of an asset.
	EntityAssignment EntityType = "assignments"
	// EntityHistory identifies append-only audit entries nested under an asset.
	EntityHistory EntityType = "history"
	// EntityMaintenance identifies service records nested under an asset.
	EntityMaintenance EntityType = "maintenance"
	// EntityCategory identifies asset categories.
	EntityCategory EntityType = "categories"
	// EntityUser identifies application users mapped from auth UIDs.
	EntityUser EntityType = "users"
)

// Nested reports whether records of the collection live under a parent asset.
func (e EntityType) Nested() bool {
	return e == EntityHistory || e == EntityMaintenance
}

// Valid reports whether e names a known collection.
func (e EntityType) Valid() bool {
	switch e {
	case EntityAsset, EntityAssignment, EntityHistory, EntityMaintenance, EntityCategory, EntityUser:
		return true
	default:
		return false
	}
}

// Base contains common fields for all records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PurchaseInfo captures how and when an asset was acquired.
type PurchaseInfo struct {
	Date        *time.Time      `json:"date,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Vendor      string          `json:"vendor,omitempty"`
	WarrantyEnd *time.Time      `json:"warranty_end,omitempty"`
}

// Attachment references a stored file belonging to an asset.
type Attachment struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Asset is a tracked physical item and the aggregate root of every other
// record kind.
type Asset struct {
	Base
	Name                string            `json:"name"`
	Category            string            `json:"category"`
	SerialNumber        string            `json:"serial_number"`
	Model               string            `json:"model,omitempty"`
	Manufacturer        string            `json:"manufacturer,omitempty"`
	Location            string            `json:"location,omitempty"`
	Status              AssetStatus       `json:"status"`
	CurrentAssignmentID *string           `json:"current_assignment_id"`
	Purchase            PurchaseInfo      `json:"purchase"`
	CurrentValue        decimal.Decimal   `json:"current_value"`
	ImageURL            string            `json:"image_url,omitempty"`
	Attachments         []Attachment      `json:"attachments"`
	Notes               string            `json:"notes,omitempty"`
	Specifications      map[string]string `json:"specifications"`
}

// FileURLs returns every stored file referenced by the asset.
func (a Asset) FileURLs() []string {
	urls := make([]string, 0, len(a.Attachments)+1)
	if a.ImageURL != "" {
		urls = append(urls, a.ImageURL)
	}
	for _, att := range a.Attachments {
		if att.URL != "" {
			urls = append(urls, att.URL)
		}
	}
	return urls
}

// Assignment is a period during which an asset is held by a person.
type Assignment struct {
	Base
	AssetID    string           `json:"asset_id"`
	AssetName  string           `json:"asset_name"`
	AssignedTo string           `json:"assigned_to"`
	Department string           `json:"department,omitempty"`
	Location   string           `json:"location,omitempty"`
	StartDate  time.Time        `json:"start_date"`
	EndDate    *time.Time       `json:"end_date"`
	Status     AssignmentStatus `json:"status"`
	Notes      string           `json:"notes,omitempty"`
}

// HistoryEntry is an immutable audit record of a state-changing action.
type HistoryEntry struct {
	Base
	AssetID     string         `json:"asset_id"`
	AssetName   string         `json:"asset_name"`
	Type        HistoryType    `json:"type"`
	Date        time.Time      `json:"date"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details"`
	RelatedID   *string        `json:"related_id,omitempty"`
	RelatedType EntityType     `json:"related_type,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	// Seq is assigned by the store and increases with every write.
	Seq int64 `json:"seq"`
}

// MaintenanceRecord captures a service event for an asset.
type MaintenanceRecord struct {
	Base
	AssetID     string            `json:"asset_id"`
	AssetName   string            `json:"asset_name"`
	Kind        string            `json:"kind"`
	Status      MaintenanceStatus `json:"status"`
	Technician  string            `json:"technician,omitempty"`
	Cost        decimal.Decimal   `json:"cost"`
	Date        time.Time         `json:"date"`
	Description string            `json:"description"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Seq         int64             `json:"seq"`
}

// Category groups assets for listing and reporting.
type Category struct {
	Base
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// User maps an authentication provider UID to an application user.
type User struct {
	Base
	AuthUID     string `json:"auth_uid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Department  string `json:"department,omitempty"`
	Role        string `json:"role,omitempty"`
}
