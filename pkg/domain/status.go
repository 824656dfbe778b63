package domain

// AssetStatus enumerates the asset lifecycle states.
type AssetStatus string

// Canonical asset statuses. The values are persisted verbatim.
const (
	StatusAvailable       AssetStatus = "사용가능"
	StatusInUse           AssetStatus = "사용중"
	StatusUnderRepair     AssetStatus = "수리중"
	StatusPendingDisposal AssetStatus = "폐기예정"
	StatusDisposed        AssetStatus = "폐기됨"
	StatusLost            AssetStatus = "분실"
)

// AssetStatuses lists every valid asset status.
var AssetStatuses = []AssetStatus{
	StatusAvailable,
	StatusInUse,
	StatusUnderRepair,
	StatusPendingDisposal,
	StatusDisposed,
	StatusLost,
}

// Valid reports whether s is a known asset status.
func (s AssetStatus) Valid() bool {
	for _, candidate := range AssetStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// AssignmentStatus enumerates custody period states.
type AssignmentStatus string

// Assignment states. Completed and cancelled are terminal.
const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

// HistoryType enumerates audit entry kinds.
type HistoryType string

// History entry kinds, one per state-changing action.
const (
	HistoryPurchase     HistoryType = "구매"
	HistoryAssign       HistoryType = "할당"
	HistoryReturn       HistoryType = "반납"
	HistoryMaintenance  HistoryType = "유지보수"
	HistoryStatusChange HistoryType = "상태변경"
	HistoryDispose      HistoryType = "폐기"
)

// MaintenanceStatus enumerates service record states.
type MaintenanceStatus string

// Maintenance states. Completed and cancelled are terminal.
const (
	MaintenanceScheduled  MaintenanceStatus = "scheduled"
	MaintenanceInProgress MaintenanceStatus = "in_progress"
	MaintenanceCompleted  MaintenanceStatus = "completed"
	MaintenanceCancelled  MaintenanceStatus = "cancelled"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)
