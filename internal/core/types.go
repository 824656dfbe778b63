package core

import "assetcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Asset              = domain.Asset
	AssetStatus        = domain.AssetStatus
	Assignment         = domain.Assignment
	HistoryEntry       = domain.HistoryEntry
	MaintenanceRecord  = domain.MaintenanceRecord
	Attachment         = domain.Attachment
	Category           = domain.Category
	User               = domain.User
	Session            = domain.Session
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
)

const (
	EntityAsset       = domain.EntityAsset
	EntityAssignment  = domain.EntityAssignment
	EntityHistory     = domain.EntityHistory
	EntityMaintenance = domain.EntityMaintenance
	EntityCategory    = domain.EntityCategory
	EntityUser        = domain.EntityUser
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
