package core

import "assetcore/pkg/domain"

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in invariant set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(AssetAssignmentConsistencyRule())
	engine.Register(LifecycleTransitionRule())
	engine.Register(HistoryAppendOnlyRule())
	return engine
}
