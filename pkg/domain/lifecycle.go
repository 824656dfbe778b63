package domain

// LifecycleAction names a state-changing operation on an asset.
type LifecycleAction string

// Lifecycle actions accepted by Decide.
const (
	LifecycleAssign         LifecycleAction = "assign"
	LifecycleReassign       LifecycleAction = "reassign"
	LifecycleReturn         LifecycleAction = "return"
	LifecycleDispose        LifecycleAction = "dispose"
	LifecycleAddMaintenance LifecycleAction = "addMaintenance"
	LifecycleChangeStatus   LifecycleAction = "changeStatus"
)

// WriteKind enumerates the record mutations a lifecycle action performs.
type WriteKind string

// Write kinds, in the order the coordinator applies them.
const (
	WriteCompleteAssignment WriteKind = "complete_assignment"
	WriteCreateAssignment   WriteKind = "create_assignment"
	WriteCreateMaintenance  WriteKind = "create_maintenance"
	WriteUpdateAsset        WriteKind = "update_asset"
	WriteAppendHistory      WriteKind = "append_history"
)

// Write is one step of a decision. History is set for WriteAppendHistory.
type Write struct {
	Kind    WriteKind
	History HistoryType
}

// Request describes the action being attempted.
type Request struct {
	Action LifecycleAction
	// Target is the requested status for changeStatus.
	Target AssetStatus
	// UnderRepair moves the asset to 수리중 when adding maintenance.
	UnderRepair bool
	// HasActiveAssignment reports whether the asset currently holds an
	// active assignment. Dispose and repair complete it when set.
	HasActiveAssignment bool
}

// Decision is the outcome of Decide.
type Decision struct {
	Action          LifecycleAction
	From            AssetStatus
	Allowed         bool
	ResultingStatus AssetStatus
	Writes          []Write
}

// Decide evaluates req against the asset's current status. Illegal pairs
// return a denied decision together with a *LifecycleViolation. Decide has no
// side effects.
func Decide(current AssetStatus, req Request) (Decision, error) {
	d := Decision{Action: req.Action, From: current}
	if !current.Valid() {
		return d, Invalidf("unknown asset status %q", current)
	}
	deny := func(reason string) (Decision, error) {
		return d, &LifecycleViolation{Action: req.Action, Status: current, Reason: reason}
	}

	switch req.Action {
	case LifecycleAssign:
		switch current {
		case StatusAvailable, StatusUnderRepair:
		case StatusInUse:
			return deny("asset already has an active assignment")
		default:
			return deny("")
		}
		d.ResultingStatus = StatusInUse
		d.Writes = []Write{
			{Kind: WriteCreateAssignment},
			{Kind: WriteUpdateAsset},
			{Kind: WriteAppendHistory, History: HistoryAssign},
		}

	case LifecycleReassign:
		if current != StatusInUse {
			return deny("reassignment requires an asset in use")
		}
		d.ResultingStatus = StatusInUse
		d.Writes = []Write{
			{Kind: WriteCompleteAssignment},
			{Kind: WriteAppendHistory, History: HistoryReturn},
			{Kind: WriteCreateAssignment},
			{Kind: WriteUpdateAsset},
			{Kind: WriteAppendHistory, History: HistoryAssign},
		}

	case LifecycleReturn:
		if current != StatusInUse {
			return deny("only assets in use can be returned")
		}
		d.ResultingStatus = StatusAvailable
		d.Writes = []Write{
			{Kind: WriteCompleteAssignment},
			{Kind: WriteUpdateAsset},
			{Kind: WriteAppendHistory, History: HistoryReturn},
		}

	case LifecycleDispose:
		if current == StatusDisposed {
			return deny("asset is already disposed")
		}
		d.ResultingStatus = StatusDisposed
		if req.HasActiveAssignment {
			d.Writes = append(d.Writes, Write{Kind: WriteCompleteAssignment})
		}
		d.Writes = append(d.Writes,
			Write{Kind: WriteUpdateAsset},
			Write{Kind: WriteAppendHistory, History: HistoryDispose},
		)

	case LifecycleAddMaintenance:
		if current == StatusDisposed {
			return deny("disposed assets cannot be serviced")
		}
		d.ResultingStatus = current
		if req.UnderRepair && current == StatusInUse && req.HasActiveAssignment {
			// repair takes the asset back from its holder first
			d.Writes = []Write{
				{Kind: WriteCompleteAssignment},
				{Kind: WriteAppendHistory, History: HistoryReturn},
			}
		}
		d.Writes = append(d.Writes, Write{Kind: WriteCreateMaintenance})
		if req.UnderRepair {
			d.ResultingStatus = StatusUnderRepair
			if current != StatusUnderRepair {
				// also clears the current assignment
				d.Writes = append(d.Writes, Write{Kind: WriteUpdateAsset})
			}
		}
		d.Writes = append(d.Writes, Write{Kind: WriteAppendHistory, History: HistoryMaintenance})

	case LifecycleChangeStatus:
		if !req.Target.Valid() {
			return d, Invalidf("unknown target status %q", req.Target)
		}
		switch {
		case current == StatusDisposed:
			return deny("disposed is terminal")
		case current == StatusInUse:
			return deny("return the asset before changing its status")
		case req.Target == StatusInUse:
			return deny("use assign to put an asset in use")
		case req.Target == StatusDisposed:
			return deny("use dispose to dispose an asset")
		case req.Target == current:
			return deny("asset already has this status")
		}
		d.ResultingStatus = req.Target
		d.Writes = []Write{
			{Kind: WriteUpdateAsset},
			{Kind: WriteAppendHistory, History: HistoryStatusChange},
		}

	default:
		return d, Invalidf("unknown lifecycle action %q", req.Action)
	}

	d.Allowed = true
	return d, nil
}

// HistoryTypes returns the history kinds a decision appends, in order.
func (d Decision) HistoryTypes() []HistoryType {
	var out []HistoryType
	for _, w := range d.Writes {
		if w.Kind == WriteAppendHistory {
			out = append(out, w.History)
		}
	}
	return out
}
