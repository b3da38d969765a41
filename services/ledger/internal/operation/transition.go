package operation

// CanTransition reports whether an operation may move from one status to another.
// Moving to the current status is always allowed and is a no-op for callers.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusExecuted || to == StatusFailed || to == StatusCancelled
	case StatusExecuted:
		// A settled operation is only undone by cancellation; failed is a pending outcome.
		return to == StatusCancelled
	case StatusCancelled, StatusFailed:
		// Re-entry from a terminal status re-applies the effects; the coordinator owns that path.
		return true
	}
	return false
}

// EffectChange classifies what a status change does to balances.
type EffectChange int

const (
	EffectNone EffectChange = iota
	EffectRevert
	EffectReapply
)

func ChangeFor(from, to Status) EffectChange {
	switch {
	case from.Applied() && to.Reverted():
		return EffectRevert
	case from.Reverted() && to.Applied():
		return EffectReapply
	}
	return EffectNone
}
