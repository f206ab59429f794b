package types

// Message lifecycle transition rules.
//
//	        send()            observed in history / timeout
//	[none] ──────► PENDING ─────────────────────────────► CONFIRMED
//	                  │
//	                  └──── push failed ────► FAILED
//
//	[none] ──── observed in history (other sender) ────► RECEIVED

// ValidTransition reports whether from → to is a legal status change.
// Transitions are monotonic: nothing moves back to PENDING and a FAILED
// message is never confirmed by a silent retry.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusFailed
	case StatusConfirmed, StatusFailed, StatusReceived:
		return false
	}
	return false
}
