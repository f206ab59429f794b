package engine

import "github.com/snehjoshi/aochat/internal/types"

// StatusKind classifies a ReportStatus notice.
type StatusKind string

const (
	StatusInfo    StatusKind = "info"
	StatusSuccess StatusKind = "success"
	StatusWarning StatusKind = "warning"
	StatusError   StatusKind = "error"
)

// Adapter renders the displayed list. Events for one engine mutation are
// delivered synchronously and in order to every subscribed adapter. Messages
// are copies; adapters never see the engine's own state.
//
// Adapter methods are called while the engine serialises delivery, so they
// must not call back into the engine on the same goroutine.
type Adapter interface {
	// RenderAppend adds newly displayed messages at the end of the view.
	RenderAppend(msgs []*types.Message)
	// Rekey moves the element keyed by oldID to newID and refreshes it with
	// msg. oldID == newID signals an in-place status change.
	Rekey(oldID, newID string, msg *types.Message)
	// RenderFull replaces the whole view.
	RenderFull(msgs []*types.Message)
	// ReportStatus shows a user-visible notice.
	ReportStatus(text string, kind StatusKind)
}

// NopAdapter discards every event.
type NopAdapter struct{}

func (NopAdapter) RenderAppend([]*types.Message)        {}
func (NopAdapter) Rekey(string, string, *types.Message) {}
func (NopAdapter) RenderFull([]*types.Message)          {}
func (NopAdapter) ReportStatus(string, StatusKind)      {}

// event is one adapter notification captured while the engine lock is held.
type event func(Adapter)

func appendEvent(msgs []*types.Message) event {
	return func(a Adapter) { a.RenderAppend(msgs) }
}

func rekeyEvent(oldID, newID string, msg *types.Message) event {
	return func(a Adapter) { a.Rekey(oldID, newID, msg) }
}

func fullEvent(msgs []*types.Message) event {
	return func(a Adapter) { a.RenderFull(msgs) }
}

func statusEvent(text string, kind StatusKind) event {
	return func(a Adapter) { a.ReportStatus(text, kind) }
}
