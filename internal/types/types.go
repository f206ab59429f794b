// Package types contains the chat domain types shared by the history store,
// the reconciliation engine and the transports. It has no imports of other
// aochat packages so every layer can depend on it without import cycles.
package types

import (
	"fmt"
	"strconv"
)

// Status is the lifecycle state of a displayed message.
type Status uint8

const (
	// StatusPending means the message was created locally and has not yet been
	// observed in the remote log.
	StatusPending Status = iota
	// StatusConfirmed means the message is this session's own and was either
	// found in the remote log or auto-confirmed after the pending timeout.
	StatusConfirmed
	// StatusFailed means the push request was rejected or never reached the node.
	StatusFailed
	// StatusReceived means the message originated from another sender and was
	// found in the remote log.
	StatusReceived
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusReceived:
		return "received"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its string name in JSON frames.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = StatusPending
	case "confirmed":
		*s = StatusConfirmed
	case "failed":
		*s = StatusFailed
	case "received":
		*s = StatusReceived
	default:
		return fmt.Errorf("types: unknown status %q", string(b))
	}
	return nil
}

// Source is a provenance tag. It is diagnostic only and never used for
// identity, except that SourceDirectPush marks this session's own push path.
type Source string

const (
	SourceChatHistory        Source = "chat-history"
	SourceDirectPush         Source = "direct-push"
	SourceAutoConfirmed      Source = "auto-confirmed"
	SourceImmediateConfirmed Source = "immediate-confirmed"
	SourceSlotResults        Source = "slot-results"
)

// Message is the unit of chat content held in the displayed list.
//
// ID is the local counter (as a decimal string) while the message is pending
// and is replaced exactly once by a remote-derived id when it is confirmed
// against the remote log.
type Message struct {
	ID      string `json:"id"`
	LocalID int64  `json:"local_id,omitempty"`

	Content       string `json:"content"`
	Username      string `json:"username"`
	WalletAddress string `json:"wallet_address,omitempty"`

	// Timestamp is UTC milliseconds: client-assigned for pending messages,
	// remote-assigned (or receipt time) once confirmed.
	Timestamp int64 `json:"timestamp"`

	Status    Status `json:"status"`
	IsPending bool   `json:"is_pending"`
	Own       bool   `json:"own"`

	// Remote coordinates. RemoteID is the numeric message index of the
	// paginated endpoint; Slot/Reference come from slot-indexed retrieval.
	RemoteID  int64  `json:"remote_id,omitempty"`
	Slot      int64  `json:"slot,omitempty"`
	Reference string `json:"reference,omitempty"`

	Source Source `json:"source"`
	Error  string `json:"error,omitempty"`
}

// Clone returns a shallow copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// HasRemoteID reports whether the message id was derived from remote
// coordinates rather than the local counter.
func (m *Message) HasRemoteID() bool {
	return m.ID != "" && m.ID != strconv.FormatInt(m.LocalID, 10)
}

// RawMessage is the canonical shape every remote endpoint is normalised to.
type RawMessage struct {
	Content       string `json:"content"`
	Username      string `json:"username"`
	Timestamp     int64  `json:"timestamp"`
	WalletAddress string `json:"wallet_address,omitempty"`

	ID    int64 `json:"id,omitempty"`
	HasID bool  `json:"-"`

	Slot      int64  `json:"slot,omitempty"`
	HasSlot   bool   `json:"-"`
	Reference string `json:"reference,omitempty"`
}

// DisplayID derives the remote display id for a raw row:
// "history-{slot}-{reference}" for slot-indexed rows, "msg-{id}" for
// paginated rows and "msg-{timestamp}" when neither coordinate is known.
func DisplayID(r *RawMessage) string {
	switch {
	case r.HasSlot && r.Reference != "":
		return fmt.Sprintf("history-%d-%s", r.Slot, r.Reference)
	case r.HasID:
		return fmt.Sprintf("msg-%d", r.ID)
	default:
		return fmt.Sprintf("msg-%d", r.Timestamp)
	}
}

// ToMessage converts a raw row into a displayable message with the given
// status and source. The username is sanitized; Own must be resolved by the
// caller.
func (r *RawMessage) ToMessage(status Status, source Source) *Message {
	m := &Message{
		ID:            DisplayID(r),
		Content:       r.Content,
		Username:      SanitizeUsername(r.Username),
		WalletAddress: r.WalletAddress,
		Timestamp:     r.Timestamp,
		Status:        status,
		Source:        source,
	}
	if r.HasID {
		m.RemoteID = r.ID
	}
	if r.HasSlot {
		m.Slot = r.Slot
		m.Reference = r.Reference
	}
	return m
}
