package types_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/snehjoshi/aochat/internal/types"
)

var (
	walletA = strings.Repeat("a", 43)
	walletB = strings.Repeat("b", 43)
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status types.Status
		want   string
	}{
		{types.StatusPending, "pending"},
		{types.StatusConfirmed, "confirmed"},
		{types.StatusFailed, "failed"},
		{types.StatusReceived, "received"},
		{types.Status(99), "unknown"},
	}

	for _, tc := range tests {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("Status(%d).String() = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestStatus_JSONRoundTripsAsName(t *testing.T) {
	m := types.Message{ID: "msg-1", Status: types.StatusReceived}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"status":"received"`) {
		t.Fatalf("status not rendered by name: %s", data)
	}
	var back types.Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Status != types.StatusReceived {
		t.Errorf("status = %v, want received", back.Status)
	}
}

func TestDisplayID(t *testing.T) {
	tests := []struct {
		name string
		raw  types.RawMessage
		want string
	}{
		{
			name: "slot and reference",
			raw:  types.RawMessage{Slot: 5, HasSlot: true, Reference: "2", ID: 9, HasID: true},
			want: "history-5-2",
		},
		{
			name: "numeric id",
			raw:  types.RawMessage{ID: 7, HasID: true, Timestamp: 1000},
			want: "msg-7",
		},
		{
			name: "id zero is still a coordinate",
			raw:  types.RawMessage{ID: 0, HasID: true, Timestamp: 1000},
			want: "msg-0",
		},
		{
			name: "slot without reference falls back",
			raw:  types.RawMessage{Slot: 5, HasSlot: true, Timestamp: 1234},
			want: "msg-1234",
		},
		{
			name: "timestamp fallback",
			raw:  types.RawMessage{Timestamp: 1700000000000},
			want: "msg-1700000000000",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := types.DisplayID(&tc.raw); got != tc.want {
				t.Errorf("DisplayID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"  bob  ", "bob"},
		{"\x1b[2J<b>bob</b>", "[2Jbbob/b"},
		{"a\x00l\ti\nce", "alice"},
		{`"quoted" & 'amp'`, "quoted  amp"},
		{"<>&", types.DefaultUsername},
		{"", types.DefaultUsername},
		{strings.Repeat("x", 40), strings.Repeat("x", 32)},
	}

	for _, tc := range tests {
		if got := types.SanitizeUsername(tc.in); got != tc.want {
			t.Errorf("SanitizeUsername(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestToMessage_SanitizesUsername(t *testing.T) {
	r := types.RawMessage{Content: "hi", Username: "\x1b]0;pwn\x07<i>eve</i>", ID: 4, HasID: true}
	m := r.ToMessage(types.StatusReceived, types.SourceChatHistory)
	if m.Username != "]0;pwnieve/i" {
		t.Errorf("username = %q", m.Username)
	}
	if m.ID != "msg-4" || m.Content != "hi" {
		t.Errorf("message = %+v", m)
	}
}

func TestIsOwn_PriorityOrder(t *testing.T) {
	self := types.Identity{Username: "alice", WalletAddress: walletA}

	tests := []struct {
		name string
		msg  types.Message
		want bool
	}{
		{
			name: "wallet match wins over differing username",
			msg:  types.Message{Username: "mallory", WalletAddress: walletA, Source: types.SourceChatHistory},
			want: true,
		},
		{
			name: "wallet mismatch wins over equal username",
			msg:  types.Message{Username: "alice", WalletAddress: walletB, Source: types.SourceChatHistory},
			want: false,
		},
		{
			name: "sentinel wallet falls through to username",
			msg:  types.Message{Username: "alice", WalletAddress: types.UnknownWallet, Source: types.SourceChatHistory},
			want: true,
		},
		{
			name: "short wallet falls through to username",
			msg:  types.Message{Username: "bob", WalletAddress: "abc", Source: types.SourceChatHistory},
			want: false,
		},
		{
			name: "own push path",
			msg:  types.Message{Username: "someone-else", Source: types.SourceDirectPush},
			want: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := types.IsOwn(&tc.msg, self); got != tc.want {
				t.Errorf("IsOwn = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsOwn_NoWalletOnSelf(t *testing.T) {
	self := types.Identity{Username: "alice"}
	m := &types.Message{Username: "alice", WalletAddress: walletB}
	if !types.IsOwn(m, self) {
		t.Error("expected username fallback when self wallet is unknown")
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to types.Status
		want     bool
	}{
		{types.StatusPending, types.StatusConfirmed, true},
		{types.StatusPending, types.StatusFailed, true},
		{types.StatusPending, types.StatusReceived, false},
		{types.StatusFailed, types.StatusConfirmed, false},
		{types.StatusConfirmed, types.StatusPending, false},
		{types.StatusReceived, types.StatusConfirmed, false},
	}
	for _, tc := range tests {
		if got := types.ValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("ValidTransition(%v, %v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestMessage_HasRemoteID(t *testing.T) {
	m := &types.Message{ID: "3", LocalID: 3}
	if m.HasRemoteID() {
		t.Error("local id should not count as remote")
	}
	m.ID = "history-5-2"
	if !m.HasRemoteID() {
		t.Error("history id should count as remote")
	}
}
