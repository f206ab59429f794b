package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/snehjoshi/aochat/internal/types"
)

// Field aliases seen across node versions, most specific first.
var (
	contentKeys   = []string{"content", "Content", "data", "Data", "text"}
	usernameKeys  = []string{"username", "Username", "author", "Author", "sender"}
	walletKeys    = []string{"walletAddress", "wallet_address", "wallet", "From", "from"}
	timestampKeys = []string{"timestamp", "Timestamp", "time"}
	slotKeys      = []string{"slot", "Slot"}
	referenceKeys = []string{"reference", "Reference", "ref"}
)

// parseNumber decodes a slot or count body. Accepted shapes: a bare number,
// a quoted number, or an object whose "body" field holds either.
func parseNumber(body []byte) (int64, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return 0, errors.New("empty body")
	}
	if n, err := strconv.ParseInt(string(body), 10, 64); err == nil {
		return n, nil
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("decode number: %w", err)
	}
	if n, ok := toInt(v); ok {
		return n, nil
	}
	if obj, ok := v.(map[string]any); ok {
		for _, k := range []string{"body", "Body"} {
			if n, ok := toInt(obj[k]); ok {
				return n, nil
			}
		}
	}
	return 0, fmt.Errorf("no number in body %.64q", string(body))
}

// parseMessageMap decodes a mapping of message index → payload. Keys that are
// not integers (e.g. "device") and payloads that are not messages are skipped.
// The result is sorted by timestamp ascending, ties broken by index.
func parseMessageMap(body []byte, now time.Time) ([]RawMessage, error) {
	m, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	if !hasNumericKey(m) {
		// Some node versions wrap the mapping in a "body" envelope.
		if inner, ok := m["body"].(map[string]any); ok {
			m = inner
		}
	}

	out := make([]RawMessage, 0, len(m))
	for k, v := range m {
		idx, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		payload, ok := asObject(v)
		if !ok {
			continue
		}
		r, ok := rowFromPayload(payload, now)
		if !ok {
			continue
		}
		r.ID = idx
		r.HasID = true
		out = append(out, r)
	}
	sortRows(out)
	return out, nil
}

// parseSlotResults decodes compute results for one slot. The chat rows are
// the entries of the "Messages" array; each entry either carries the fields
// directly or holds them JSON-encoded in its "Data" field, with "Tags" as a
// fallback source of fields.
func parseSlotResults(body []byte, slot int64, now time.Time) ([]RawMessage, error) {
	m, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	var list []any
	for _, scope := range []map[string]any{m, objectAt(m, "results"), objectAt(m, "body")} {
		if scope == nil {
			continue
		}
		for _, k := range []string{"Messages", "messages"} {
			if l, ok := scope[k].([]any); ok {
				list = l
				break
			}
		}
		if list != nil {
			break
		}
	}

	out := make([]RawMessage, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		payload := entry
		if data, ok := asObject(entry["Data"]); ok {
			payload = data
		}
		mergeTags(payload, entry["Tags"])

		r, ok := rowFromPayload(payload, now)
		if !ok {
			continue
		}
		r.Slot = slot
		r.HasSlot = true
		if r.Reference == "" {
			r.Reference = firstString(entry, referenceKeys)
		}
		if r.Reference == "" {
			r.Reference = strconv.Itoa(i)
		}
		out = append(out, r)
	}
	sortRows(out)
	return out, nil
}

// rowFromPayload normalises one message payload. ok is false when the
// payload carries no content.
func rowFromPayload(p map[string]any, now time.Time) (RawMessage, bool) {
	content, _ := lookupString(p, contentKeys)
	if content == "" {
		return RawMessage{}, false
	}
	r := RawMessage{
		Content:       content,
		Username:      firstString(p, usernameKeys),
		WalletAddress: firstString(p, walletKeys),
		Reference:     firstString(p, referenceKeys),
	}
	if r.Username == "" {
		r.Username = types.DefaultUsername
	}
	if ts, ok := firstInt(p, timestampKeys); ok && ts > 0 {
		r.Timestamp = ts
	} else {
		r.Timestamp = now.UnixMilli()
	}
	if s, ok := firstInt(p, slotKeys); ok {
		r.Slot = s
		r.HasSlot = true
	}
	return r, true
}

func sortRows(rows []RawMessage) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Timestamp != rows[j].Timestamp {
			return rows[i].Timestamp < rows[j].Timestamp
		}
		return rows[i].ID < rows[j].ID
	})
}

// ─── generic JSON helpers ─────────────────────────────────────────────────────

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return m, nil
}

// asObject accepts an object or a string holding a JSON object.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "{") {
			return nil, false
		}
		m, err := decodeObject([]byte(s))
		if err != nil {
			return nil, false
		}
		return m, true
	}
	return nil, false
}

func objectAt(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}

func hasNumericKey(m map[string]any) bool {
	for k := range m {
		if _, err := strconv.ParseInt(k, 10, 64); err == nil {
			return true
		}
	}
	return false
}

// mergeTags copies name/value tags into p for keys p does not already have.
func mergeTags(p map[string]any, tags any) {
	list, ok := tags.([]any)
	if !ok {
		return
	}
	for _, t := range list {
		tag, ok := t.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tag["name"].(string)
		if name == "" {
			continue
		}
		if _, exists := p[name]; !exists {
			p[name] = tag["value"]
		}
	}
}

func lookupString(p map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			return v, true
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}

func firstString(p map[string]any, keys []string) string {
	s, _ := lookupString(p, keys)
	return s
}

func firstInt(p map[string]any, keys []string) (int64, bool) {
	for _, k := range keys {
		if n, ok := toInt(p[k]); ok {
			return n, true
		}
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
