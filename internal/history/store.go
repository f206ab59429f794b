// Package history caches message pages fetched from the remote process and
// manages the cursors used for incremental polling.
//
// Two cursors are tracked independently. The poll cursor (HighestMessageID)
// only moves when GetNewSince hands rows to the caller, so a row is never
// skipped by the polling path just because GetLatest happened to fetch it
// first. The cache cursor moves whenever any query merges rows into the
// cache.
//
// When the node does not serve the paginated messages endpoint (404), the
// store falls back to scanning compute results slot by slot.
package history

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/snehjoshi/aochat/internal/types"
	"github.com/snehjoshi/aochat/pkg/client"
)

// Remote is the subset of the remote process client the store needs.
// *client.Client satisfies it.
type Remote interface {
	GetCurrentSlot(ctx context.Context) (int64, error)
	GetMessageCount(ctx context.Context) (int64, error)
	FetchMessagesFrom(ctx context.Context, startID int64) ([]types.RawMessage, error)
	FetchAllMessages(ctx context.Context) ([]types.RawMessage, error)
	FetchSlotResults(ctx context.Context, slot int64) ([]types.RawMessage, error)
}

// Options tunes a Store. Zero fields take the defaults below.
type Options struct {
	CacheSize     int           // max rows kept in the cache (default 500)
	CacheTTL      time.Duration // GetLatest serves from cache within this age (default 5s)
	SlotScanLimit int           // max slots computed per legacy scan (default 25)
	Logger        *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	remote Remote
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	cache        []types.RawMessage // oldest → newest
	cacheIDs     map[string]struct{}
	fetchedAt    time.Time
	highestID    int64 // poll cursor
	cacheHighest int64 // highest numeric id merged into the cache

	legacy      bool  // paginated endpoint unavailable
	scannedSlot int64 // highest slot the poll path has scanned
}

// New creates a Store reading from remote.
func New(remote Remote, opts Options) *Store {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 500
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Second
	}
	if opts.SlotScanLimit <= 0 {
		opts.SlotScanLimit = 25
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Store{
		remote: remote,
		opts:   opts,
		log:    opts.Logger.With("component", "history"),
		now:    time.Now,
	}
	s.reset()
	return s
}

// reset MUST be called with s.mu held (or before the store is shared).
func (s *Store) reset() {
	s.cache = nil
	s.cacheIDs = make(map[string]struct{})
	s.fetchedAt = time.Time{}
	s.highestID = -1
	s.cacheHighest = -1
	s.legacy = false
	s.scannedSlot = -1
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// GetAllHistory performs a bulk fetch and returns at most the most recent
// maxItems messages, oldest first. Both cursors are moved to the newest row.
// On failure it returns an empty list and the error.
func (s *Store) GetAllHistory(ctx context.Context, maxItems int) ([]*types.Message, error) {
	rows, legacy, err := s.fetchAll(ctx)
	if legacy {
		s.setLegacy()
	}
	if err != nil {
		s.log.Warn("bulk history fetch failed", "err", err)
		return nil, err
	}

	s.mu.Lock()
	s.cache = nil
	s.cacheIDs = make(map[string]struct{})
	s.mergeLocked(rows)
	s.fetchedAt = s.now()
	if s.cacheHighest > s.highestID {
		s.highestID = s.cacheHighest
	}
	out := tail(s.cache, maxItems)
	s.mu.Unlock()

	return toMessages(out, legacy), nil
}

// GetLatest returns the most recent count messages, newest first. The cache
// answers while it is fresh; otherwise only rows newer than the cache are
// fetched and merged.
func (s *Store) GetLatest(ctx context.Context, count int) ([]*types.Message, error) {
	s.mu.Lock()
	fresh := len(s.cache) > 0 && s.now().Sub(s.fetchedAt) < s.opts.CacheTTL
	legacy := s.legacy
	from := s.cacheHighest + 1
	s.mu.Unlock()

	var fetchErr error
	if !fresh {
		var rows []types.RawMessage
		if legacy {
			rows, fetchErr = s.scanLatest(ctx, count)
		} else {
			if from == 0 {
				// Cold cache: start near the end rather than at index 0.
				if n, err := s.remote.GetMessageCount(ctx); err == nil && n > int64(count) {
					from = n - int64(count)
				}
			}
			rows, fetchErr = s.remote.FetchMessagesFrom(ctx, from)
			if client.IsNotFound(fetchErr) {
				s.setLegacy()
				legacy = true
				rows, fetchErr = s.scanLatest(ctx, count)
			}
		}
		s.mu.Lock()
		s.mergeLocked(rows)
		if fetchErr == nil {
			s.fetchedAt = s.now()
		}
		s.mu.Unlock()
		if fetchErr != nil {
			s.log.Warn("latest fetch failed, serving cache", "err", fetchErr)
		}
	}

	s.mu.Lock()
	latest := tail(s.cache, count)
	s.mu.Unlock()

	out := toMessages(latest, legacy)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, fetchErr
}

// GetNewSince returns only messages newer than the poll cursor, oldest
// first, and advances the cursor. It never re-fetches the full history.
// On failure it returns an empty list and the error; the cursor is unchanged.
func (s *Store) GetNewSince(ctx context.Context) ([]*types.Message, error) {
	s.mu.Lock()
	legacy := s.legacy
	cursor := s.highestID
	s.mu.Unlock()

	if legacy {
		return s.scanNew(ctx)
	}

	rows, err := s.remote.FetchMessagesFrom(ctx, cursor+1)
	if client.IsNotFound(err) {
		s.log.Warn("paginated messages endpoint unavailable, falling back to slot scan")
		s.setLegacy()
		return s.scanNew(ctx)
	}
	if err != nil {
		return nil, err
	}

	fresh := rows[:0:0]
	maxID := cursor
	for _, r := range rows {
		if !r.HasID || r.ID <= cursor {
			continue
		}
		fresh = append(fresh, r)
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	s.mu.Lock()
	s.mergeLocked(fresh)
	if maxID > s.highestID {
		s.highestID = maxID
	}
	s.mu.Unlock()

	return toMessages(fresh, false), nil
}

// GetMessageCount is the cheap change probe used by the polling loop. On
// failure it returns the last known count together with the error.
func (s *Store) GetMessageCount(ctx context.Context) (int64, error) {
	return s.remote.GetMessageCount(ctx)
}

// ClearCache drops all cached rows and resets both cursors. The next query
// re-probes the paginated endpoint.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// MarkStale forces the next GetLatest to consult the node.
func (s *Store) MarkStale() {
	s.mu.Lock()
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

// HighestMessageID returns the poll cursor (-1 before the first fetch).
func (s *Store) HighestMessageID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highestID
}

// Legacy reports whether the store is using the slot-scan fallback.
func (s *Store) Legacy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.legacy
}

// CacheLen returns the number of cached rows.
func (s *Store) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// ─── fetch paths ──────────────────────────────────────────────────────────────

func (s *Store) fetchAll(ctx context.Context) ([]types.RawMessage, bool, error) {
	rows, err := s.remote.FetchAllMessages(ctx)
	if err == nil {
		return rows, false, nil
	}
	if !client.IsNotFound(err) {
		return nil, false, err
	}

	s.log.Warn("bulk messages endpoint unavailable, falling back to slot scan")
	current, err := s.remote.GetCurrentSlot(ctx)
	if err != nil {
		return nil, true, err
	}
	from := current - int64(s.opts.SlotScanLimit) + 1
	rows, last, err := s.scanRange(ctx, from, current)
	s.mu.Lock()
	s.scannedSlot = last
	s.mu.Unlock()
	return rows, true, err
}

func (s *Store) setLegacy() {
	s.mu.Lock()
	s.legacy = true
	s.mu.Unlock()
}

// scanNew scans slots after the scan cursor up to the current slot, bounded
// by SlotScanLimit, and advances the cursor past every slot computed.
func (s *Store) scanNew(ctx context.Context) ([]*types.Message, error) {
	current, err := s.remote.GetCurrentSlot(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	from := s.scannedSlot + 1
	s.mu.Unlock()
	if from == 0 {
		from = current - int64(s.opts.SlotScanLimit) + 1
	}
	to := current
	if to-from+1 > int64(s.opts.SlotScanLimit) {
		to = from + int64(s.opts.SlotScanLimit) - 1
	}

	rows, last, err := s.scanRange(ctx, from, to)

	s.mu.Lock()
	if last > s.scannedSlot {
		s.scannedSlot = last
	}
	fresh := rows[:0:0]
	for _, r := range rows {
		if _, seen := s.cacheIDs[types.DisplayID(&r)]; !seen {
			fresh = append(fresh, r)
		}
	}
	s.mergeLocked(fresh)
	s.mu.Unlock()

	return toMessages(fresh, true), err
}

// scanLatest computes the last few slots without moving the scan cursor.
func (s *Store) scanLatest(ctx context.Context, count int) ([]types.RawMessage, error) {
	current, err := s.remote.GetCurrentSlot(ctx)
	if err != nil {
		return nil, err
	}
	span := count
	if span > s.opts.SlotScanLimit {
		span = s.opts.SlotScanLimit
	}
	rows, _, err := s.scanRange(ctx, current-int64(span)+1, current)
	return rows, err
}

// scanRange fetches compute results for slots [from, to]. It stops at the
// first failure and returns the rows gathered so far and the last slot that
// was computed successfully.
func (s *Store) scanRange(ctx context.Context, from, to int64) ([]types.RawMessage, int64, error) {
	if from < 0 {
		from = 0
	}
	last := from - 1
	var out []types.RawMessage
	for slot := from; slot <= to; slot++ {
		rows, err := s.remote.FetchSlotResults(ctx, slot)
		if err != nil {
			return out, last, err
		}
		out = append(out, rows...)
		last = slot
	}
	return out, last, nil
}

// ─── cache ────────────────────────────────────────────────────────────────────

// mergeLocked adds rows not yet cached, keeps the cache sorted and bounded.
// MUST be called with s.mu held.
func (s *Store) mergeLocked(rows []types.RawMessage) {
	if len(rows) == 0 {
		return
	}
	for _, r := range rows {
		id := types.DisplayID(&r)
		if _, ok := s.cacheIDs[id]; ok {
			continue
		}
		s.cacheIDs[id] = struct{}{}
		s.cache = append(s.cache, r)
		if r.HasID && r.ID > s.cacheHighest {
			s.cacheHighest = r.ID
		}
	}
	sort.SliceStable(s.cache, func(i, j int) bool {
		a, b := s.cache[i], s.cache[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.ID < b.ID
	})
	if over := len(s.cache) - s.opts.CacheSize; over > 0 {
		for _, r := range s.cache[:over] {
			delete(s.cacheIDs, types.DisplayID(&r))
		}
		s.cache = append([]types.RawMessage(nil), s.cache[over:]...)
	}
}

func tail(rows []types.RawMessage, n int) []types.RawMessage {
	if n <= 0 || n >= len(rows) {
		return append([]types.RawMessage(nil), rows...)
	}
	return append([]types.RawMessage(nil), rows[len(rows)-n:]...)
}

func toMessages(rows []types.RawMessage, legacy bool) []*types.Message {
	src := types.SourceChatHistory
	if legacy {
		src = types.SourceSlotResults
	}
	out := make([]*types.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToMessage(types.StatusReceived, src))
	}
	return out
}
