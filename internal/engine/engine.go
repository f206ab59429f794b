// Package engine owns the displayed chat list. It sends messages
// optimistically, reconciles them against the remote log, polls for new
// messages and notifies subscribed adapters of every change.
//
// Lifecycle of an own message:
//
//	Send ──► PENDING ──(row found in history)──► CONFIRMED  (id rekeyed once)
//	            │
//	            ├──(pending timeout)──────────► CONFIRMED  (source auto-confirmed)
//	            └──(push rejected)────────────► FAILED
//
// Rows from other senders are inserted directly as RECEIVED.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snehjoshi/aochat/internal/config"
	"github.com/snehjoshi/aochat/internal/metrics"
	"github.com/snehjoshi/aochat/internal/scheduler"
	"github.com/snehjoshi/aochat/internal/types"
	"github.com/snehjoshi/aochat/pkg/client"
)

// Remote is the subset of the remote process client the engine calls
// directly. *client.Client satisfies it.
type Remote interface {
	GetCurrentSlot(ctx context.Context) (int64, error)
	Push(ctx context.Context, action string, fields ...client.Field) (*client.PushResult, error)
}

// History is the history store as seen by the engine. *history.Store
// satisfies it.
type History interface {
	GetAllHistory(ctx context.Context, maxItems int) ([]*types.Message, error)
	GetLatest(ctx context.Context, count int) ([]*types.Message, error)
	GetNewSince(ctx context.Context) ([]*types.Message, error)
	GetMessageCount(ctx context.Context) (int64, error)
	ClearCache()
	MarkStale()
	HighestMessageID() int64
}

const (
	timerTimeout scheduler.Kind = "timeout"
	timerRecheck scheduler.Kind = "recheck"
)

// ─── Options ──────────────────────────────────────────────────────────────────

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics wires a metrics registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithIdentity sets the sender identity of this session.
func WithIdentity(id types.Identity) Option {
	return func(e *Engine) { e.identity = id }
}

// WithWalletHook is called (outside the engine lock) when a push response
// reveals the session's wallet address and none was known.
func WithWalletHook(fn func(wallet string)) Option {
	return func(e *Engine) { e.onWallet = fn }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// ─── Engine ───────────────────────────────────────────────────────────────────

// Engine is safe for concurrent use.
type Engine struct {
	remote  Remote
	store   History
	cfg     config.ChatConfig
	action  string
	initial int
	log     *slog.Logger
	metrics *metrics.Registry
	sched   *scheduler.Scheduler
	now     func() time.Time

	onWallet func(string)

	ctx    context.Context // cancelled by Destroy
	cancel context.CancelFunc
	wg     sync.WaitGroup

	polling atomic.Bool

	mu        sync.Mutex
	messages  []*types.Message // display order, oldest first
	displayed map[string]*types.Message
	unkeyed   map[int64]*types.Message // own sends still carrying their local id
	awaiting  map[int64]int64          // local id → slot current at send time
	nextLocal int64
	identity  types.Identity
	lastSlot  int64
	lastCount int64
	executed  int64
	started   bool
	destroyed bool

	// emitMu is taken before mu is released so adapters observe events in
	// mutation order.
	emitMu  sync.Mutex
	subMu   sync.Mutex
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	a  Adapter
}

// New creates an Engine. Timers are live immediately so Send works before
// Start; Start adds the initial load and the polling loop.
func New(remote Remote, store History, cfg *config.Config, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		remote:    remote,
		store:     store,
		cfg:       cfg.Chat,
		action:    cfg.Node.PushAction,
		initial:   cfg.History.InitialLoad,
		log:       slog.Default(),
		metrics:   &metrics.Registry{},
		sched:     scheduler.New(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		displayed: make(map[string]*types.Message),
		unkeyed:   make(map[int64]*types.Message),
		awaiting:  make(map[int64]int64),
		lastCount: -1,
		identity:  types.Identity{Username: cfg.Chat.Username, WalletAddress: cfg.Chat.WalletAddress},
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "engine")
	if e.initial <= 0 || e.initial > e.cfg.MaxDisplayMessages {
		e.initial = e.cfg.MaxDisplayMessages
	}
	e.sched.Start(ctx, e.onTimer)
	return e
}

// Subscribe registers an adapter and returns a func that removes it.
func (e *Engine) Subscribe(a Adapter) (unsubscribe func()) {
	e.subMu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriber{id: id, a: a})
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// unlockAndEmit releases e.mu and delivers evs in order.
// MUST be called with e.mu held.
func (e *Engine) unlockAndEmit(evs []event) {
	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()
	e.dispatch(evs)
}

// report delivers a notice that is not tied to a state change.
func (e *Engine) report(text string, kind StatusKind) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.dispatch([]event{statusEvent(text, kind)})
}

// dispatch MUST be called with e.emitMu held.
func (e *Engine) dispatch(evs []event) {
	if len(evs) == 0 {
		return
	}
	e.subMu.Lock()
	subs := make([]subscriber, len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()

	for _, ev := range evs {
		for _, s := range subs {
			ev(s.a)
		}
	}
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Start loads the initial history, renders it in full and launches the
// polling loop. The loop runs until ctx is cancelled or Destroy is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.started {
		e.mu.Unlock()
		return errors.New("engine: already started")
	}
	e.started = true
	e.wg.Add(1)
	e.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancel)

	if err := e.loadInitial(loopCtx); err != nil {
		e.log.Warn("initial history load failed", "err", err)
	}

	go func() {
		defer e.wg.Done()
		defer stop()
		defer cancel()
		e.loop(loopCtx)
	}()
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	interval := config.Duration(e.cfg.PollIntervalMs)
	t := time.NewTicker(interval)
	defer t.Stop()
	e.log.Info("polling started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("polling stopped")
			return
		case <-t.C:
			e.Poll(ctx)
		}
	}
}

// Destroy cancels the polling loop and every armed timer and drops all
// state, including sends still in flight. Subsequent calls return
// ErrDestroyed. Destroy is idempotent.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.resetLocked()
	e.mu.Unlock()

	e.cancel()
	e.sched.Clear()
	e.sched.Stop()
	e.wg.Wait()

	e.subMu.Lock()
	e.subs = nil
	e.subMu.Unlock()
	e.log.Info("engine destroyed")
}

// Clear empties the displayed list and cancels every pending timer.
func (e *Engine) Clear() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.resetLocked()
	e.sched.Clear()
	e.unlockAndEmit([]event{fullEvent(nil)})
}

// Refresh clears the view and the history cache, then reloads history.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	e.mu.Unlock()

	e.Clear()
	e.store.ClearCache()
	return e.loadInitial(ctx)
}

// resetLocked MUST be called with e.mu held.
func (e *Engine) resetLocked() {
	e.messages = nil
	e.displayed = make(map[string]*types.Message)
	e.unkeyed = make(map[int64]*types.Message)
	e.awaiting = make(map[int64]int64)
	e.lastCount = -1
}

// loadInitial probes the count and slot, bulk-loads history and renders the
// result in full. The count is read before the bulk fetch so rows landing in
// between still register as a change on the next tick.
func (e *Engine) loadInitial(ctx context.Context) error {
	count, cErr := e.store.GetMessageCount(ctx)
	slot, sErr := e.remote.GetCurrentSlot(ctx)
	rows, err := e.store.GetAllHistory(ctx, e.initial)

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if cErr == nil {
		e.lastCount = count
	}
	if sErr == nil && slot > e.lastSlot {
		e.lastSlot = slot
	}

	var loaded []*types.Message
	for _, r := range rows {
		if _, ok := e.displayed[r.ID]; ok {
			continue
		}
		e.classifyLocked(r)
		e.displayed[r.ID] = r
		loaded = append(loaded, r)
	}
	e.messages = append(loaded, e.messages...)
	e.evictLocked()

	evs := []event{fullEvent(cloneAll(e.messages))}
	if err != nil {
		evs = append(evs, statusEvent("could not load chat history", StatusWarning))
	}
	e.unlockAndEmit(evs)

	e.log.Info("history loaded", "messages", len(loaded), "slot", slot)
	return err
}

// ─── Send ─────────────────────────────────────────────────────────────────────

// Send validates content, displays it immediately as pending and pushes it to
// the node. The returned message reflects its state when Send returns:
// pending, confirmed (when the push was observed right away) or failed.
//
// A *ValidationError means nothing was displayed or sent. A push failure is
// returned together with the failed message.
func (e *Engine) Send(ctx context.Context, content, username string) (*types.Message, error) {
	if err := validateContent(content, e.cfg.MaxContentLength); err != nil {
		e.metrics.Sends.Inc(metrics.SendInvalid)
		var ve *ValidationError
		if errors.As(err, &ve) {
			e.report(ve.Reason.Error(), StatusError)
		}
		return nil, err
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil, ErrDestroyed
	}
	if username == "" {
		username = e.identity.Username
	}
	username = types.SanitizeUsername(username)
	wallet := e.identity.WalletAddress

	e.nextLocal++
	local := e.nextLocal
	m := &types.Message{
		ID:            strconv.FormatInt(local, 10),
		LocalID:       local,
		Content:       content,
		Username:      username,
		WalletAddress: wallet,
		Timestamp:     e.now().UnixMilli(),
		Status:        types.StatusPending,
		IsPending:     true,
		Own:           true,
		Source:        types.SourceDirectPush,
	}
	e.messages = append(e.messages, m)
	e.displayed[m.ID] = m
	e.unkeyed[local] = m
	e.awaiting[local] = e.lastSlot
	ev := appendEvent([]*types.Message{m.Clone()})
	if e.evictLocked() > 0 {
		ev = fullEvent(cloneAll(e.messages))
	}
	key := m.ID
	e.unlockAndEmit([]event{ev})

	e.sched.After(key, timerTimeout, config.Duration(e.cfg.PendingTimeoutMs))

	fields := []client.Field{
		{Key: "content", Value: content},
		{Key: "username", Value: username},
	}
	if types.ValidWallet(wallet) {
		fields = append(fields, client.Field{Key: "walletAddress", Value: wallet})
	}

	res, err := e.remote.Push(ctx, e.action, fields...)
	if err != nil {
		e.metrics.Sends.Inc(metrics.SendRejected)
		e.metrics.TransportErrors.Inc("push")
		e.log.Warn("push failed", "id", key, "err", err)
		return e.fail(local, err), err
	}
	e.metrics.Sends.Inc(metrics.SendAccepted)
	e.log.Debug("push accepted", "id", key)

	if w := res.Wallet(); w != "" {
		e.adoptWallet(w)
	}

	e.store.MarkStale()
	e.confirmFromLatest(ctx, local)

	e.mu.Lock()
	still := m.Status == types.StatusPending && e.unkeyed[local] == m
	out := m.Clone()
	e.mu.Unlock()
	if still {
		e.sched.After(key, timerRecheck, config.Duration(e.cfg.RecheckDelayMs))
	}
	return out, nil
}

// fail marks a pending send as failed. It returns a copy of the message.
func (e *Engine) fail(local int64, cause error) *types.Message {
	e.mu.Lock()
	m := e.unkeyed[local]
	if m == nil || !types.ValidTransition(m.Status, types.StatusFailed) {
		e.mu.Unlock()
		return nil
	}
	m.Status = types.StatusFailed
	m.IsPending = false
	m.Error = cause.Error()
	delete(e.unkeyed, local)
	delete(e.awaiting, local)
	e.sched.CancelKey(m.ID)

	e.unlockAndEmit([]event{
		rekeyEvent(m.ID, m.ID, m.Clone()),
		statusEvent(fmt.Sprintf("message not sent: %v", cause), StatusError),
	})
	return m.Clone()
}

func (e *Engine) adoptWallet(w string) {
	e.mu.Lock()
	if types.ValidWallet(e.identity.WalletAddress) || !types.ValidWallet(w) {
		e.mu.Unlock()
		return
	}
	e.identity.WalletAddress = w
	hook := e.onWallet
	e.mu.Unlock()

	e.log.Info("wallet address learned from node", "wallet", w)
	if hook != nil {
		hook(w)
	}
}

// confirmFromLatest looks for the pushed message among the latest remote
// rows and, on a match, rekeys it in place.
func (e *Engine) confirmFromLatest(ctx context.Context, local int64) {
	latest, err := e.store.GetLatest(ctx, e.cfg.ConfirmLookback)
	if err != nil {
		e.metrics.TransportErrors.Inc("latest")
		e.log.Debug("confirmation lookup failed", "local_id", local, "err", err)
	}

	e.mu.Lock()
	m := e.unkeyed[local]
	if m == nil || m.Status != types.StatusPending {
		e.mu.Unlock()
		return
	}
	for _, r := range latest {
		if _, taken := e.displayed[r.ID]; taken {
			continue
		}
		if r.Content != m.Content {
			continue
		}
		if r.Username == m.Username || sameWallet(r, m) {
			ev := e.promoteLocked(m, r, types.SourceImmediateConfirmed)
			e.unlockAndEmit([]event{ev})
			return
		}
	}
	e.mu.Unlock()
}

// onTimer runs on the scheduler goroutine.
func (e *Engine) onTimer(key string, kind scheduler.Kind) {
	local, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return
	}
	switch kind {
	case timerTimeout:
		e.autoConfirm(local)
	case timerRecheck:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.confirmFromLatest(e.ctx, local)
		}()
	}
}

// autoConfirm resolves a send that was never observed. A message that is no
// longer pending is left alone.
func (e *Engine) autoConfirm(local int64) {
	e.mu.Lock()
	m := e.unkeyed[local]
	if m == nil || !types.ValidTransition(m.Status, types.StatusConfirmed) {
		e.mu.Unlock()
		return
	}
	m.Status = types.StatusConfirmed
	m.IsPending = false
	m.Source = types.SourceAutoConfirmed
	e.sched.Cancel(m.ID, timerRecheck)
	e.metrics.Confirmed.Inc(string(types.SourceAutoConfirmed))
	e.log.Debug("pending timeout, auto-confirmed", "id", m.ID)
	e.unlockAndEmit([]event{rekeyEvent(m.ID, m.ID, m.Clone())})
}

// promoteLocked gives an own message its remote id and coordinates. The id
// changes exactly once; a message already confirmed by timeout keeps its
// status and only gains the remote id.
// MUST be called with e.mu held.
func (e *Engine) promoteLocked(m, row *types.Message, source types.Source) event {
	oldID := m.ID
	delete(e.displayed, oldID)
	delete(e.unkeyed, m.LocalID)
	e.sched.CancelKey(oldID)

	wasPending := m.Status == types.StatusPending
	m.ID = row.ID
	m.Status = types.StatusConfirmed
	m.IsPending = false
	m.RemoteID = row.RemoteID
	m.Slot = row.Slot
	m.Reference = row.Reference
	if row.Timestamp > 0 {
		m.Timestamp = row.Timestamp
	}
	if m.WalletAddress == "" {
		m.WalletAddress = row.WalletAddress
	}
	if wasPending {
		m.Source = source
		e.metrics.Confirmed.Inc(string(source))
	}
	e.displayed[m.ID] = m
	e.log.Debug("message confirmed", "old_id", oldID, "id", m.ID, "source", source)
	return rekeyEvent(oldID, m.ID, m.Clone())
}

// ─── Polling ──────────────────────────────────────────────────────────────────

// PollOutcome describes what one tick did.
type PollOutcome string

const (
	PollSkipped   PollOutcome = metrics.PollSkippedInflight
	PollUnchanged PollOutcome = metrics.PollUnchanged
	PollFetched   PollOutcome = metrics.PollFetched
	PollFailed    PollOutcome = metrics.PollError
)

// Poll runs one polling tick. A tick that starts while another is still in
// flight is skipped, not queued.
func (e *Engine) Poll(ctx context.Context) PollOutcome {
	if !e.polling.CompareAndSwap(false, true) {
		e.metrics.Polls.Inc(string(PollSkipped))
		e.log.Debug("poll tick skipped, previous tick in flight")
		return PollSkipped
	}
	defer e.polling.Store(false)

	out := e.poll(ctx)
	e.metrics.Polls.Inc(string(out))
	return out
}

func (e *Engine) poll(ctx context.Context) PollOutcome {
	count, cErr := e.store.GetMessageCount(ctx)
	if cErr != nil {
		e.metrics.TransportErrors.Inc("count")
		e.log.Warn("message count probe failed", "err", cErr)
	}
	slot, sErr := e.remote.GetCurrentSlot(ctx)
	if sErr != nil {
		e.metrics.TransportErrors.Inc("slot")
		e.log.Warn("slot probe failed", "err", sErr)
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return PollUnchanged
	}
	countChanged := cErr == nil && count != e.lastCount
	slotAdvanced := sErr == nil && slot > e.lastSlot
	e.mu.Unlock()

	if !countChanged && !slotAdvanced {
		return PollUnchanged
	}

	outcome := PollFetched
	rows, err := e.store.GetNewSince(ctx)
	if err != nil {
		e.metrics.TransportErrors.Inc("messages")
		e.log.Warn("fetching new messages failed", "err", err)
		outcome = PollFailed
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return outcome
	}
	if outcome == PollFetched && cErr == nil {
		e.lastCount = count
	}
	evs := e.reconcileLocked(rows)
	if slotAdvanced {
		e.lastSlot = slot
		e.sweepLocked(slot)
	}
	e.unlockAndEmit(evs)
	return outcome
}

// reconcileLocked merges polled rows into the displayed list and returns the
// adapter events: rekeys for own messages first seen in history, then one
// append with only the genuinely new rows, or a full render when the display
// cap evicted older messages.
// MUST be called with e.mu held.
func (e *Engine) reconcileLocked(rows []*types.Message) []event {
	var evs []event
	var fresh []*types.Message
	window := int64(e.cfg.DuplicateWindowMs)

	for _, r := range rows {
		if _, ok := e.displayed[r.ID]; ok {
			e.metrics.Duplicates.Inc("")
			continue
		}
		e.classifyLocked(r)

		if r.Own {
			if m := e.matchUnkeyedLocked(r); m != nil {
				evs = append(evs, e.promoteLocked(m, r, types.SourceChatHistory))
				continue
			}
			if e.sameCoordinatesLocked(r) {
				e.metrics.Duplicates.Inc("")
				continue
			}
		}
		if e.nearDuplicateLocked(r, window) {
			e.metrics.Duplicates.Inc("")
			e.log.Debug("dropping near-duplicate row", "id", r.ID)
			continue
		}

		e.displayed[r.ID] = r
		fresh = append(fresh, r)
		if r.Status == types.StatusReceived {
			e.metrics.Received.Inc("")
		}
	}

	if len(fresh) == 0 {
		return evs
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })
	e.messages = append(e.messages, fresh...)
	if e.evictLocked() > 0 {
		// Rows evicted in the same tick are never shown.
		return append(evs, fullEvent(cloneAll(e.messages)))
	}
	return append(evs, appendEvent(cloneAll(fresh)))
}

// classifyLocked sanitizes the sender name of a remote row and resolves its
// ownership and display status.
// MUST be called with e.mu held.
func (e *Engine) classifyLocked(r *types.Message) {
	r.Username = types.SanitizeUsername(r.Username)
	r.Own = types.IsOwn(r, e.identity)
	r.IsPending = false
	if r.Own {
		r.Status = types.StatusConfirmed
	} else {
		r.Status = types.StatusReceived
	}
}

// matchUnkeyedLocked returns the oldest own message that still carries its
// local id and has the row's content.
// MUST be called with e.mu held.
func (e *Engine) matchUnkeyedLocked(r *types.Message) *types.Message {
	for _, m := range e.messages {
		if m.HasRemoteID() || e.unkeyed[m.LocalID] != m {
			continue
		}
		if m.Content == r.Content {
			return m
		}
	}
	return nil
}

// sameCoordinatesLocked reports whether a displayed message already carries
// the row's (slot, reference) pair.
// MUST be called with e.mu held.
func (e *Engine) sameCoordinatesLocked(r *types.Message) bool {
	if r.Reference == "" {
		return false
	}
	for _, m := range e.messages {
		if m.Reference == r.Reference && m.Slot == r.Slot {
			return true
		}
	}
	return false
}

// nearDuplicateLocked reports whether a displayed message has the same
// content and sender with a timestamp within window milliseconds.
// MUST be called with e.mu held.
func (e *Engine) nearDuplicateLocked(r *types.Message, window int64) bool {
	for _, m := range e.messages {
		if m.Content != r.Content || !types.SameSender(m, r) {
			continue
		}
		d := m.Timestamp - r.Timestamp
		if d < 0 {
			d = -d
		}
		if d <= window {
			return true
		}
	}
	return false
}

// sweepLocked counts sends whose origin slot is behind the current slot as
// likely executed.
// MUST be called with e.mu held.
func (e *Engine) sweepLocked(current int64) {
	for local, origin := range e.awaiting {
		if origin < current {
			delete(e.awaiting, local)
			e.executed++
			e.metrics.LikelyExecuted.Inc("")
		}
	}
}

// evictLocked trims the list to the display cap, oldest first, forgetting
// each evicted id and its timers together. It returns how many messages were
// evicted.
// MUST be called with e.mu held.
func (e *Engine) evictLocked() int {
	over := len(e.messages) - e.cfg.MaxDisplayMessages
	if over <= 0 {
		return 0
	}
	for _, m := range e.messages[:over] {
		delete(e.displayed, m.ID)
		if e.unkeyed[m.LocalID] == m {
			delete(e.unkeyed, m.LocalID)
			delete(e.awaiting, m.LocalID)
			e.sched.CancelKey(m.ID)
		}
	}
	e.messages = append([]*types.Message(nil), e.messages[over:]...)
	e.metrics.Evicted.Add("", int64(over))
	return over
}

// ─── Reads ────────────────────────────────────────────────────────────────────

// Messages returns a copy of the displayed list, oldest first.
func (e *Engine) Messages() []*types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.messages)
}

// Identity returns the current sender identity.
func (e *Engine) Identity() types.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Displayed        int   `json:"displayed"`
	Pending          int   `json:"pending"`
	Confirmed        int   `json:"confirmed"`
	Failed           int   `json:"failed"`
	Received         int   `json:"received"`
	AwaitingSlot     int   `json:"awaiting_slot"`
	LikelyExecuted   int64 `json:"likely_executed"`
	LastKnownSlot    int64 `json:"last_known_slot"`
	HighestMessageID int64 `json:"highest_message_id"`
	ArmedTimers      int   `json:"armed_timers"`
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	st := Stats{
		Displayed:      len(e.messages),
		AwaitingSlot:   len(e.awaiting),
		LikelyExecuted: e.executed,
		LastKnownSlot:  e.lastSlot,
	}
	for _, m := range e.messages {
		switch m.Status {
		case types.StatusPending:
			st.Pending++
		case types.StatusConfirmed:
			st.Confirmed++
		case types.StatusFailed:
			st.Failed++
		case types.StatusReceived:
			st.Received++
		}
	}
	e.mu.Unlock()

	st.HighestMessageID = e.store.HighestMessageID()
	st.ArmedTimers = e.sched.Len()
	return st
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func sameWallet(a, b *types.Message) bool {
	return types.ValidWallet(a.WalletAddress) && types.ValidWallet(b.WalletAddress) &&
		a.WalletAddress == b.WalletAddress
}

func cloneAll(msgs []*types.Message) []*types.Message {
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
