package editclient

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarerhq/plansync/internal/journal"
	"github.com/wayfarerhq/plansync/internal/plan"
	"github.com/wayfarerhq/plansync/internal/wire"
)

var (
	ErrNotJoined   = errors.New("not joined to an edit session")
	ErrEvicted     = errors.New("evicted from edit session")
	ErrSaving      = errors.New("save in progress")
	ErrSaveTimeout = errors.New("save not acknowledged")
)

// SessionState is the session lifecycle phase. Evicted is terminal.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateJoined       SessionState = "joined"
	StateLeaving      SessionState = "leaving"
	StateEvicted      SessionState = "evicted"
)

// Peer is another client currently present in the edit session.
type Peer struct {
	ClientID string
	UserID   string
}

// SessionOptions configure a Session. Transport, GroupID, PlanID and
// UserID are required; everything else has a usable default. Callbacks
// are invoked outside the session lock and may call back into the
// Session.
type SessionOptions struct {
	Transport *Transport
	Store     *plan.Store
	Journal   journal.Backend

	GroupID  string
	PlanID   string
	UserID   string
	ClientID string

	// AckTimeout bounds the wait for a join-response or saved ack.
	AckTimeout time.Duration

	Logger  Logger
	Metrics *Metrics

	OnJoined     func()
	OnApplied    func(op plan.Operation)
	OnPeerJoin   func(peer Peer)
	OnPeerLeave  func(clientID string)
	OnEvicted    func()
	OnSaved      func()
	OnSaveFailed func(err error)
}

const defaultAckTimeout = 10 * time.Second

// Session coordinates one client's participation in a plan edit session:
// the join handshake, optimistic local edits, the applied broadcast feed,
// presence, eviction, and the save/exit flow. All local edits and all
// incoming messages funnel through a single mutex, so the collection
// observes one serialized stream of operations.
type Session struct {
	transport *Transport
	store     *plan.Store
	builder   *plan.Builder
	journal   journal.Backend
	groupID   string
	planID    string
	userID    string
	clientID  string

	ackTimeout time.Duration
	logger     Logger
	metrics    *Metrics

	onJoined     func()
	onApplied    func(op plan.Operation)
	onPeerJoin   func(peer Peer)
	onPeerLeave  func(clientID string)
	onEvicted    func()
	onSaved      func()
	onSaveFailed func(err error)

	mu        sync.Mutex
	state     SessionState
	joinSent  bool
	saving    bool
	joinTimer *time.Timer
	saveTimer *time.Timer
	presence  map[string]string

	// journalMu serializes backend writes: the transport read goroutine
	// and local edit callers both persist, and the file backend's
	// temp-and-rename must not interleave.
	journalMu sync.Mutex
}

func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session requires a transport")
	}
	if opts.GroupID == "" || opts.PlanID == "" || opts.UserID == "" {
		return nil, errors.New("session requires groupID, planID and userID")
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	store := opts.Store
	if store == nil {
		store = plan.NewStore()
	}
	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}

	s := &Session{
		transport:    opts.Transport,
		store:        store,
		builder:      plan.NewBuilder(clientID),
		journal:      opts.Journal,
		groupID:      opts.GroupID,
		planID:       opts.PlanID,
		userID:       opts.UserID,
		clientID:     clientID,
		ackTimeout:   ackTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		onJoined:     opts.OnJoined,
		onApplied:    opts.OnApplied,
		onPeerJoin:   opts.OnPeerJoin,
		onPeerLeave:  opts.OnPeerLeave,
		onEvicted:    opts.OnEvicted,
		onSaved:      opts.OnSaved,
		onSaveFailed: opts.OnSaveFailed,
		state:        StateDisconnected,
		presence:     map[string]string{},
	}

	s.restoreJournal()

	s.transport.Subscribe(wire.EditTopic(s.groupID, s.planID), s.handleEdit)
	s.transport.Subscribe(wire.PlanTopic(s.groupID, s.planID), s.handlePlan)
	s.transport.Subscribe(wire.UserTopic(s.groupID, s.planID), s.handleUser)
	s.transport.OnConnect(s.handleConnect)
	s.transport.OnDisconnect(s.handleDisconnect)
	return s, nil
}

// Start opens the transport and begins the join handshake.
func (s *Session) Start() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.state = StateConnecting
	}
	s.mu.Unlock()
	s.transport.Start()
}

// Close stops timers and tears down the transport. It does not publish a
// leave; call Leave first for a polite exit.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.mu.Unlock()
	s.transport.Close()
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ClientID() string { return s.clientID }

func (s *Session) Store() *plan.Store { return s.store }

func (s *Session) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// Peers lists the other clients currently in the session, ordered by
// clientId.
func (s *Session) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]Peer, 0, len(s.presence))
	for clientID, userID := range s.presence {
		if clientID == s.clientID {
			continue
		}
		peers = append(peers, Peer{ClientID: clientID, UserID: userID})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ClientID < peers[j].ClientID })
	return peers
}

// Insert places a new item at index within a day. Index is clamped to the
// current live length.
func (s *Session) Insert(day, index int, fields plan.NewItemFields) (plan.Operation, error) {
	if err := s.editable(); err != nil {
		return plan.Operation{}, err
	}
	neighbors := s.store.ResolveNeighbors(day, index, "")
	op := s.builder.BuildInsert(day, fields, neighbors.PrevCrdtID, neighbors.NextCrdtID)
	return op, s.publishOp(op)
}

// InsertAfter places a new item directly after an existing live item.
func (s *Session) InsertAfter(anchorCrdtID string, fields plan.NewItemFields) (plan.Operation, error) {
	if err := s.editable(); err != nil {
		return plan.Operation{}, err
	}
	day, neighbors, err := s.store.ResolveAfter(anchorCrdtID)
	if err != nil {
		return plan.Operation{}, err
	}
	op := s.builder.BuildInsert(day, fields, neighbors.PrevCrdtID, neighbors.NextCrdtID)
	return op, s.publishOp(op)
}

// Move reorders an item within its current day.
func (s *Session) Move(crdtID string, index int) (plan.Operation, error) {
	if err := s.editable(); err != nil {
		return plan.Operation{}, err
	}
	item, err := s.liveItem(crdtID)
	if err != nil {
		return plan.Operation{}, err
	}
	neighbors := s.store.ResolveNeighbors(item.Day, index, crdtID)
	op := s.builder.BuildMove(item.Day, crdtID, neighbors.PrevCrdtID, neighbors.NextCrdtID)
	return op, s.publishOp(op)
}

// MoveToDay relocates an item to index within another day.
func (s *Session) MoveToDay(crdtID string, newDay, index int) (plan.Operation, error) {
	if err := s.editable(); err != nil {
		return plan.Operation{}, err
	}
	item, err := s.liveItem(crdtID)
	if err != nil {
		return plan.Operation{}, err
	}
	neighbors := s.store.ResolveNeighbors(newDay, index, crdtID)
	op := s.builder.BuildMoveDay(item.Day, newDay, crdtID, neighbors.PrevCrdtID, neighbors.NextCrdtID)
	return op, s.publishOp(op)
}

// Update patches the mutable fields of an item. Unset patch fields are
// left untouched.
func (s *Session) Update(crdtID string, patch plan.ItemPatch) (plan.Operation, error) {
	if err := s.editable(); err != nil {
		return plan.Operation{}, err
	}
	item, err := s.liveItem(crdtID)
	if err != nil {
		return plan.Operation{}, err
	}
	op := s.builder.BuildUpdate(item.Day, crdtID, patch)
	return op, s.publishOp(op)
}

// Delete tombstones an item.
func (s *Session) Delete(crdtID string) (plan.Operation, error) {
	if err := s.editable(); err != nil {
		return plan.Operation{}, err
	}
	item, err := s.liveItem(crdtID)
	if err != nil {
		return plan.Operation{}, err
	}
	op := s.builder.BuildDelete(item.Day, crdtID)
	return op, s.publishOp(op)
}

// Refresh re-requests the authoritative snapshot. This is the recovery
// path after a publish failure or any suspicion of drift: the next
// join-response replaces local state wholesale.
func (s *Session) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEvicted {
		return ErrEvicted
	}
	s.joinSent = false
	if !s.sendJoinLocked() {
		return ErrNotConnected
	}
	return nil
}

// Save requests server-side persistence of the plan. Further edits are
// refused until the saved ack arrives or the ack timeout fires; the
// timeout surfaces through OnSaveFailed and unblocks editing so the
// caller can retry.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateEvicted:
		return ErrEvicted
	case StateJoined:
	default:
		return ErrNotJoined
	}
	if s.saving {
		return ErrSaving
	}
	if !s.transport.Publish(wire.EditSaveDestination(s.groupID, s.planID), wire.SaveRequest{ClientID: s.clientID}) {
		return ErrNotConnected
	}
	s.saving = true
	s.saveTimer = time.AfterFunc(s.ackTimeout, s.saveTimedOut)
	return nil
}

// Leave announces departure, best effort, and stops rejoining on
// reconnect.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEvicted {
		return
	}
	s.transport.Publish(wire.EditLeaveDestination(s.groupID, s.planID), wire.LeaveRequest{UserID: s.userID})
	s.state = StateLeaving
	s.stopTimersLocked()
}

func (s *Session) editable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateEvicted:
		return ErrEvicted
	case StateJoined:
	default:
		return ErrNotJoined
	}
	if s.saving {
		return ErrSaving
	}
	return nil
}

func (s *Session) liveItem(crdtID string) (plan.PlanItem, error) {
	item, ok := s.store.Item(crdtID)
	if !ok || item.Tombstone {
		return plan.PlanItem{}, plan.ErrUnknownItem
	}
	return item, nil
}

// publishOp applies the op locally first, then publishes. On publish
// failure the optimistic apply is kept; the caller recovers with Refresh,
// which replaces local state from the next snapshot.
func (s *Session) publishOp(op plan.Operation) error {
	if _, err := s.store.ApplyLocal(op); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.opsApplied.Inc()
	}
	s.persistJournal()
	if !s.transport.Publish(wire.EditOpDestination(s.groupID, s.planID), op) {
		return ErrNotConnected
	}
	return nil
}

func (s *Session) handleConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateEvicted, StateLeaving:
		return
	}
	s.state = StateConnected
	s.sendJoinLocked()
}

func (s *Session) handleDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected, StateJoined:
		s.state = StateConnecting
		s.joinSent = false
		if s.joinTimer != nil {
			s.joinTimer.Stop()
			s.joinTimer = nil
		}
	}
}

// sendJoinLocked publishes a join request unless one is already awaiting
// its response. A timer re-arms the request if no join-response arrives
// within the ack timeout.
func (s *Session) sendJoinLocked() bool {
	if s.joinSent {
		return true
	}
	if !s.transport.Publish(wire.EditJoinDestination(s.groupID, s.planID), wire.JoinRequest{UserID: s.userID}) {
		return false
	}
	s.joinSent = true
	if s.joinTimer != nil {
		s.joinTimer.Stop()
	}
	s.joinTimer = time.AfterFunc(s.ackTimeout, s.joinTimedOut)
	return true
}

func (s *Session) joinTimedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateJoined || s.state == StateEvicted || s.state == StateLeaving {
		return
	}
	s.logf("join not acknowledged within %s, retrying", s.ackTimeout)
	s.joinSent = false
	if s.transport.Connected() {
		s.sendJoinLocked()
	}
}

func (s *Session) saveTimedOut() {
	s.mu.Lock()
	if !s.saving {
		s.mu.Unlock()
		return
	}
	s.saving = false
	cb := s.onSaveFailed
	s.mu.Unlock()
	s.logf("save not acknowledged within %s", s.ackTimeout)
	if cb != nil {
		cb(ErrSaveTimeout)
	}
}

func (s *Session) handleEdit(body []byte) {
	msg, err := wire.DecodeServerMessage(body)
	if err != nil {
		s.logf("drop edit message: %v", err)
		return
	}
	if msg.Type != wire.MsgApplied {
		return
	}
	op := *msg.Op
	if op.ClientID == s.clientID {
		s.store.ConfirmPending(op.OpID)
	}
	changed, err := s.store.Apply(op)
	if err != nil {
		s.logf("reject applied op %s: %v", op.OpID, err)
		return
	}
	if !changed {
		return
	}
	if s.metrics != nil {
		s.metrics.opsApplied.Inc()
	}
	s.persistJournal()
	if s.onApplied != nil {
		s.onApplied(op)
	}
}

func (s *Session) handlePlan(body []byte) {
	msg, err := wire.DecodeServerMessage(body)
	if err != nil {
		s.logf("drop plan message: %v", err)
		return
	}
	switch msg.Type {
	case wire.MsgPresenceJoin:
		s.mu.Lock()
		s.presence[msg.ClientID] = msg.UserID
		cb := s.onPeerJoin
		s.mu.Unlock()
		if cb != nil && msg.ClientID != s.clientID {
			cb(Peer{ClientID: msg.ClientID, UserID: msg.UserID})
		}
	case wire.MsgPresenceLeave:
		if msg.ClientID == s.clientID {
			s.evict()
			return
		}
		s.mu.Lock()
		delete(s.presence, msg.ClientID)
		cb := s.onPeerLeave
		s.mu.Unlock()
		if cb != nil {
			cb(msg.ClientID)
		}
	}
}

func (s *Session) handleUser(body []byte) {
	msg, err := wire.DecodeServerMessage(body)
	if err != nil {
		s.logf("drop user message: %v", err)
		return
	}
	switch msg.Type {
	case wire.MsgJoinResponse:
		s.mu.Lock()
		if s.state == StateEvicted || s.state == StateLeaving {
			s.mu.Unlock()
			return
		}
		s.store.ReplaceSnapshot(msg.Snapshot)
		if s.metrics != nil {
			s.metrics.snapshotLoads.Inc()
		}
		s.state = StateJoined
		s.joinSent = false
		if s.joinTimer != nil {
			s.joinTimer.Stop()
			s.joinTimer = nil
		}
		cb := s.onJoined
		s.mu.Unlock()
		s.persistJournal()
		if cb != nil {
			cb()
		}
	case wire.MsgSaved:
		if msg.ClientID != s.clientID {
			return
		}
		s.mu.Lock()
		// Eviction is terminal; a save ack arriving afterwards must not
		// revive the session as leaving.
		if s.state == StateEvicted || s.state == StateLeaving {
			s.mu.Unlock()
			return
		}
		s.saving = false
		if s.saveTimer != nil {
			s.saveTimer.Stop()
			s.saveTimer = nil
		}
		s.state = StateLeaving
		cb := s.onSaved
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

// evict is the server removing this client. The state is terminal: no
// rejoin, no further edits.
func (s *Session) evict() {
	s.mu.Lock()
	s.state = StateEvicted
	s.saving = false
	s.stopTimersLocked()
	cb := s.onEvicted
	s.mu.Unlock()
	s.logf("evicted from edit session %s/%s", s.groupID, s.planID)
	if cb != nil {
		cb()
	}
}

func (s *Session) stopTimersLocked() {
	if s.joinTimer != nil {
		s.joinTimer.Stop()
		s.joinTimer = nil
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
}

// restoreJournal preloads the last journaled snapshot so the collection
// is readable before the first join-response; the authoritative snapshot
// replaces it on join.
func (s *Session) restoreJournal() {
	if s.journal == nil {
		return
	}
	record, err := s.journal.Load()
	if err != nil {
		s.logf("load journal: %v", err)
		return
	}
	if record == nil || record.GroupID != s.groupID || record.PlanID != s.planID {
		return
	}
	s.store.ReplaceSnapshot(record.Snapshot)
	s.logf("restored journaled snapshot from %s", record.UpdatedAt.Format(time.RFC3339))
}

func (s *Session) persistJournal() {
	if s.journal == nil {
		return
	}
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	record := &journal.Record{
		GroupID:   s.groupID,
		PlanID:    s.planID,
		ClientID:  s.clientID,
		Snapshot:  s.store.Export(),
		Pending:   s.store.PendingOps(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.journal.Save(record); err != nil {
		s.logf("save journal: %v", err)
	}
}

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
