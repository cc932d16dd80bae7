package lottery

import (
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Engine runs one raffle: it collects entries while the round is open, closes
// the round by requesting randomness and pays the whole pot to the winner
// once the randomness for the pending request arrives.
type Engine struct {
	cfg    Config
	source RandomnessSource
	vault  Vault
	now    func() time.Time

	mu           sync.Mutex
	phase        Phase
	lastTS       time.Time
	players      []Participant
	balance      uint64
	pending      RequestID
	hasPending   bool
	recentWinner Participant
	hasWinner    bool
	round        uint64

	lmu       sync.Mutex
	listeners []func(Event)
}

// Option changes how an Engine is built.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an open engine whose first round starts now.
func New(cfg Config, src RandomnessSource, vault Vault, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, xerrors.New("missing randomness source")
	}
	if vault == nil {
		return nil, xerrors.New("missing vault")
	}
	if cfg.Interval < 0 {
		return nil, xerrors.Errorf("negative round interval: %v", cfg.Interval)
	}
	e := &Engine{
		cfg:    cfg,
		source: src,
		vault:  vault,
		now:    time.Now,
		phase:  Open,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lastTS = e.now()
	return e, nil
}

// AddListener registers fn for every event emitted after this call. Listeners
// run on the goroutine of the operation that emitted the event, after the
// engine state is unlocked.
func (e *Engine) AddListener(fn func(Event)) {
	e.lmu.Lock()
	e.listeners = append(e.listeners, fn)
	e.lmu.Unlock()
}

func (e *Engine) emit(ev Event) {
	e.lmu.Lock()
	ls := make([]func(Event), len(e.listeners))
	copy(ls, e.listeners)
	e.lmu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}

// Enter records an entry of amount for p and collects the amount through the
// vault.
func (e *Engine) Enter(p Participant, amount uint64) error {
	ev, err := e.enter(p, amount)
	if err != nil {
		return err
	}
	e.emit(ev)
	return nil
}

func (e *Engine) enter(p Participant, amount uint64) (Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount < e.cfg.EntryFee {
		return Event{}, xerrors.Errorf("sent %d, need %d: %w", amount,
			e.cfg.EntryFee, ErrInsufficientFee)
	}
	if e.phase != Open {
		return Event{}, xerrors.Errorf("phase is %s: %w", e.phase, ErrRoundNotOpen)
	}
	if len(p) == 0 {
		return Event{}, xerrors.New("missing participant")
	}
	if e.balance+amount < e.balance {
		return Event{}, xerrors.New("pot balance overflow")
	}
	if err := e.vault.Deposit(p, amount); err != nil {
		return Event{}, xerrors.Errorf("collecting %d from %s: %v: %w", amount, p,
			err, ErrDepositFailed)
	}
	e.players = append(e.players, p)
	e.balance += amount
	log.Lvlf3("%s entered round %d with %d", p, e.round, amount)
	return Event{
		Kind:        EntryRecorded,
		Participant: p,
		Amount:      amount,
		Round:       e.round,
		Time:        e.now(),
	}, nil
}

// Player returns the participant at index in entry order.
func (e *Engine) Player(index int) (Participant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.player(index)
}

func (e *Engine) player(index int) (Participant, error) {
	if index < 0 || index >= len(e.players) {
		return "", xerrors.Errorf("index %d with %d players: %w", index,
			len(e.players), ErrIndexOutOfRange)
	}
	return e.players[index], nil
}

// NumPlayers returns the number of entries in the current round.
func (e *Engine) NumPlayers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

func (e *Engine) reset(now time.Time) {
	e.players = nil
	e.balance = 0
	if now.After(e.lastTS) {
		e.lastTS = now
	}
}

// Upkeep evaluates the close conditions without changing anything.
func (e *Engine) Upkeep() UpkeepStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upkeep(e.now())
}

// CheckUpkeep reports whether PerformUpkeep would close the round now.
func (e *Engine) CheckUpkeep() bool {
	return e.Upkeep().Needed()
}

func (e *Engine) upkeep(now time.Time) UpkeepStatus {
	return UpkeepStatus{
		Open:       e.phase == Open,
		TimePassed: now.Sub(e.lastTS) >= e.cfg.Interval,
		HasBalance: e.balance > 0,
		HasPlayers: len(e.players) > 0,
	}
}

// PerformUpkeep closes the round and requests randomness for it. The upkeep
// conditions are evaluated again here, whatever the caller saw before.
func (e *Engine) PerformUpkeep() (RequestID, error) {
	ev, err := e.closeRound()
	if err != nil {
		return 0, err
	}
	e.emit(ev)
	return ev.RequestID, nil
}

func (e *Engine) closeRound() (Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if !e.upkeep(now).Needed() {
		return Event{}, xerrors.Errorf("balance=%d players=%d phase=%s: %w",
			e.balance, len(e.players), e.phase, ErrUpkeepNotNeeded)
	}
	id, err := e.source.RequestRandomness(e.cfg.Params)
	if err != nil {
		return Event{}, xerrors.Errorf("%v: %w", err, ErrRequestFailed)
	}
	e.phase = Calculating
	e.pending = id
	e.hasPending = true
	log.Lvlf2("round %d closed with %d players, request %d", e.round,
		len(e.players), id)
	return Event{
		Kind:      RoundClosed,
		RequestID: id,
		Amount:    e.balance,
		Round:     e.round,
		Time:      now,
	}, nil
}

// Fulfill consumes the random value delivered for id. The winner is the
// player at value mod NumPlayers and receives the whole pot. If the payout
// fails nothing changes and the same delivery may be retried.
func (e *Engine) Fulfill(id RequestID, value *uint256.Int) error {
	ev, err := e.fulfill(id, value)
	if err != nil {
		return err
	}
	e.emit(ev)
	return nil
}

func (e *Engine) fulfill(id RequestID, value *uint256.Int) (Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasPending || e.pending != id {
		return Event{}, xerrors.Errorf("request %d: %w", id, ErrUnknownRequest)
	}
	if value == nil {
		return Event{}, xerrors.New("missing random value")
	}
	n := len(e.players)
	if n == 0 {
		return Event{}, xerrors.Errorf("no players for request %d: %w", id,
			ErrIndexOutOfRange)
	}
	idx := new(uint256.Int).Mod(value, uint256.NewInt(uint64(n))).Uint64()
	winner, err := e.player(int(idx))
	if err != nil {
		return Event{}, err
	}
	prize := e.balance
	if err := e.vault.Payout(winner, prize); err != nil {
		log.Errorf("paying %d to %s: %v", prize, winner, err)
		return Event{}, xerrors.Errorf("paying %d to %s: %v: %w", prize, winner,
			err, ErrPayoutFailed)
	}
	now := e.now()
	e.pending = 0
	e.hasPending = false
	e.reset(now)
	e.phase = Open
	e.recentWinner = winner
	e.hasWinner = true
	ev := Event{
		Kind:        WinnerSelected,
		Participant: winner,
		Amount:      prize,
		RequestID:   id,
		Round:       e.round,
		Time:        now,
	}
	e.round++
	log.Lvlf2("round %d won by %s (index %d of %d), prize %d", ev.Round, winner,
		idx, n, prize)
	return ev, nil
}

// Config returns the immutable configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) EntryFee() uint64 {
	return e.cfg.EntryFee
}

func (e *Engine) Interval() time.Duration {
	return e.cfg.Interval
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) LastTimestamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTS
}

func (e *Engine) Balance() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// PendingRequest returns the outstanding request, if any.
func (e *Engine) PendingRequest() (RequestID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending, e.hasPending
}

// RecentWinner returns the winner of the last completed round, if any.
func (e *Engine) RecentWinner() (Participant, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recentWinner, e.hasWinner
}

// Round returns the number of completed rounds.
func (e *Engine) Round() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// Snapshot copies the mutable state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	players := make([]Participant, len(e.players))
	copy(players, e.players)
	return State{
		Phase:         e.phase,
		LastTimestamp: e.lastTS,
		Players:       players,
		Balance:       e.balance,
		Pending:       e.pending,
		HasPending:    e.hasPending,
		RecentWinner:  e.recentWinner,
		HasWinner:     e.hasWinner,
		Round:         e.round,
	}
}

// Restore replaces the mutable state with st, typically one loaded from
// storage after a restart.
func (e *Engine) Restore(st State) error {
	switch st.Phase {
	case Open:
		if st.HasPending {
			return xerrors.New("open round with a pending request")
		}
	case Calculating:
		if !st.HasPending {
			return xerrors.New("calculating round without a pending request")
		}
		if len(st.Players) == 0 {
			return xerrors.New("calculating round without players")
		}
	default:
		return xerrors.Errorf("invalid phase %d", st.Phase)
	}
	players := make([]Participant, len(st.Players))
	copy(players, st.Players)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = st.Phase
	e.lastTS = st.LastTimestamp
	e.players = players
	e.balance = st.Balance
	e.pending = st.Pending
	e.hasPending = st.HasPending
	e.recentWinner = st.RecentWinner
	e.hasWinner = st.HasWinner
	e.round = st.Round
	return nil
}
