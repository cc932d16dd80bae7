package lottery

import (
	"time"
)

// Phase is the state of the round controller.
type Phase int

const (
	// Open accepts entries.
	Open Phase = iota
	// Calculating waits for the randomness of the closed round.
	Calculating
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "OPEN"
	case Calculating:
		return "CALCULATING"
	default:
		return "UNKNOWN"
	}
}

// Participant identifies the account an entry belongs to and the winner is
// paid to.
type Participant string

// RequestID is the token returned by the randomness source for a closed round.
type RequestID uint64

// RandomnessParams is handed to the randomness source untouched.
type RandomnessParams struct {
	KeyHash          []byte
	SubscriptionID   uint64
	Confirmations    uint32
	CallbackGasLimit uint32
	NumWords         uint32
}

// Config is fixed when the engine is created.
type Config struct {
	EntryFee uint64
	Interval time.Duration
	Params   RandomnessParams
}

// RandomnessSource issues randomness requests. The value for an accepted
// request is delivered later through Engine.Fulfill; implementations must not
// call back into the engine from RequestRandomness itself.
type RandomnessSource interface {
	RequestRandomness(params RandomnessParams) (RequestID, error)
}

// Vault moves entry fees into the pot and pays the pot out. Both calls must
// either complete or leave balances untouched.
type Vault interface {
	Deposit(from Participant, amount uint64) error
	Payout(to Participant, amount uint64) error
}

// UpkeepStatus holds the four conditions that must all hold for a round to
// close.
type UpkeepStatus struct {
	Open       bool
	TimePassed bool
	HasBalance bool
	HasPlayers bool
}

// Needed reports whether the round may be closed.
func (u UpkeepStatus) Needed() bool {
	return u.Open && u.TimePassed && u.HasBalance && u.HasPlayers
}

// EventKind tells which notification an Event carries.
type EventKind int

const (
	EntryRecorded EventKind = iota
	RoundClosed
	WinnerSelected
)

func (k EventKind) String() string {
	switch k {
	case EntryRecorded:
		return "entry-recorded"
	case RoundClosed:
		return "round-closed"
	case WinnerSelected:
		return "winner-selected"
	default:
		return "unknown"
	}
}

// Event is emitted to listeners after an operation committed.
// Participant is the entrant for EntryRecorded and the winner for
// WinnerSelected. Amount is the entry amount or the prize.
type Event struct {
	Kind        EventKind
	Participant Participant
	Amount      uint64
	RequestID   RequestID
	Round       uint64
	Time        time.Time
}

// State is a copy of the mutable part of the engine.
type State struct {
	Phase         Phase
	LastTimestamp time.Time
	Players       []Participant
	Balance       uint64
	Pending       RequestID
	HasPending    bool
	RecentWinner  Participant
	HasWinner     bool
	Round         uint64
}
