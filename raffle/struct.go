package raffle

import (
	"time"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
)

// Config is the configuration of the raffle hosted by a node.
type Config struct {
	EntryFee         uint64
	Interval         time.Duration
	KeyHash          []byte
	SubscriptionID   uint64
	Confirmations    uint32
	CallbackGasLimit uint32
	NumWords         uint32
	// UpkeepPeriod starts a keeper inside the node when positive.
	UpkeepPeriod time.Duration
	// Minter is the key allowed to credit accounts.
	Minter kyber.Point
}

type InitUnitRequest struct {
	Roster *onet.Roster
	Config Config
}

type InitUnitReply struct{}

// EnterRequest pays Amount from the account of Key into the pot. Sig is a
// Schnorr signature on H(Key || Amount || Round || Nonce), Nonce being the
// next nonce of the account.
type EnterRequest struct {
	Key    kyber.Point
	Amount uint64
	Nonce  uint64
	Sig    []byte
}

type EnterReply struct {
	Round      uint64
	NumPlayers int
}

type CheckUpkeepRequest struct{}

type CheckUpkeepReply struct {
	Needed     bool
	Open       bool
	TimePassed bool
	HasBalance bool
	HasPlayers bool
}

type PerformUpkeepRequest struct{}

type PerformUpkeepReply struct {
	RequestID uint64
}

type GetStateRequest struct{}

type GetStateReply struct {
	Phase         string
	EntryFee      uint64
	Interval      time.Duration
	LastTimestamp int64
	Players       []string
	Balance       uint64
	Pending       uint64
	HasPending    bool
	RecentWinner  string
	HasWinner     bool
	Round         uint64
}

// FundRequest credits Amount to the bank account of a player. It is signed
// by the minter of the raffle with the next nonce of the minter account.
type FundRequest struct {
	Account string
	Amount  uint64
	Nonce   uint64
	Sig     []byte
}

type FundReply struct {
	Balance uint64
}

type BalanceRequest struct {
	Account string
}

type BalanceReply struct {
	Balance uint64
	Frozen  bool
	Nonce   uint64
}

// RetryFulfillRequest delivers again the randomness of the pending request.
type RetryFulfillRequest struct{}

type RetryFulfillReply struct {
	RequestID uint64
	Winner    string
}
