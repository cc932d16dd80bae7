package easyrand

import (
	"time"

	"go.dedis.ch/onet/v3"
)

type InitUnitRequest struct {
	Roster *onet.Roster
	// Zero values fall back to base.MaxCallbackGasLimit and base.MaxNumWords.
	MaxGasLimit uint32
	MaxNumWords uint32
	// AutoFulfill answers every request as soon as it is accepted.
	AutoFulfill bool
	Timeout     time.Duration
}

type InitUnitReply struct{}

type InitDKGRequest struct {
	// Timeout in seconds waiting for the DKG, 5 when zero.
	Timeout int
}

// InitDKGReply is the response of DKG.
type InitDKGReply struct {
	Public  []byte
	KeyHash []byte
}

// RandomnessRequest is a request to get the public randomness.
type RandomnessRequest struct{}

// RandomnessReply is the returned public randomness.
type RandomnessReply struct {
	Round uint64
	Prev  []byte
	Value []byte
}

type CreateSubscriptionRequest struct{}

type CreateSubscriptionReply struct {
	SubID uint64
}

type AddConsumerRequest struct {
	SubID    uint64
	Consumer string
}

type AddConsumerReply struct{}

// FulfillRequest generates (or reuses) the randomness of a pending request
// and delivers it to the consumer.
type FulfillRequest struct {
	RequestID uint64
}

type FulfillReply struct {
	RequestID uint64
	Round     uint64
	Prev      []byte
	Value     []byte
	Words     [][]byte
}
