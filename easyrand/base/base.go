package base

import (
	"crypto/sha256"
	"encoding/binary"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/sign/bls"
	"golang.org/x/xerrors"
)

// Default coordinator limits.
const (
	MaxCallbackGasLimit uint32 = 2500000
	MaxNumWords         uint32 = 500
)

// RandomnessParams describes one request for random words.
type RandomnessParams struct {
	KeyHash          []byte
	SubscriptionID   uint64
	Confirmations    uint32
	CallbackGasLimit uint32
	NumWords         uint32
}

// RandomnessOutput is one round of the beacon.
type RandomnessOutput struct {
	Public kyber.Point
	Round  uint64
	Prev   []byte
	// Value is the collective signature. Use the hash of it!
	Value []byte
}

// Verify checks the collective signature of the round.
func (randOutput *RandomnessOutput) Verify(suite pairing.Suite) error {
	if randOutput.Public == nil {
		return xerrors.New("missing public key")
	}
	err := bls.Verify(suite, randOutput.Public, randOutput.Prev, randOutput.Value)
	if err != nil {
		return xerrors.Errorf("couldn't verify randomness: %v", err)
	}
	return nil
}

// DeriveWords expands the signature of a round into n 32-byte words:
// word i = H(value || i).
func DeriveWords(value []byte, n uint32) [][]byte {
	words := make([][]byte, n)
	b := make([]byte, 8)
	for i := uint32(0); i < n; i++ {
		h := sha256.New()
		h.Write(value)
		binary.LittleEndian.PutUint64(b, uint64(i))
		h.Write(b)
		words[i] = h.Sum(nil)
	}
	return words
}

// KeyHash identifies the collective key that answers requests.
func KeyHash(public kyber.Point) ([]byte, error) {
	buf, err := public.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal public key: %v", err)
	}
	h := sha256.Sum256(buf)
	return h[:], nil
}

func NextMessage(round uint64, prev []byte, genesis []byte) []byte {
	if round == 0 {
		return genesis
	}
	rBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(rBuf, round)
	return append(rBuf, prev...)
}
