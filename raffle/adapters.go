package raffle

import (
	"github.com/dedis/raffle/apps/lottery"
	"github.com/dedis/raffle/bank"
	"github.com/dedis/raffle/easyrand"
	"github.com/dedis/raffle/easyrand/base"
)

// bankVault keeps the pot of the engine in a bank account.
type bankVault struct {
	bank *bank.Bank
	pot  string
}

func (v *bankVault) Deposit(from lottery.Participant, amount uint64) error {
	return v.bank.Transfer(string(from), v.pot, amount)
}

func (v *bankVault) Payout(to lottery.Participant, amount uint64) error {
	return v.bank.Transfer(v.pot, string(to), amount)
}

// randSource requests the words of a round from the easyrand service of the
// node.
type randSource struct {
	rand     *easyrand.EasyRand
	consumer string
}

func (r *randSource) RequestRandomness(p lottery.RandomnessParams) (lottery.RequestID, error) {
	id, err := r.rand.RequestRandomWords(r.consumer, base.RandomnessParams{
		KeyHash:          p.KeyHash,
		SubscriptionID:   p.SubscriptionID,
		Confirmations:    p.Confirmations,
		CallbackGasLimit: p.CallbackGasLimit,
		NumWords:         p.NumWords,
	})
	return lottery.RequestID(id), err
}
