package lottery_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/dedis/raffle/apps/lottery"
	"github.com/dedis/raffle/bank"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

type bankVault struct {
	b *bank.Bank
}

func (v bankVault) Deposit(from lottery.Participant, amount uint64) error {
	return v.b.Transfer(string(from), "pot", amount)
}

func (v bankVault) Payout(to lottery.Participant, amount uint64) error {
	return v.b.Transfer("pot", string(to), amount)
}

type seqSource struct {
	next lottery.RequestID
}

func (s *seqSource) RequestRandomness(lottery.RandomnessParams) (lottery.RequestID, error) {
	s.next++
	return s.next, nil
}

// Money only moves between player accounts and the pot, and the pot is empty
// after every round.
func TestEngine_BankConservation(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "bank.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()
	b, err := bank.New(db, []byte("accounts"))
	require.NoError(t, err)

	players := make([]lottery.Participant, 5)
	for i := range players {
		players[i] = lottery.Participant(fmt.Sprintf("player%d", i))
		require.NoError(t, b.Mint(string(players[i]), 1000))
	}

	now := time.Unix(0, 0)
	src := &seqSource{}
	eng, err := lottery.New(lottery.Config{EntryFee: 10, Interval: time.Minute},
		src, bankVault{b}, lottery.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for round := 0; round < 20; round++ {
		for i, p := range players[:round%len(players)+1] {
			require.NoError(t, eng.Enter(p, uint64(10+i)))
		}
		now = now.Add(time.Minute)
		id, err := eng.PerformUpkeep()
		require.NoError(t, err)
		require.NoError(t, eng.Fulfill(id, uint256.NewInt(uint64(round*7))))

		pot, err := b.Balance("pot")
		require.NoError(t, err)
		require.Equal(t, uint64(0), pot)
		total := uint64(0)
		for _, p := range players {
			bal, err := b.Balance(string(p))
			require.NoError(t, err)
			total += bal
		}
		require.Equal(t, uint64(5000), total)
	}
	require.Equal(t, uint64(20), eng.Round())
}

func TestEngine_FrozenWinner(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "bank.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()
	b, err := bank.New(db, []byte("accounts"))
	require.NoError(t, err)
	require.NoError(t, b.Mint("alice", 10))

	now := time.Unix(0, 0)
	eng, err := lottery.New(lottery.Config{EntryFee: 10, Interval: time.Second},
		&seqSource{}, bankVault{b}, lottery.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	require.NoError(t, eng.Enter("alice", 10))
	now = now.Add(time.Second)
	id, err := eng.PerformUpkeep()
	require.NoError(t, err)

	require.NoError(t, b.Freeze("alice", true))
	err = eng.Fulfill(id, uint256.NewInt(3))
	require.True(t, xerrors.Is(err, lottery.ErrPayoutFailed))
	require.Equal(t, lottery.Calculating, eng.Phase())
	require.Equal(t, uint64(10), eng.Balance())

	require.NoError(t, b.Freeze("alice", false))
	require.NoError(t, eng.Fulfill(id, uint256.NewInt(3)))
	bal, err := b.Balance("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(10), bal)
}
