package raffle

import (
	"testing"
	"time"

	"github.com/dedis/raffle/apps/lottery"
	"github.com/dedis/raffle/bank"
	"github.com/dedis/raffle/easyrand"
	"github.com/dedis/raffle/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

const testFee = 10

type testUnit struct {
	local   *onet.LocalTest
	roster  *onet.Roster
	service *Service
	cfg     Config
	minter  *key.Pair
}

func newTestUnit(t *testing.T, auto bool, upkeep time.Duration) *testUnit {
	local := onet.NewTCPTest(cothority.Suite)
	hosts, roster, _ := local.GenTree(4, true)

	randSvcs := local.GetServices(hosts, easyrand.GetServiceID())
	for _, s := range randSvcs {
		_, err := s.(*easyrand.EasyRand).InitUnit(&easyrand.InitUnitRequest{
			Roster:      roster,
			AutoFulfill: auto,
			Timeout:     5 * time.Second,
		})
		require.NoError(t, err)
	}
	randRoot := randSvcs[0].(*easyrand.EasyRand)
	dkgReply, err := randRoot.InitDKG(&easyrand.InitDKGRequest{Timeout: 5})
	require.NoError(t, err)
	// wait for DKG to finish on all
	time.Sleep(time.Second / 2)
	sub, err := randRoot.CreateSubscription(&easyrand.CreateSubscriptionRequest{})
	require.NoError(t, err)
	_, err = randRoot.AddConsumer(&easyrand.AddConsumerRequest{SubID: sub.SubID,
		Consumer: ConsumerName})
	require.NoError(t, err)

	minter := key.NewKeyPair(cothority.Suite)
	cfg := Config{
		EntryFee:         testFee,
		KeyHash:          dkgReply.KeyHash,
		SubscriptionID:   sub.SubID,
		Confirmations:    1,
		CallbackGasLimit: 500000,
		NumWords:         1,
		UpkeepPeriod:     upkeep,
		Minter:           minter.Public,
	}
	svc := local.GetServices(hosts, raffleID)[0].(*Service)
	_, err = svc.InitUnit(&InitUnitRequest{Roster: roster, Config: cfg})
	require.NoError(t, err)
	return &testUnit{local: local, roster: roster, service: svc, cfg: cfg,
		minter: minter}
}

func (u *testUnit) close() {
	u.service.Close()
	u.local.CloseAll()
}

func (u *testUnit) nextNonce(t *testing.T, account string) uint64 {
	reply, err := u.service.Balance(&BalanceRequest{Account: account})
	require.NoError(t, err)
	return reply.Nonce + 1
}

func (u *testUnit) fundRequest(t *testing.T, account string, amount uint64) *FundRequest {
	nonce := u.nextNonce(t, u.minter.Public.String())
	sig, err := utils.SignFund(u.minter.Private, u.minter.Public, account, amount, nonce)
	require.NoError(t, err)
	return &FundRequest{Account: account, Amount: amount, Nonce: nonce, Sig: sig}
}

func (u *testUnit) newPlayer(t *testing.T, funds uint64) *key.Pair {
	kp := key.NewKeyPair(cothority.Suite)
	_, err := u.service.Fund(u.fundRequest(t, kp.Public.String(), funds))
	require.NoError(t, err)
	return kp
}

func (u *testUnit) entryRequest(kp *key.Pair, amount uint64) (*EnterRequest, error) {
	st, err := u.service.GetState(&GetStateRequest{})
	if err != nil {
		return nil, err
	}
	acc, err := u.service.Balance(&BalanceRequest{Account: kp.Public.String()})
	if err != nil {
		return nil, err
	}
	nonce := acc.Nonce + 1
	sig, err := utils.SignEntry(kp.Private, kp.Public, amount, st.Round, nonce)
	if err != nil {
		return nil, err
	}
	return &EnterRequest{Key: kp.Public, Amount: amount, Nonce: nonce, Sig: sig}, nil
}

func (u *testUnit) enter(kp *key.Pair, amount uint64) (*EnterReply, error) {
	req, err := u.entryRequest(kp, amount)
	if err != nil {
		return nil, err
	}
	return u.service.Enter(req)
}

func (u *testUnit) balance(t *testing.T, account string) uint64 {
	reply, err := u.service.Balance(&BalanceRequest{Account: account})
	require.NoError(t, err)
	return reply.Balance
}

func (u *testUnit) waitWinner(t *testing.T, round uint64) *GetStateReply {
	var st *GetStateReply
	require.Eventually(t, func() bool {
		var err error
		st, err = u.service.GetState(&GetStateRequest{})
		require.NoError(t, err)
		return st.Round == round
	}, 10*time.Second, 50*time.Millisecond)
	return st
}

func TestService_Round(t *testing.T) {
	u := newTestUnit(t, true, 0)
	defer u.close()

	players := make([]*key.Pair, 3)
	for i := range players {
		players[i] = u.newPlayer(t, 100)
		reply, err := u.enter(players[i], testFee)
		require.NoError(t, err)
		require.Equal(t, i+1, reply.NumPlayers)
	}
	require.Equal(t, uint64(3*testFee), u.balance(t, PotAccount))

	check, err := u.service.CheckUpkeep(&CheckUpkeepRequest{})
	require.NoError(t, err)
	require.True(t, check.Needed)

	perf, err := u.service.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), perf.RequestID)

	st := u.waitWinner(t, 1)
	require.True(t, st.HasWinner)
	require.False(t, st.HasPending)
	require.Equal(t, lottery.Open.String(), st.Phase)
	require.Empty(t, st.Players)
	require.Equal(t, uint64(0), st.Balance)
	require.Equal(t, uint64(0), u.balance(t, PotAccount))

	for _, p := range players {
		bal := u.balance(t, p.Public.String())
		if p.Public.String() == st.RecentWinner {
			require.Equal(t, uint64(100-testFee+3*testFee), bal)
		} else {
			require.Equal(t, uint64(100-testFee), bal)
		}
	}

	// the second round needs a signature on the new round number
	_, err = u.enter(players[0], testFee)
	require.NoError(t, err)
}

func TestService_EnterRejected(t *testing.T) {
	u := newTestUnit(t, false, 0)
	defer u.close()

	kp := u.newPlayer(t, 15)
	_, err := u.enter(kp, testFee-1)
	require.True(t, xerrors.Is(err, lottery.ErrInsufficientFee))

	sig, err := utils.SignEntry(kp.Private, kp.Public, testFee, 1, u.nextNonce(t, kp.Public.String()))
	require.NoError(t, err)
	_, err = u.service.Enter(&EnterRequest{Key: kp.Public, Amount: testFee,
		Nonce: u.nextNonce(t, kp.Public.String()), Sig: sig})
	require.Error(t, err)

	_, err = u.enter(kp, testFee)
	require.NoError(t, err)
	// 5 left in the account
	_, err = u.enter(kp, testFee)
	require.True(t, xerrors.Is(err, lottery.ErrDepositFailed))

	check, err := u.service.CheckUpkeep(&CheckUpkeepRequest{})
	require.NoError(t, err)
	require.True(t, check.Needed)
	_, err = u.service.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)
	_, err = u.enter(kp, 5)
	require.Error(t, err)
	_, err = u.service.PerformUpkeep(&PerformUpkeepRequest{})
	require.True(t, xerrors.Is(err, lottery.ErrUpkeepNotNeeded))

	_, err = u.service.InitUnit(&InitUnitRequest{Roster: u.roster, Config: u.cfg})
	require.Error(t, err)
}

func TestService_RetryFulfill(t *testing.T) {
	u := newTestUnit(t, false, 0)
	defer u.close()

	_, err := u.service.RetryFulfill(&RetryFulfillRequest{})
	require.Error(t, err)

	players := []*key.Pair{u.newPlayer(t, 50), u.newPlayer(t, 50)}
	for _, p := range players {
		_, err := u.enter(p, testFee)
		require.NoError(t, err)
		require.NoError(t, u.service.bank.Freeze(p.Public.String(), true))
	}
	perf, err := u.service.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)

	_, err = u.service.RetryFulfill(&RetryFulfillRequest{})
	require.Error(t, err)
	st, err := u.service.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, lottery.Calculating.String(), st.Phase)
	require.True(t, st.HasPending)
	require.Equal(t, perf.RequestID, st.Pending)
	require.Len(t, st.Players, 2)
	require.Equal(t, uint64(2*testFee), u.balance(t, PotAccount))

	for _, p := range players {
		require.NoError(t, u.service.bank.Freeze(p.Public.String(), false))
	}
	reply, err := u.service.RetryFulfill(&RetryFulfillRequest{})
	require.NoError(t, err)
	require.Equal(t, perf.RequestID, reply.RequestID)
	require.Equal(t, uint64(50-testFee+2*testFee), u.balance(t, reply.Winner))
	require.Equal(t, uint64(0), u.balance(t, PotAccount))

	_, err = u.service.RetryFulfill(&RetryFulfillRequest{})
	require.Error(t, err)
}

func TestService_Keeper(t *testing.T) {
	u := newTestUnit(t, true, 100*time.Millisecond)
	defer u.close()

	kp := u.newPlayer(t, 100)
	_, err := u.enter(kp, testFee)
	require.NoError(t, err)
	st := u.waitWinner(t, 1)
	require.Equal(t, kp.Public.String(), st.RecentWinner)
	require.Equal(t, uint64(100), u.balance(t, kp.Public.String()))
}

func TestService_NotInitialized(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	defer local.CloseAll()
	hosts, _, _ := local.GenTree(1, true)
	svc := local.GetServices(hosts, raffleID)[0].(*Service)

	_, err := svc.GetState(&GetStateRequest{})
	require.Error(t, err)
	_, err = svc.InitUnit(&InitUnitRequest{})
	require.Error(t, err)
	_, err = svc.Fund(&FundRequest{Account: "alice", Amount: 3})
	require.Error(t, err)
	reply, err := svc.Balance(&BalanceRequest{Account: "alice"})
	require.NoError(t, err)
	require.Equal(t, uint64(0), reply.Balance)
}

func TestService_EnterReplay(t *testing.T) {
	u := newTestUnit(t, false, 0)
	defer u.close()

	kp := u.newPlayer(t, 100)
	req, err := u.entryRequest(kp, testFee)
	require.NoError(t, err)
	_, err = u.service.Enter(req)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = u.service.Enter(req)
		require.True(t, xerrors.Is(err, bank.ErrNonce))
	}
	require.Equal(t, uint64(100-testFee), u.balance(t, kp.Public.String()))
	st, err := u.service.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Len(t, st.Players, 1)

	// a new signature with the next nonce enters again
	_, err = u.enter(kp, testFee)
	require.NoError(t, err)
	require.Equal(t, uint64(100-2*testFee), u.balance(t, kp.Public.String()))
}

func TestService_Fund(t *testing.T) {
	u := newTestUnit(t, false, 0)
	defer u.close()

	req := u.fundRequest(t, "alice", 30)
	reply, err := u.service.Fund(req)
	require.NoError(t, err)
	require.Equal(t, uint64(30), reply.Balance)
	_, err = u.service.Fund(req)
	require.True(t, xerrors.Is(err, bank.ErrNonce))
	require.Equal(t, uint64(30), u.balance(t, "alice"))

	nonce := u.nextNonce(t, u.minter.Public.String())
	_, err = u.service.Fund(&FundRequest{Account: "alice", Amount: 30, Nonce: nonce})
	require.Error(t, err)
	other := key.NewKeyPair(cothority.Suite)
	sig, err := utils.SignFund(other.Private, other.Public, "alice", 30, nonce)
	require.NoError(t, err)
	_, err = u.service.Fund(&FundRequest{Account: "alice", Amount: 30, Nonce: nonce,
		Sig: sig})
	require.Error(t, err)
	_, err = u.service.Fund(u.fundRequest(t, PotAccount, 1))
	require.Error(t, err)
	require.Equal(t, uint64(30), u.balance(t, "alice"))

	_, err = u.service.Fund(u.fundRequest(t, "alice", 5))
	require.NoError(t, err)
	require.Equal(t, uint64(35), u.balance(t, "alice"))
}

func TestService_SaveFailure(t *testing.T) {
	u := newTestUnit(t, false, 0)
	defer u.close()

	failures := testutil.ToFloat64(saveFailures)
	u.service.storeData = func([]byte, interface{}) error {
		return xerrors.New("disk full")
	}
	kp := u.newPlayer(t, 100)
	_, err := u.enter(kp, testFee)
	require.NoError(t, err)
	require.Equal(t, failures+1, testutil.ToFloat64(saveFailures))

	u.service.storeData = u.service.Save
	require.NoError(t, u.service.Close())
	msg, err := u.service.Load(storageKey)
	require.NoError(t, err)
	stored := msg.(*storage)
	require.Len(t, stored.State.Players, 1)
	require.Equal(t, uint64(testFee), stored.State.Balance)
}

func TestStoredState(t *testing.T) {
	now := time.Unix(1700000000, 42)
	st := lottery.State{
		Phase:         lottery.Calculating,
		LastTimestamp: now,
		Players:       []lottery.Participant{"a", "b"},
		Balance:       20,
		Pending:       7,
		HasPending:    true,
		RecentWinner:  "c",
		HasWinner:     true,
		Round:         3,
	}
	got := fromState(st).toState()
	require.True(t, now.Equal(got.LastTimestamp))
	got.LastTimestamp = st.LastTimestamp
	require.Equal(t, st, got)
}
