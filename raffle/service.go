package raffle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dedis/raffle/apps/lottery"
	"github.com/dedis/raffle/bank"
	"github.com/dedis/raffle/easyrand"
	"github.com/dedis/raffle/keeper"
	"github.com/dedis/raffle/utils"
	"github.com/holiman/uint256"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

var raffleID onet.ServiceID
var storageKey = []byte("storage")

// ServiceName is the name of the raffle service
const ServiceName = "RaffleService"

// ConsumerName is the name the raffle uses as an easyrand consumer.
const ConsumerName = "raffle"

// PotAccount is the bank account holding the entry fees of the round.
const PotAccount = "raffle_pot"

var bankBucket = []byte("raffle_bank")

type storedState struct {
	Phase         int
	LastTimestamp int64
	Players       []string
	Balance       uint64
	Pending       uint64
	HasPending    bool
	RecentWinner  string
	HasWinner     bool
	Round         uint64
}

type storage struct {
	Roster *onet.Roster
	Config Config
	State  *storedState
	sync.Mutex
}

type Service struct {
	*onet.ServiceProcessor
	storage *storage
	bank    *bank.Bank

	// storeData writes the storage to the database of the node.
	storeData func(key []byte, value interface{}) error

	engineLock    sync.Mutex
	engine        *lottery.Engine
	rand          *easyrand.EasyRand
	stopKeeper    context.CancelFunc
	keeperStopped chan struct{}
}

func init() {
	var err error
	raffleID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
	network.RegisterMessages(&storage{}, &InitUnitRequest{}, &InitUnitReply{},
		&EnterRequest{}, &EnterReply{}, &CheckUpkeepRequest{},
		&CheckUpkeepReply{}, &PerformUpkeepRequest{}, &PerformUpkeepReply{},
		&GetStateRequest{}, &GetStateReply{}, &FundRequest{}, &FundReply{},
		&BalanceRequest{}, &BalanceReply{}, &RetryFulfillRequest{},
		&RetryFulfillReply{})
}

// GetServiceID returns the identifier of the registered service.
func GetServiceID() onet.ServiceID {
	return raffleID
}

// InitUnit creates the raffle of this node. The easyrand unit of the node
// must have run its DKG, and the subscription of the config must list
// ConsumerName.
func (s *Service) InitUnit(req *InitUnitRequest) (*InitUnitReply, error) {
	if req.Roster == nil {
		return nil, xerrors.New("missing roster")
	}
	if req.Config.Minter == nil {
		return nil, xerrors.New("missing minter key")
	}
	s.engineLock.Lock()
	defer s.engineLock.Unlock()
	s.storage.Lock()
	stored := s.storage.Roster != nil
	s.storage.Unlock()
	if s.engine != nil || stored {
		return nil, xerrors.New("raffle is already initialized")
	}
	if err := s.setup(req.Config, nil); err != nil {
		log.Errorf("%v: initializing raffle: %v", s.ServerIdentity(), err)
		return nil, err
	}
	s.storage.Lock()
	s.storage.Roster = req.Roster
	s.storage.Config = req.Config
	s.storage.Unlock()
	if err := s.save(s.engine); err != nil {
		return nil, err
	}
	log.Lvlf1("%v: raffle ready, entry fee %d, interval %v", s.ServerIdentity(),
		req.Config.EntryFee, req.Config.Interval)
	return &InitUnitReply{}, nil
}

func (s *Service) Enter(req *EnterRequest) (*EnterReply, error) {
	e, err := s.getEngine()
	if err != nil {
		return nil, err
	}
	round := e.Round()
	if err := utils.VerifyEntry(req.Key, req.Amount, round, req.Nonce, req.Sig); err != nil {
		log.Errorf("%v: rejected entry: %v", s.ServerIdentity(), err)
		return nil, err
	}
	player := req.Key.String()
	if err := s.bank.UseNonce(player, req.Nonce); err != nil {
		log.Errorf("%v: rejected entry: %v", s.ServerIdentity(), err)
		return nil, err
	}
	if err := e.Enter(lottery.Participant(player), req.Amount); err != nil {
		log.Errorf("%v: rejected entry: %v", s.ServerIdentity(), err)
		return nil, err
	}
	return &EnterReply{Round: round, NumPlayers: e.NumPlayers()}, nil
}

func (s *Service) CheckUpkeep(req *CheckUpkeepRequest) (*CheckUpkeepReply, error) {
	e, err := s.getEngine()
	if err != nil {
		return nil, err
	}
	st := e.Upkeep()
	return &CheckUpkeepReply{
		Needed:     st.Needed(),
		Open:       st.Open,
		TimePassed: st.TimePassed,
		HasBalance: st.HasBalance,
		HasPlayers: st.HasPlayers,
	}, nil
}

func (s *Service) PerformUpkeep(req *PerformUpkeepRequest) (*PerformUpkeepReply, error) {
	e, err := s.getEngine()
	if err != nil {
		return nil, err
	}
	id, err := e.PerformUpkeep()
	if err != nil {
		log.Lvlf2("%v: perform upkeep: %v", s.ServerIdentity(), err)
		return nil, err
	}
	return &PerformUpkeepReply{RequestID: uint64(id)}, nil
}

func (s *Service) GetState(req *GetStateRequest) (*GetStateReply, error) {
	e, err := s.getEngine()
	if err != nil {
		return nil, err
	}
	st := e.Snapshot()
	players := make([]string, len(st.Players))
	for i, p := range st.Players {
		players[i] = string(p)
	}
	return &GetStateReply{
		Phase:         st.Phase.String(),
		EntryFee:      e.EntryFee(),
		Interval:      e.Interval(),
		LastTimestamp: st.LastTimestamp.UnixNano(),
		Players:       players,
		Balance:       st.Balance,
		Pending:       uint64(st.Pending),
		HasPending:    st.HasPending,
		RecentWinner:  string(st.RecentWinner),
		HasWinner:     st.HasWinner,
		Round:         st.Round,
	}, nil
}

// Fund credits an account on the order of the minter of the raffle.
func (s *Service) Fund(req *FundRequest) (*FundReply, error) {
	s.storage.Lock()
	initialized, minter := s.storage.Roster != nil, s.storage.Config.Minter
	s.storage.Unlock()
	if !initialized {
		return nil, xerrors.New("raffle is not initialized")
	}
	if req.Account == PotAccount {
		return nil, xerrors.New("cannot fund the pot")
	}
	err := utils.VerifyFund(minter, req.Account, req.Amount, req.Nonce, req.Sig)
	if err != nil {
		log.Errorf("%v: funding %s: %v", s.ServerIdentity(), req.Account, err)
		return nil, err
	}
	if err := s.bank.UseNonce(minter.String(), req.Nonce); err != nil {
		log.Errorf("%v: funding %s: %v", s.ServerIdentity(), req.Account, err)
		return nil, err
	}
	if err := s.bank.Mint(req.Account, req.Amount); err != nil {
		log.Errorf("%v: funding %s: %v", s.ServerIdentity(), req.Account, err)
		return nil, err
	}
	bal, err := s.bank.Balance(req.Account)
	if err != nil {
		return nil, err
	}
	return &FundReply{Balance: bal}, nil
}

func (s *Service) Balance(req *BalanceRequest) (*BalanceReply, error) {
	acc, err := s.bank.Account(req.Account)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{Balance: acc.Balance, Frozen: acc.Frozen, Nonce: acc.Nonce}, nil
}

// RetryFulfill asks easyrand to deliver the pending request again, with the
// words it generated the first time.
func (s *Service) RetryFulfill(req *RetryFulfillRequest) (*RetryFulfillReply, error) {
	e, err := s.getEngine()
	if err != nil {
		return nil, err
	}
	id, ok := e.PendingRequest()
	if !ok {
		return nil, xerrors.New("no pending request")
	}
	_, err = s.rand.Fulfill(&easyrand.FulfillRequest{RequestID: uint64(id)})
	if err != nil {
		log.Errorf("%v: retrying request %d: %v", s.ServerIdentity(), id, err)
		return nil, err
	}
	winner, _ := e.RecentWinner()
	return &RetryFulfillReply{RequestID: uint64(id), Winner: string(winner)}, nil
}

// FulfillRandomWords implements easyrand.Consumer. The first word picks the
// winner. Deliveries for a request the engine does not wait for are dropped.
func (s *Service) FulfillRandomWords(id uint64, words [][]byte) error {
	if len(words) == 0 {
		return xerrors.New("no random words")
	}
	e, err := s.getEngine()
	if err != nil {
		return err
	}
	value := new(uint256.Int).SetBytes(words[0])
	err = e.Fulfill(lottery.RequestID(id), value)
	if xerrors.Is(err, lottery.ErrUnknownRequest) {
		log.Warnf("%v: dropping words of request %d: %v", s.ServerIdentity(), id, err)
		return nil
	}
	return err
}

func (s *Service) getEngine() (*lottery.Engine, error) {
	s.engineLock.Lock()
	defer s.engineLock.Unlock()
	if s.engine != nil {
		return s.engine, nil
	}
	s.storage.Lock()
	cfg, st := s.storage.Config, s.storage.State
	initialized := s.storage.Roster != nil
	s.storage.Unlock()
	if !initialized {
		return nil, xerrors.New("raffle is not initialized")
	}
	if err := s.setup(cfg, st); err != nil {
		log.Errorf("%v: restoring raffle: %v", s.ServerIdentity(), err)
		return nil, err
	}
	log.Lvl1(s.ServerIdentity(), "raffle restored from storage")
	return s.engine, nil
}

// setup needs engineLock.
func (s *Service) setup(cfg Config, st *storedState) error {
	s.rand = s.Service(easyrand.ServiceName).(*easyrand.EasyRand)
	e, err := lottery.New(lottery.Config{
		EntryFee: cfg.EntryFee,
		Interval: cfg.Interval,
		Params: lottery.RandomnessParams{
			KeyHash:          cfg.KeyHash,
			SubscriptionID:   cfg.SubscriptionID,
			Confirmations:    cfg.Confirmations,
			CallbackGasLimit: cfg.CallbackGasLimit,
			NumWords:         cfg.NumWords,
		},
	}, &randSource{rand: s.rand, consumer: ConsumerName},
		&bankVault{bank: s.bank, pot: PotAccount})
	if err != nil {
		return err
	}
	if st != nil {
		if err := e.Restore(st.toState()); err != nil {
			return err
		}
		potGauge.Set(float64(st.Balance))
		playersGauge.Set(float64(len(st.Players)))
	}
	e.AddListener(observe)
	e.AddListener(func(ev lottery.Event) {
		log.Lvlf3("%v: %s in round %d", s.ServerIdentity(), ev.Kind, ev.Round)
		if err := s.save(e); err != nil {
			log.Error(err)
		}
	})
	s.engine = e
	s.rand.RegisterConsumer(ConsumerName, s)

	if cfg.UpkeepPeriod > 0 {
		k, err := keeper.New(engineUpkeeper{e}, cfg.UpkeepPeriod)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.stopKeeper = cancel
		s.keeperStopped = make(chan struct{})
		go func() {
			defer close(s.keeperStopped)
			if err := k.Run(ctx); err != nil {
				log.Error(err)
			}
		}()
	}
	return nil
}

type engineUpkeeper struct {
	e *lottery.Engine
}

func (u engineUpkeeper) CheckUpkeep() (bool, error) {
	return u.e.CheckUpkeep(), nil
}

func (u engineUpkeeper) PerformUpkeep() (uint64, error) {
	id, err := u.e.PerformUpkeep()
	return uint64(id), err
}

func (s *Service) save(e *lottery.Engine) error {
	s.storage.Lock()
	defer s.storage.Unlock()
	s.storage.State = fromState(e.Snapshot())
	err := s.storeData(storageKey, s.storage)
	if err != nil {
		saveFailures.Inc()
		log.Errorf("Could not save data: %v", err)
		return err
	}
	return nil
}

func (s *Service) tryLoad() error {
	s.storage = &storage{}
	msg, err := s.Load(storageKey)
	if err != nil {
		log.Errorf("Load storage failed: %v", err)
		return err
	}
	if msg == nil {
		return nil
	}
	var ok bool
	s.storage, ok = msg.(*storage)
	if !ok {
		return fmt.Errorf("Store of wrong type")
	}
	return nil
}

// Close stops the keeper of the node and saves the raffle a last time, so
// that an earlier failed save does not survive a restart.
func (s *Service) Close() error {
	s.engineLock.Lock()
	cancel, stopped := s.stopKeeper, s.keeperStopped
	s.stopKeeper = nil
	e := s.engine
	s.engineLock.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-stopped:
		case <-time.After(time.Second):
		}
	}
	if e == nil {
		return nil
	}
	return s.save(e)
}

func fromState(st lottery.State) *storedState {
	players := make([]string, len(st.Players))
	for i, p := range st.Players {
		players[i] = string(p)
	}
	return &storedState{
		Phase:         int(st.Phase),
		LastTimestamp: st.LastTimestamp.UnixNano(),
		Players:       players,
		Balance:       st.Balance,
		Pending:       uint64(st.Pending),
		HasPending:    st.HasPending,
		RecentWinner:  string(st.RecentWinner),
		HasWinner:     st.HasWinner,
		Round:         st.Round,
	}
}

func (st *storedState) toState() lottery.State {
	players := make([]lottery.Participant, len(st.Players))
	for i, p := range st.Players {
		players[i] = lottery.Participant(p)
	}
	return lottery.State{
		Phase:         lottery.Phase(st.Phase),
		LastTimestamp: time.Unix(0, st.LastTimestamp),
		Players:       players,
		Balance:       st.Balance,
		Pending:       lottery.RequestID(st.Pending),
		HasPending:    st.HasPending,
		RecentWinner:  lottery.Participant(st.RecentWinner),
		HasWinner:     st.HasWinner,
		Round:         st.Round,
	}
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
	}
	s.storeData = s.Save
	db, bucket := s.GetAdditionalBucket(bankBucket)
	b, err := bank.New(db, bucket)
	if err != nil {
		return nil, err
	}
	s.bank = b
	if err := s.RegisterHandlers(s.InitUnit, s.Enter, s.CheckUpkeep,
		s.PerformUpkeep, s.GetState, s.Fund, s.Balance, s.RetryFulfill); err != nil {
		log.Errorf("couldn't register handlers: %v", err)
		return nil, err
	}
	if err := s.tryLoad(); err != nil {
		log.Error(err)
		return nil, err
	}
	return s, nil
}
