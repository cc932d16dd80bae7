package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dedis/raffle/easyrand"
	"github.com/dedis/raffle/raffle"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/simul/monitor"
	"golang.org/x/xerrors"
)

type SimulationService struct {
	onet.SimulationBFTree
	NumParticipants int
	SlotFactor      int
	SlotTime        int
	Seed            int64
	EntryFee        uint64
	Confirmations   uint32

	randCl *easyrand.Client
	cl     *raffle.Client
	minter *key.Pair
}

func init() {
	onet.SimulationRegister("Raffle", NewRaffleSimulation)
}

func NewRaffleSimulation(config string) (onet.Simulation, error) {
	ss := &SimulationService{}
	_, err := toml.Decode(config, ss)
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *SimulationService) Setup(dir string,
	hosts []string) (*onet.SimulationConfig, error) {
	sc := &onet.SimulationConfig{}
	s.CreateRoster(sc, hosts, 2000)
	err := s.CreateTree(sc)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SimulationService) Node(config *onet.SimulationConfig) error {
	index, _ := config.Roster.Search(config.Server.ServerIdentity.GetID())
	if index < 0 {
		log.Fatal("Didn't find this node in roster")
	}
	log.Lvl3("Initializing node-index", index)
	return s.SimulationBFTree.Node(config)
}

func (s *SimulationService) initUnits(roster *onet.Roster) error {
	s.randCl = easyrand.NewClient(roster)
	_, err := s.randCl.InitUnit(&easyrand.InitUnitRequest{
		Roster:      roster,
		AutoFulfill: true,
	})
	if err != nil {
		log.Errorf("initializing randomness unit: %v", err)
		return err
	}
	dkgMonitor := monitor.NewTimeMeasure("dkg")
	dkg, err := s.randCl.InitDKG(20)
	if err != nil {
		log.Errorf("initializing DKG: %v", err)
		return err
	}
	dkgMonitor.Record()
	sub, err := s.randCl.CreateSubscription()
	if err != nil {
		return err
	}
	if _, err := s.randCl.AddConsumer(sub.SubID, raffle.ConsumerName); err != nil {
		return err
	}
	s.cl = raffle.NewClient(roster)
	s.minter = key.NewKeyPair(cothority.Suite)
	_, err = s.cl.InitUnit(raffle.Config{
		EntryFee:         s.EntryFee,
		KeyHash:          dkg.KeyHash,
		SubscriptionID:   sub.SubID,
		Confirmations:    s.Confirmations,
		CallbackGasLimit: 500000,
		NumWords:         1,
		Minter:           s.minter.Public,
	})
	if err != nil {
		log.Errorf("initializing raffle: %v", err)
	}
	return err
}

// generateSchedule spreads the participants over the slots of a round.
func (s *SimulationService) generateSchedule() []int {
	numSlots := s.NumParticipants * s.SlotFactor
	if numSlots < 1 {
		numSlots = 1
	}
	r := rand.New(rand.NewSource(s.Seed))
	slots := make([]int, numSlots)
	for i := 0; i < s.NumParticipants; i++ {
		slots[r.Intn(numSlots)]++
	}
	return slots
}

func (s *SimulationService) executeEnter(kp *key.Pair, idx int) error {
	cl := raffle.NewClient(s.cl.Roster())
	defer cl.Close()
	enterMonitor := monitor.NewTimeMeasure(fmt.Sprintf("p%d_enter", idx))
	_, err := cl.Enter(kp, s.EntryFee)
	if err != nil {
		log.Errorf("entering: %v", err)
		return err
	}
	enterMonitor.Record()
	return nil
}

func (s *SimulationService) executeRound(round uint64, players []*key.Pair) error {
	schedule := s.generateSchedule()
	var wg sync.WaitGroup
	var errLock sync.Mutex
	var enterErr error
	ctr := 0
	for _, count := range schedule {
		wg.Add(count)
		for j := 0; j < count; j++ {
			go func(idx int) {
				defer wg.Done()
				if err := s.executeEnter(players[idx], idx); err != nil {
					errLock.Lock()
					enterErr = err
					errLock.Unlock()
				}
			}(ctr)
			ctr++
		}
		time.Sleep(time.Duration(s.SlotTime) * time.Millisecond)
	}
	wg.Wait()
	if enterErr != nil {
		return enterErr
	}

	closeMonitor := monitor.NewTimeMeasure("close")
	if _, err := s.cl.PerformUpkeep(); err != nil {
		log.Errorf("closing round: %v", err)
		return err
	}
	closeMonitor.Record()

	fulfillMonitor := monitor.NewTimeMeasure("fulfill")
	for i := 0; i < 100; i++ {
		st, err := s.cl.GetState()
		if err != nil {
			return err
		}
		if st.Round > round {
			fulfillMonitor.Record()
			log.Lvlf1("round %d won by %s", round, st.RecentWinner)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return xerrors.Errorf("round %d was not fulfilled", round)
}

func (s *SimulationService) Run(config *onet.SimulationConfig) error {
	if err := s.initUnits(config.Roster); err != nil {
		return err
	}
	players := make([]*key.Pair, s.NumParticipants)
	for i := range players {
		players[i] = key.NewKeyPair(cothority.Suite)
		_, err := s.cl.Fund(s.minter, players[i].Public.String(), s.EntryFee*uint64(s.Rounds))
		if err != nil {
			return err
		}
	}
	for round := 0; round < s.Rounds; round++ {
		log.Lvl1("Starting round", round)
		roundMonitor := monitor.NewTimeMeasure("round")
		if err := s.executeRound(uint64(round), players); err != nil {
			return err
		}
		roundMonitor.Record()
	}
	return nil
}
