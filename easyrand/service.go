package easyrand

/*
The service.go defines what to do for each API-call. This part of the service
runs on the node.
*/

import (
	"bytes"
	"sync"
	"time"

	"github.com/dedis/raffle/easyrand/base"
	"github.com/dedis/raffle/easyrand/protocol"
	dkgprotocol "go.dedis.ch/cothority/v3/dkg/pedersen"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	dkg "go.dedis.ch/kyber/v3/share/dkg/pedersen"
	vss "go.dedis.ch/kyber/v3/share/vss/pedersen"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

var serviceID onet.ServiceID
var suite = bn256.NewSuite()
var vssSuite = suite.G2().(vss.Suite)

const genesisMsg = "genesis_msg"
const defaultTimeout = 10 * time.Second

// ServiceName is the name of the easyrand service
const ServiceName = "easyrand"

func init() {
	var err error
	serviceID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
	network.RegisterMessages(&InitUnitRequest{}, &InitUnitReply{},
		&InitDKGRequest{}, &InitDKGReply{}, &RandomnessRequest{},
		&RandomnessReply{}, &CreateSubscriptionRequest{},
		&CreateSubscriptionReply{}, &AddConsumerRequest{}, &AddConsumerReply{},
		&FulfillRequest{}, &FulfillReply{})
}

// GetServiceID returns the identifier of the registered service.
func GetServiceID() onet.ServiceID {
	return serviceID
}

// EasyRand holds the internal state of the service.
type EasyRand struct {
	*onet.ServiceProcessor

	roster      *onet.Roster
	timeout     time.Duration
	autoFulfill bool
	keypair     *key.Pair

	keyLock      sync.Mutex
	distKeyStore *dkg.DistKeyShare
	pubPoly      *share.PubPoly

	// roundLock serialises beacon rounds started by this node.
	roundLock sync.Mutex
	blockLock sync.Mutex
	blocks    [][]byte

	coord *coordinator
}

func (s *EasyRand) InitUnit(req *InitUnitRequest) (*InitUnitReply, error) {
	if req.Roster == nil || len(req.Roster.List) == 0 {
		return nil, xerrors.New("missing roster")
	}
	s.roster = req.Roster
	s.autoFulfill = req.AutoFulfill
	if req.Timeout > 0 {
		s.timeout = req.Timeout
	}
	s.coord.setLimits(req.MaxGasLimit, req.MaxNumWords)
	return &InitUnitReply{}, nil
}

// InitDKG starts the DKG protocol.
func (s *EasyRand) InitDKG(req *InitDKGRequest) (*InitDKGReply, error) {
	if s.roster == nil {
		return nil, xerrors.New("unit is not initialized")
	}
	tree := s.roster.GenerateNaryTreeWithRoot(len(s.roster.List)-1, s.ServerIdentity())
	if tree == nil {
		log.Error("Cannot create tree with roster", s.roster.List)
		return nil, xerrors.New("error while generating tree")
	}
	pi, err := s.CreateProtocol(protocol.DKGProtoName, tree)
	if err != nil {
		log.Errorf("Create protocol error: %v", err)
		return nil, err
	}
	setup := pi.(*dkgprotocol.Setup)
	setup.Wait = true
	if err := pi.Start(); err != nil {
		return nil, err
	}
	timeout := 5 * time.Second
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	select {
	case <-setup.Finished:
		if err := s.storeShare(setup); err != nil {
			return nil, err
		}
	case <-time.After(timeout):
		return nil, xerrors.New("dkg did not finish")
	}
	s.keyLock.Lock()
	public := s.pubPoly.Commit()
	s.keyLock.Unlock()
	buf, err := public.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal public key: %v", err)
	}
	h, err := base.KeyHash(public)
	if err != nil {
		return nil, err
	}
	s.coord.setKeyHash(h)
	log.Lvlf2("%v: DKG done, key hash %x", s.ServerIdentity(), h)
	return &InitDKGReply{Public: buf, KeyHash: h}, nil
}

// Randomness runs one round of the beacon.
func (s *EasyRand) Randomness(req *RandomnessRequest) (*RandomnessReply, error) {
	out, err := s.nextRound()
	if err != nil {
		return nil, err
	}
	return &RandomnessReply{Round: out.Round, Prev: out.Prev, Value: out.Value}, nil
}

func (s *EasyRand) CreateSubscription(req *CreateSubscriptionRequest) (*CreateSubscriptionReply, error) {
	id := s.coord.createSubscription()
	log.Lvl2("created subscription", id)
	return &CreateSubscriptionReply{SubID: id}, nil
}

func (s *EasyRand) AddConsumer(req *AddConsumerRequest) (*AddConsumerReply, error) {
	if err := s.coord.addConsumer(req.SubID, req.Consumer); err != nil {
		return nil, err
	}
	return &AddConsumerReply{}, nil
}

// Fulfill delivers the random words of a pending request to its consumer.
func (s *EasyRand) Fulfill(req *FulfillRequest) (*FulfillReply, error) {
	return s.fulfill(req.RequestID)
}

// RegisterConsumer attaches the callback of a consumer living on this node.
func (s *EasyRand) RegisterConsumer(name string, c Consumer) {
	s.coord.register(name, c)
}

// RequestRandomWords records a request of consumer and returns its id. The
// words are delivered through the consumer callback, either right away on a
// separate goroutine when the unit auto-fulfills or on a Fulfill call.
func (s *EasyRand) RequestRandomWords(consumer string, p base.RandomnessParams) (uint64, error) {
	id, err := s.coord.request(consumer, p)
	if err != nil {
		return 0, err
	}
	log.Lvlf2("request %d from %s: %d words after %d confirmations", id,
		consumer, p.NumWords, p.Confirmations)
	if s.autoFulfill {
		go func() {
			if _, err := s.fulfill(id); err != nil {
				log.Errorf("fulfilling request %d: %v", id, err)
			}
		}()
	}
	return id, nil
}

func (s *EasyRand) fulfill(id uint64) (*FulfillReply, error) {
	req, cons, err := s.coord.claim(id)
	if err != nil {
		return nil, err
	}
	output, words := req.output, req.words
	if output == nil {
		confirmations := int(req.params.Confirmations)
		if confirmations < 1 {
			confirmations = 1
		}
		for i := 0; i < confirmations; i++ {
			output, err = s.nextRound()
			if err != nil {
				s.coord.release(id, nil, nil)
				return nil, xerrors.Errorf("generating randomness for request %d: %v",
					id, err)
			}
		}
		words = base.DeriveWords(output.Value, req.params.NumWords)
	}
	err = cons.FulfillRandomWords(id, words)
	if err != nil {
		s.coord.release(id, output, words)
		return nil, xerrors.Errorf("delivering request %d to %s: %v", id,
			req.consumer, err)
	}
	s.coord.done(id)
	log.Lvlf2("request %d fulfilled with round %d", id, output.Round)
	return &FulfillReply{
		RequestID: id,
		Round:     output.Round,
		Prev:      output.Prev,
		Value:     output.Value,
		Words:     words,
	}, nil
}

func (s *EasyRand) nextRound() (*base.RandomnessOutput, error) {
	if s.roster == nil {
		return nil, xerrors.New("unit is not initialized")
	}
	s.roundLock.Lock()
	defer s.roundLock.Unlock()
	s.keyLock.Lock()
	if s.distKeyStore == nil {
		s.keyLock.Unlock()
		return nil, xerrors.New("no distributed key, run the DKG first")
	}
	public := s.pubPoly.Commit()
	s.keyLock.Unlock()

	tree := s.roster.GenerateNaryTreeWithRoot(len(s.roster.List)-1, s.ServerIdentity())
	if tree == nil {
		return nil, xerrors.New("error while generating tree")
	}
	pi, err := s.CreateProtocol(protocol.SignProtoName, tree)
	if err != nil {
		return nil, err
	}
	signPi := pi.(*protocol.SignProtocol)
	round, prev := s.head()
	signPi.Msg = base.NextMessage(round, prev, []byte(genesisMsg))
	if err := pi.Start(); err != nil {
		return nil, err
	}
	select {
	case sig := <-signPi.FinalSignature:
		return &base.RandomnessOutput{
			Public: public,
			Round:  round,
			Prev:   signPi.Msg,
			Value:  sig,
		}, nil
	case <-time.After(s.timeout):
		return nil, xerrors.New("timeout waiting for final signature")
	}
}

// NewProtocol is a callback for creating protocols on non-root nodes.
func (s *EasyRand) NewProtocol(tn *onet.TreeNodeInstance, conf *onet.GenericConfig) (onet.ProtocolInstance, error) {
	log.Lvl3(s.ServerIdentity(), tn.ProtocolName(), conf)
	switch tn.ProtocolName() {
	case protocol.DKGProtoName:
		pi, err := dkgprotocol.CustomSetup(tn, vssSuite, s.keypair)
		if err != nil {
			return nil, err
		}
		setup := pi.(*dkgprotocol.Setup)
		go func() {
			<-setup.Finished
			if err := s.storeShare(setup); err != nil {
				log.Error(s.ServerIdentity(), err)
			}
		}()
		return pi, nil
	case protocol.SignProtoName:
		return s.newSignProtocol(tn)
	default:
		return nil, xerrors.New("invalid protocol")
	}
}

func (s *EasyRand) newSignProtocol(tn *onet.TreeNodeInstance) (onet.ProtocolInstance, error) {
	s.keyLock.Lock()
	dks, poly := s.distKeyStore, s.pubPoly
	s.keyLock.Unlock()
	if dks == nil {
		return nil, xerrors.New("no distributed key, run the DKG first")
	}
	pi, err := protocol.NewSignProtocol(tn, dks.PriShare(), poly, suite)
	if err != nil {
		return nil, err
	}
	signPi := pi.(*protocol.SignProtocol)
	signPi.Verify = s.verify
	signPi.OnSignature = s.appendBlock
	signPi.Timeout = s.timeout
	return signPi, nil
}

func (s *EasyRand) storeShare(setup *dkgprotocol.Setup) error {
	_, dks, err := setup.SharedSecret()
	if err != nil {
		return err
	}
	s.keyLock.Lock()
	defer s.keyLock.Unlock()
	s.distKeyStore = dks
	s.pubPoly = share.NewPubPoly(vssSuite, vssSuite.Point().Base(), dks.Commitments())
	return nil
}

func (s *EasyRand) head() (uint64, []byte) {
	s.blockLock.Lock()
	defer s.blockLock.Unlock()
	if len(s.blocks) == 0 {
		return 0, nil
	}
	return uint64(len(s.blocks)), s.blocks[len(s.blocks)-1]
}

func (s *EasyRand) appendBlock(sig []byte) {
	s.blockLock.Lock()
	s.blocks = append(s.blocks, sig)
	s.blockLock.Unlock()
}

func (s *EasyRand) verify(msg []byte) error {
	round, prev := s.head()
	if !bytes.Equal(msg, base.NextMessage(round, prev, []byte(genesisMsg))) {
		return xerrors.New("bad message")
	}
	return nil
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &EasyRand{
		ServiceProcessor: onet.NewServiceProcessor(c),
		keypair:          key.NewKeyPair(vssSuite),
		timeout:          defaultTimeout,
		coord:            newCoordinator(),
	}
	if _, err := s.ProtocolRegister(protocol.DKGProtoName, func(n *onet.TreeNodeInstance) (onet.ProtocolInstance, error) {
		return dkgprotocol.CustomSetup(n, vssSuite, s.keypair)
	}); err != nil {
		return nil, err
	}
	if _, err := s.ProtocolRegister(protocol.SignProtoName, s.newSignProtocol); err != nil {
		return nil, err
	}
	if err := s.RegisterHandlers(s.InitUnit, s.InitDKG, s.Randomness,
		s.CreateSubscription, s.AddConsumer, s.Fulfill); err != nil {
		log.Errorf("couldn't register handlers: %v", err)
		return nil, err
	}
	return s, nil
}
