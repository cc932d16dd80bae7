package protocol

import (
	"time"

	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// SignProtocol starts a threshold BLS signature protocol. Every node signs
// the message of the root with its share, broadcasts the partial signature
// and recovers the collective one.
type SignProtocol struct {
	*onet.TreeNodeInstance
	Msg []byte

	Threshold      int
	Timeout        time.Duration
	FinalSignature chan []byte
	// Verify is run on the message before signing it.
	Verify func([]byte) error
	// OnSignature is called with the recovered signature before the node
	// reports back to the root.
	OnSignature func([]byte)

	initChan chan initChan
	sigChan  chan sigChan
	syncChan chan syncChan

	sk    *share.PriShare
	pk    *share.PubPoly
	suite pairing.Suite
}

// NewSignProtocol initialises the structure for use in one round.
func NewSignProtocol(n *onet.TreeNodeInstance, sk *share.PriShare, pk *share.PubPoly, suite pairing.Suite) (onet.ProtocolInstance, error) {
	if sk == nil || pk == nil {
		return nil, xerrors.New("no distributed key share, run the DKG first")
	}
	numNodes := len(n.Roster().List)
	t := &SignProtocol{
		TreeNodeInstance: n,
		sk:               sk,
		pk:               pk,
		suite:            suite,
		Threshold:        numNodes - (numNodes-1)/3,
		Timeout:          time.Minute,
		FinalSignature:   make(chan []byte, 1),
	}
	if err := t.RegisterChannels(&t.initChan, &t.sigChan, &t.syncChan); err != nil {
		return nil, err
	}
	return t, nil
}

// Start implements the onet.ProtocolInstance interface.
func (p *SignProtocol) Start() error {
	if len(p.Msg) == 0 {
		return xerrors.New("empty message")
	}
	log.Lvl3(p.ServerIdentity(), "starting")
	return p.fullBroadcast(&Init{p.Msg})
}

// Dispatch implements the onet.ProtocolInstance interface.
func (p *SignProtocol) Dispatch() error {
	defer p.Done()
	initMsg := <-p.initChan
	if p.Verify != nil {
		if err := p.Verify(initMsg.Msg); err != nil {
			log.Errorf("%v refused to sign: %v", p.ServerIdentity(), err)
			return err
		}
	}
	log.Lvl3(p.ServerIdentity(), "signing")
	sig, err := tbls.Sign(p.suite, p.sk, initMsg.Msg)
	if err != nil {
		return err
	}
	if err := p.fullBroadcast(&Sig{sig}); err != nil {
		return err
	}
	log.Lvl3(p.ServerIdentity(), "waiting for all signatures")
	n := len(p.List())
	sigs := make([][]byte, n)
	for i := 0; i < n; i++ {
		select {
		case sigMsg := <-p.sigChan:
			sigs[i] = sigMsg.ThresholdSig
		case <-time.After(p.Timeout):
			return xerrors.New("time out while waiting for signatures")
		}
	}
	finalSig, err := tbls.Recover(p.suite, p.pk, initMsg.Msg, sigs, p.Threshold, n)
	if err != nil {
		return err
	}
	log.Lvl3(p.ServerIdentity(), "recovered")
	if p.OnSignature != nil {
		p.OnSignature(finalSig)
	}
	if p.IsRoot() {
		for i := 0; i < n-1; i++ {
			select {
			case <-p.syncChan:
			case <-time.After(p.Timeout):
				return xerrors.New("time out while synchronising")
			}
		}
		p.FinalSignature <- finalSig
		return nil
	}
	p.FinalSignature <- finalSig
	return p.SendTo(p.Root(), &Sync{})
}

func (p *SignProtocol) fullBroadcast(msg interface{}) error {
	n := len(p.List())
	errc := make(chan error, n)
	for _, treenode := range p.List() {
		go func(tn *onet.TreeNode) {
			errc <- p.SendTo(tn, msg)
		}(treenode)
	}
	for i := 0; i < n; i++ {
		if err := <-errc; err != nil {
			return err
		}
	}
	return nil
}
