package easyrand

import (
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"
)

type Client struct {
	*onet.Client
	roster *onet.Roster
}

func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

// InitUnit initializes every node of the roster.
func (c *Client) InitUnit(req *InitUnitRequest) (*InitUnitReply, error) {
	if req.Roster == nil {
		req.Roster = c.roster
	}
	reply := &InitUnitReply{}
	for _, si := range c.roster.List {
		if err := c.SendProtobuf(si, req, reply); err != nil {
			return nil, xerrors.Errorf("initializing %v: %v", si, err)
		}
	}
	return reply, nil
}

func (c *Client) InitDKG(timeout int) (*InitDKGReply, error) {
	req := &InitDKGRequest{Timeout: timeout}
	reply := &InitDKGReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) GetRandomness() (*RandomnessReply, error) {
	reply := &RandomnessReply{}
	err := c.SendProtobuf(c.roster.List[0], &RandomnessRequest{}, reply)
	return reply, err
}

func (c *Client) CreateSubscription() (*CreateSubscriptionReply, error) {
	reply := &CreateSubscriptionReply{}
	err := c.SendProtobuf(c.roster.List[0], &CreateSubscriptionRequest{}, reply)
	return reply, err
}

func (c *Client) AddConsumer(subID uint64, consumer string) (*AddConsumerReply, error) {
	req := &AddConsumerRequest{SubID: subID, Consumer: consumer}
	reply := &AddConsumerReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) Fulfill(id uint64) (*FulfillReply, error) {
	reply := &FulfillReply{}
	err := c.SendProtobuf(c.roster.List[0], &FulfillRequest{RequestID: id}, reply)
	return reply, err
}

// PublicKey decodes the collective key returned by InitDKG.
func PublicKey(buf []byte) (kyber.Point, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("couldn't decode public key: %v", err)
	}
	return p, nil
}
