package raffle

import (
	"github.com/dedis/raffle/utils"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
)

// Client talks to the node hosting the raffle, the first of the roster.
type Client struct {
	*onet.Client
	roster *onet.Roster
}

func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

func (c *Client) Roster() *onet.Roster {
	return c.roster
}

func (c *Client) InitUnit(cfg Config) (*InitUnitReply, error) {
	req := &InitUnitRequest{Roster: c.roster, Config: cfg}
	reply := &InitUnitReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

// Enter signs an entry of amount for the current round with kp, using the
// next nonce of its account.
func (c *Client) Enter(kp *key.Pair, amount uint64) (*EnterReply, error) {
	st, err := c.GetState()
	if err != nil {
		return nil, err
	}
	acc, err := c.Balance(kp.Public.String())
	if err != nil {
		return nil, err
	}
	nonce := acc.Nonce + 1
	sig, err := utils.SignEntry(kp.Private, kp.Public, amount, st.Round, nonce)
	if err != nil {
		return nil, err
	}
	req := &EnterRequest{Key: kp.Public, Amount: amount, Nonce: nonce, Sig: sig}
	reply := &EnterReply{}
	err = c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) CheckUpkeep() (*CheckUpkeepReply, error) {
	reply := &CheckUpkeepReply{}
	err := c.SendProtobuf(c.roster.List[0], &CheckUpkeepRequest{}, reply)
	return reply, err
}

func (c *Client) PerformUpkeep() (*PerformUpkeepReply, error) {
	reply := &PerformUpkeepReply{}
	err := c.SendProtobuf(c.roster.List[0], &PerformUpkeepRequest{}, reply)
	return reply, err
}

func (c *Client) GetState() (*GetStateReply, error) {
	reply := &GetStateReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetStateRequest{}, reply)
	return reply, err
}

// Fund credits amount to account, signed by the minter key pair.
func (c *Client) Fund(minter *key.Pair, account string, amount uint64) (*FundReply, error) {
	acc, err := c.Balance(minter.Public.String())
	if err != nil {
		return nil, err
	}
	nonce := acc.Nonce + 1
	sig, err := utils.SignFund(minter.Private, minter.Public, account, amount, nonce)
	if err != nil {
		return nil, err
	}
	req := &FundRequest{Account: account, Amount: amount, Nonce: nonce, Sig: sig}
	reply := &FundReply{}
	err = c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) Balance(account string) (*BalanceReply, error) {
	reply := &BalanceReply{}
	err := c.SendProtobuf(c.roster.List[0], &BalanceRequest{Account: account}, reply)
	return reply, err
}

func (c *Client) RetryFulfill() (*RetryFulfillReply, error) {
	reply := &RetryFulfillReply{}
	err := c.SendProtobuf(c.roster.List[0], &RetryFulfillRequest{}, reply)
	return reply, err
}

// Upkeeper returns the raffle seen through the keeper interface.
func (c *Client) Upkeeper() *RemoteUpkeeper {
	return &RemoteUpkeeper{c: c}
}

// RemoteUpkeeper lets a keeper drive a raffle over the network.
type RemoteUpkeeper struct {
	c *Client
}

func (u *RemoteUpkeeper) CheckUpkeep() (bool, error) {
	reply, err := u.c.CheckUpkeep()
	if err != nil {
		return false, err
	}
	return reply.Needed, nil
}

func (u *RemoteUpkeeper) PerformUpkeep() (uint64, error) {
	reply, err := u.c.PerformUpkeep()
	if err != nil {
		return 0, err
	}
	return reply.RequestID, nil
}
