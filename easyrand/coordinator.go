package easyrand

import (
	"bytes"
	"sync"

	"github.com/dedis/raffle/easyrand/base"
	"golang.org/x/xerrors"
)

// Consumer receives the random words of its requests. Returning an error
// keeps the request pending so that it can be fulfilled again later with the
// same words.
type Consumer interface {
	FulfillRandomWords(requestID uint64, words [][]byte) error
}

type subscription struct {
	consumers map[string]bool
}

type randRequest struct {
	id       uint64
	consumer string
	params   base.RandomnessParams
	output   *base.RandomnessOutput
	words    [][]byte
	busy     bool
}

type coordinator struct {
	sync.Mutex
	maxGasLimit uint32
	maxNumWords uint32
	keyHash     []byte

	lastSub   uint64
	lastReq   uint64
	subs      map[uint64]*subscription
	requests  map[uint64]*randRequest
	consumers map[string]Consumer
}

func newCoordinator() *coordinator {
	return &coordinator{
		maxGasLimit: base.MaxCallbackGasLimit,
		maxNumWords: base.MaxNumWords,
		subs:        make(map[uint64]*subscription),
		requests:    make(map[uint64]*randRequest),
		consumers:   make(map[string]Consumer),
	}
}

func (c *coordinator) setLimits(gas, words uint32) {
	c.Lock()
	defer c.Unlock()
	if gas > 0 {
		c.maxGasLimit = gas
	}
	if words > 0 {
		c.maxNumWords = words
	}
}

func (c *coordinator) setKeyHash(h []byte) {
	c.Lock()
	c.keyHash = h
	c.Unlock()
}

func (c *coordinator) register(name string, cons Consumer) {
	c.Lock()
	c.consumers[name] = cons
	c.Unlock()
}

func (c *coordinator) createSubscription() uint64 {
	c.Lock()
	defer c.Unlock()
	c.lastSub++
	c.subs[c.lastSub] = &subscription{consumers: make(map[string]bool)}
	return c.lastSub
}

func (c *coordinator) addConsumer(subID uint64, name string) error {
	c.Lock()
	defer c.Unlock()
	sub, ok := c.subs[subID]
	if !ok {
		return xerrors.Errorf("invalid subscription: %d", subID)
	}
	if len(name) == 0 {
		return xerrors.New("missing consumer name")
	}
	sub.consumers[name] = true
	return nil
}

func (c *coordinator) request(consumer string, p base.RandomnessParams) (uint64, error) {
	c.Lock()
	defer c.Unlock()
	sub, ok := c.subs[p.SubscriptionID]
	if !ok {
		return 0, xerrors.Errorf("invalid subscription: %d", p.SubscriptionID)
	}
	if !sub.consumers[consumer] {
		return 0, xerrors.Errorf("invalid consumer %s for subscription %d",
			consumer, p.SubscriptionID)
	}
	if _, ok := c.consumers[consumer]; !ok {
		return 0, xerrors.Errorf("no callback registered for consumer %s", consumer)
	}
	if c.keyHash == nil {
		return 0, xerrors.New("randomness unit is not ready: run the DKG first")
	}
	if !bytes.Equal(c.keyHash, p.KeyHash) {
		return 0, xerrors.Errorf("invalid key hash: %x", p.KeyHash)
	}
	if p.CallbackGasLimit > c.maxGasLimit {
		return 0, xerrors.Errorf("callback gas limit %d above maximum %d",
			p.CallbackGasLimit, c.maxGasLimit)
	}
	if p.NumWords == 0 || p.NumWords > c.maxNumWords {
		return 0, xerrors.Errorf("number of words %d not in [1, %d]",
			p.NumWords, c.maxNumWords)
	}
	c.lastReq++
	c.requests[c.lastReq] = &randRequest{
		id:       c.lastReq,
		consumer: consumer,
		params:   p,
	}
	return c.lastReq, nil
}

// claim marks the request as being fulfilled so that concurrent deliveries
// of the same request are refused.
func (c *coordinator) claim(id uint64) (*randRequest, Consumer, error) {
	c.Lock()
	defer c.Unlock()
	req, ok := c.requests[id]
	if !ok {
		return nil, nil, xerrors.Errorf("nonexistent request: %d", id)
	}
	if req.busy {
		return nil, nil, xerrors.Errorf("request %d is already being fulfilled", id)
	}
	cons, ok := c.consumers[req.consumer]
	if !ok {
		return nil, nil, xerrors.Errorf("no callback registered for consumer %s",
			req.consumer)
	}
	req.busy = true
	return req, cons, nil
}

func (c *coordinator) release(id uint64, output *base.RandomnessOutput, words [][]byte) {
	c.Lock()
	defer c.Unlock()
	req, ok := c.requests[id]
	if !ok {
		return
	}
	req.busy = false
	if req.output == nil {
		req.output = output
		req.words = words
	}
}

func (c *coordinator) done(id uint64) {
	c.Lock()
	delete(c.requests, id)
	c.Unlock()
}

func (c *coordinator) pending() []uint64 {
	c.Lock()
	defer c.Unlock()
	ids := make([]uint64, 0, len(c.requests))
	for id := range c.requests {
		ids = append(ids, id)
	}
	return ids
}
