// Package keeper drives the automation of a raffle: it periodically asks the
// target whether upkeep is needed and closes the round when it is.
package keeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

const namespace = "raffle_keeper"

var (
	ticksCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Number of upkeep checks.",
	})
	performCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "performs_total",
		Help:      "Number of rounds closed by the keeper.",
	})
	failureCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failures_total",
		Help:      "Number of failed checks and performs.",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(ticksCount, performCount, failureCount)
}

// Upkeeper is the automation interface of a raffle.
type Upkeeper interface {
	CheckUpkeep() (bool, error)
	PerformUpkeep() (uint64, error)
}

type Keeper struct {
	target Upkeeper
	period time.Duration
}

func New(target Upkeeper, period time.Duration) (*Keeper, error) {
	if target == nil {
		return nil, xerrors.New("missing upkeep target")
	}
	if period <= 0 {
		return nil, xerrors.Errorf("invalid period %v", period)
	}
	return &Keeper{target: target, period: period}, nil
}

// Tick runs one check and, when needed, one perform. It returns whether a
// round was closed.
func (k *Keeper) Tick() (bool, error) {
	ticksCount.Inc()
	needed, err := k.target.CheckUpkeep()
	if err != nil {
		failureCount.WithLabelValues("check").Inc()
		return false, xerrors.Errorf("checking upkeep: %v", err)
	}
	if !needed {
		return false, nil
	}
	id, err := k.target.PerformUpkeep()
	if err != nil {
		failureCount.WithLabelValues("perform").Inc()
		return false, xerrors.Errorf("performing upkeep: %v", err)
	}
	performCount.Inc()
	log.Lvlf2("keeper closed the round, request %d", id)
	return true, nil
}

// Run ticks every period until ctx is cancelled. Failed ticks are logged and
// the loop goes on.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := k.Tick(); err != nil {
				log.Error(err)
			}
		}
	}
}
