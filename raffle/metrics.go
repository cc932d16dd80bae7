package raffle

import (
	"github.com/dedis/raffle/apps/lottery"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "raffle"

var (
	entriesCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_total",
		Help:      "Number of accepted entries.",
	})
	roundsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_closed_total",
		Help:      "Number of rounds closed with a randomness request.",
	})
	winnersCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "winners_total",
		Help:      "Number of paid winners.",
	})
	prizeSum = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prizes_paid_total",
		Help:      "Sum of all prizes paid.",
	})
	potGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pot",
		Help:      "Current balance of the round.",
	})
	playersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "players",
		Help:      "Number of entries in the current round.",
	})
	saveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "save_failures_total",
		Help:      "Number of snapshots that could not be written to the node database.",
	})
)

func init() {
	prometheus.MustRegister(entriesCount, roundsClosed, winnersCount, prizeSum,
		potGauge, playersGauge, saveFailures)
}

func observe(ev lottery.Event) {
	switch ev.Kind {
	case lottery.EntryRecorded:
		entriesCount.Inc()
		potGauge.Add(float64(ev.Amount))
		playersGauge.Inc()
	case lottery.RoundClosed:
		roundsClosed.Inc()
	case lottery.WinnerSelected:
		winnersCount.Inc()
		prizeSum.Add(float64(ev.Amount))
		potGauge.Set(0)
		playersGauge.Set(0)
	}
}
