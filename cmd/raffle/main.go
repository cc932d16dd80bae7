// raffle is the command-line client of a raffle deployment: it sets up the
// randomness unit and the raffle, funds and enters players, and can run a
// keeper that closes rounds on time.
package main

import (
	"os"

	"go.dedis.ch/onet/v3/log"
	cli "gopkg.in/urfave/cli.v1"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Usage: "TOML configuration file",
	}
	rosterFlag = cli.StringFlag{
		Name:  "roster, r",
		Usage: "roster file, overrides the configuration",
	}
	keyFlag = cli.StringFlag{
		Name:  "key, k",
		Value: "player.key",
		Usage: "key pair file of the player",
	}
	minterFlag = cli.StringFlag{
		Name:  "minter, m",
		Value: "minter.key",
		Usage: "key pair file of the minter, the only key allowed to fund accounts",
	}
	accountFlag = cli.StringFlag{
		Name:  "account, a",
		Usage: "bank account, defaults to the public key of --key",
	}
	amountFlag = cli.Uint64Flag{
		Name:  "amount",
		Usage: "amount to pay or credit",
	}
	metricsFlag = cli.StringFlag{
		Name:  "metrics",
		Usage: "address to serve /metrics on",
	}
	debugFlag = cli.IntFlag{
		Name:  "debug, d",
		Value: 0,
		Usage: "debug-level: 1 for terse, 5 for maximal",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "raffle"
	app.Usage = "run a verifiably random raffle on a roster"
	app.Flags = []cli.Flag{configFlag, rosterFlag, debugFlag}
	app.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "generate a key pair, for a player or the minter",
			Flags:  []cli.Flag{keyFlag},
			Action: keygen,
		},
		{
			Name:   "init",
			Usage:  "run the DKG, create the subscription and start the raffle",
			Flags:  []cli.Flag{minterFlag},
			Action: initRaffle,
		},
		{
			Name:   "fund",
			Usage:  "credit an account",
			Flags:  []cli.Flag{minterFlag, keyFlag, accountFlag, amountFlag},
			Action: fund,
		},
		{
			Name:   "balance",
			Usage:  "print the balance of an account",
			Flags:  []cli.Flag{keyFlag, accountFlag},
			Action: balance,
		},
		{
			Name:   "enter",
			Usage:  "enter the current round",
			Flags:  []cli.Flag{keyFlag, amountFlag},
			Action: enter,
		},
		{
			Name:   "check",
			Usage:  "evaluate the upkeep conditions",
			Action: check,
		},
		{
			Name:   "perform",
			Usage:  "close the round and request randomness",
			Action: perform,
		},
		{
			Name:   "state",
			Usage:  "print the state of the raffle",
			Action: state,
		},
		{
			Name:   "retry",
			Usage:  "deliver the randomness of the pending request again",
			Action: retry,
		},
		{
			Name:   "keeper",
			Usage:  "close rounds as soon as upkeep is needed",
			Flags:  []cli.Flag{metricsFlag},
			Action: runKeeper,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
