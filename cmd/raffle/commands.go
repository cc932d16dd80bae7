package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dedis/raffle/easyrand"
	"github.com/dedis/raffle/keeper"
	"github.com/dedis/raffle/raffle"
	"github.com/dedis/raffle/sys"
	"github.com/dedis/raffle/utils"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	cli "gopkg.in/urfave/cli.v1"
)

func loadConfig(c *cli.Context) (*sys.Config, *onet.Roster, error) {
	cfg, err := sys.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}
	if path := c.GlobalString("roster"); path != "" {
		cfg.Roster = path
	}
	if cfg.Roster == "" {
		return nil, nil, xerrors.New("no roster given")
	}
	roster, err := utils.ReadRoster(cfg.Roster)
	if err != nil {
		return nil, nil, err
	}
	return cfg, roster, nil
}

func raffleClient(c *cli.Context) (*raffle.Client, error) {
	_, roster, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return raffle.NewClient(roster), nil
}

func account(c *cli.Context) (string, error) {
	if acc := c.String("account"); acc != "" {
		return acc, nil
	}
	kp, err := utils.ReadKeyPair(c.String("key"))
	if err != nil {
		return "", err
	}
	return kp.Public.String(), nil
}

func keygen(c *cli.Context) error {
	kp := key.NewKeyPair(cothority.Suite)
	if err := utils.WriteKeyPair(c.String("key"), kp); err != nil {
		return err
	}
	fmt.Println(kp.Public.String())
	return nil
}

func initRaffle(c *cli.Context) error {
	cfg, roster, err := loadConfig(c)
	if err != nil {
		return err
	}
	minter, err := utils.ReadKeyPair(c.String("minter"))
	if err != nil {
		return err
	}
	rc := easyrand.NewClient(roster)
	defer rc.Close()
	_, err = rc.InitUnit(&easyrand.InitUnitRequest{
		Roster:      roster,
		AutoFulfill: cfg.AutoFulfill,
	})
	if err != nil {
		return err
	}
	dkg, err := rc.InitDKG(cfg.DKGTimeout)
	if err != nil {
		return err
	}
	sub, err := rc.CreateSubscription()
	if err != nil {
		return err
	}
	if _, err := rc.AddConsumer(sub.SubID, raffle.ConsumerName); err != nil {
		return err
	}
	log.Lvlf1("randomness unit ready: key hash %x, subscription %d", dkg.KeyHash,
		sub.SubID)

	cl := raffle.NewClient(roster)
	defer cl.Close()
	_, err = cl.InitUnit(raffle.Config{
		EntryFee:         cfg.EntryFee,
		Interval:         cfg.IntervalDuration(),
		KeyHash:          dkg.KeyHash,
		SubscriptionID:   sub.SubID,
		Confirmations:    cfg.Confirmations,
		CallbackGasLimit: cfg.CallbackGasLimit,
		NumWords:         cfg.NumWords,
		UpkeepPeriod:     cfg.UpkeepDuration(),
		Minter:           minter.Public,
	})
	if err != nil {
		return err
	}
	fmt.Printf("raffle started: entry fee %d, interval %v\n", cfg.EntryFee,
		cfg.IntervalDuration())
	return nil
}

func fund(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	acc, err := account(c)
	if err != nil {
		return err
	}
	minter, err := utils.ReadKeyPair(c.String("minter"))
	if err != nil {
		return err
	}
	reply, err := cl.Fund(minter, acc, c.Uint64("amount"))
	if err != nil {
		return err
	}
	fmt.Println(reply.Balance)
	return nil
}

func balance(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	acc, err := account(c)
	if err != nil {
		return err
	}
	reply, err := cl.Balance(acc)
	if err != nil {
		return err
	}
	if reply.Frozen {
		fmt.Println(reply.Balance, "(frozen)")
		return nil
	}
	fmt.Println(reply.Balance)
	return nil
}

func enter(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	kp, err := utils.ReadKeyPair(c.String("key"))
	if err != nil {
		return err
	}
	reply, err := cl.Enter(kp, c.Uint64("amount"))
	if err != nil {
		return err
	}
	fmt.Printf("entered round %d, %d players\n", reply.Round, reply.NumPlayers)
	return nil
}

func check(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.CheckUpkeep()
	if err != nil {
		return err
	}
	fmt.Printf("needed=%v open=%v time=%v balance=%v players=%v\n", reply.Needed,
		reply.Open, reply.TimePassed, reply.HasBalance, reply.HasPlayers)
	return nil
}

func perform(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.PerformUpkeep()
	if err != nil {
		return err
	}
	fmt.Println("request", reply.RequestID)
	return nil
}

func state(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	st, err := cl.GetState()
	if err != nil {
		return err
	}
	fmt.Printf("round %d: %s, %d players, balance %d\n", st.Round, st.Phase,
		len(st.Players), st.Balance)
	fmt.Printf("entry fee %d, interval %v, last close %v\n", st.EntryFee,
		st.Interval, time.Unix(0, st.LastTimestamp).Format(time.RFC3339))
	if st.HasPending {
		fmt.Println("pending request", st.Pending)
	}
	if st.HasWinner {
		fmt.Println("recent winner", st.RecentWinner)
	}
	return nil
}

func retry(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.RetryFulfill()
	if err != nil {
		return err
	}
	fmt.Printf("request %d fulfilled, winner %s\n", reply.RequestID, reply.Winner)
	return nil
}

func runKeeper(c *cli.Context) error {
	cfg, roster, err := loadConfig(c)
	if err != nil {
		return err
	}
	cl := raffle.NewClient(roster)
	defer cl.Close()
	k, err := keeper.New(cl.Upkeeper(), cfg.KeeperDuration())
	if err != nil {
		return err
	}
	addr := cfg.MetricsAddr
	if a := c.String("metrics"); a != "" {
		addr = a
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return k.Run(ctx)
	})
	if addr != "" {
		router := mux.NewRouter()
		router.PathPrefix("/metrics").Handler(promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: router,
			ReadHeaderTimeout: time.Second}
		g.Go(func() error {
			log.Lvl1("serving metrics on", addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}
	log.Lvl1("keeper running every", cfg.KeeperDuration())
	return g.Wait()
}
