package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/urfave/cli"

	"gitlab.com/arcanecrypto/lnbank/api"
	"gitlab.com/arcanecrypto/lnbank/asyncutil"
	"gitlab.com/arcanecrypto/lnbank/cmd/lnbank/flags"
	"gitlab.com/arcanecrypto/lnbank/ln"
	"gitlab.com/arcanecrypto/lnbank/lnurl"
	"gitlab.com/arcanecrypto/lnbank/models/boltcards"
	"gitlab.com/arcanecrypto/lnbank/models/transactions"
)

const (
	rpcAwaitAttempts = 5
	rpcAwaitDuration = time.Second
)

// awaitLnd tries to get a RPC response from lnd, returning an error if that
// isn't possible within a set of attempts.
func awaitLnd(lncli lnrpc.LightningClient) error {
	retry := func() bool {
		_, err := lncli.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
		return err == nil
	}
	return asyncutil.Await(rpcAwaitAttempts, rpcAwaitDuration, retry, "couldn't reach lnd")
}

// Serve returns the command that runs migrations, connects to lnd and
// serves the API.
func Serve() cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "Starts the lnbank API",
		Flags: flags.Concat(flags.Db, flags.Lnd, flags.Serve),
		Action: func(c *cli.Context) error {
			database, err := openDb(c)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if err := database.MigrateUp(); err != nil {
				return err
			}

			lnConf, err := flags.ReadLnConf(c)
			if err != nil {
				return err
			}
			lncli, err := ln.DialLnd(lnConf)
			if err != nil {
				return err
			}
			if err := awaitLnd(lncli); err != nil {
				return err
			}
			node := ln.NewNodeClient(lncli)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cards := boltcards.NewService(ctx, boltcards.NewStore(database))

			go transactions.StartWatcher(ctx, database, node,
				c.Duration("watcher.interval"))

			server := api.NewApp(database, node, lnurl.NewClient(), cards,
				api.Config{
					Network:        lnConf.Network,
					BaseURL:        c.String("baseurl"),
					AllowedOrigins: c.StringSlice("cors.origin"),
				})

			address := fmt.Sprintf(":%d", c.Int("port"))
			log.WithField("address", address).Info("Serving API")

			return server.Router.Run(address)
		},
	}
}
