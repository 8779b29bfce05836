// Package flags holds the CLI flag definitions and readers for lnbank.
package flags

import (
	"fmt"
	"net/url"
	"path"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/urfave/cli"

	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/ln"
)

// Concat concatenates the given lists of flags, without mutating them.
func Concat(first []cli.Flag, rest ...[]cli.Flag) []cli.Flag {
	var copied = make([]cli.Flag, len(first))
	_ = copy(copied, first)
	for _, r := range rest {
		copied = append(copied, r...)
	}
	return copied
}

// CommonFlags is the set of flags every command takes.
var CommonFlags = Concat([]cli.Flag{
	cli.StringFlag{
		Name:  "network",
		Usage: "the network lnd is running on e.g. mainnet, testnet, regtest",
		Value: "regtest",
	},
	cli.StringFlag{
		Name:  "logging.level",
		Usage: "log level: trace, debug, info, warn, error, fatal",
		Value: "info",
	},
})

// Db is the set of flags for connecting to postgres.
var Db = []cli.Flag{
	cli.StringFlag{
		Name:  "db.user",
		Usage: "database username",
		Value: "lnbank",
	},
	cli.StringFlag{
		Name:  "db.password",
		Usage: "database password",
	},
	cli.StringFlag{
		Name:  "db.host",
		Usage: "database host",
		Value: "localhost",
	},
	cli.IntFlag{
		Name:  "db.port",
		Usage: "database port",
		Value: 5432,
	},
	cli.StringFlag{
		Name:  "db.name",
		Usage: "database name",
		Value: "lnbank",
	},
	cli.StringFlag{
		Name:  "db.migrationspath",
		Usage: "path to database migrations",
		Value: "db/migrations",
	},
}

// Lnd is the set of flags for reaching the lnd node.
var Lnd = []cli.Flag{
	cli.StringFlag{
		Name:  "lnd.dir",
		Usage: "path to lnd's base directory",
		Value: ln.DefaultLndDir,
	},
	cli.StringFlag{
		Name:      "lnd.certpath",
		Usage:     "path to tls.cert",
		TakesFile: true,
	},
	cli.StringFlag{
		Name:      "lnd.macaroonpath",
		Usage:     "path to macaroon file",
		TakesFile: true,
	},
	cli.StringFlag{
		Name:  "lnd.rpcserver",
		Usage: "host:port of lnd's RPC interface",
		Value: ln.DefaultRpcServer,
	},
}

// Serve is the set of flags only the serve command takes.
var Serve = []cli.Flag{
	cli.IntFlag{
		Name:  "port",
		Usage: "port to listen on",
		Value: 5000,
	},
	cli.StringFlag{
		Name:  "baseurl",
		Usage: "externally reachable base URL, used in LNURL callbacks",
		Value: "http://localhost:5000",
	},
	cli.StringSliceFlag{
		Name:  "cors.origin",
		Usage: "allowed CORS origin, can be given multiple times",
	},
	cli.DurationFlag{
		Name:  "watcher.interval",
		Usage: "how often pending transactions are reconciled against lnd",
	},
}

// ReadDbConf reads the flags for connecting to the DB. Flags belong to a
// cli context, and subcommands see their parent's flags only through it, so
// we recurse upwards until we find the context the flags live on.
func ReadDbConf(c *cli.Context) db.DatabaseConfig {
	conf := db.DatabaseConfig{
		User:           c.String("db.user"),
		Password:       c.String("db.password"),
		Host:           c.String("db.host"),
		Port:           c.Int("db.port"),
		Name:           c.String("db.name"),
		MigrationsPath: c.String("db.migrationspath"),
	}

	if conf.User == "" {
		parent := c.Parent()
		if parent == nil {
			panic("reached root CLI context without valid DB credentials")
		}
		return ReadDbConf(parent)
	}

	// default the migrations path scheme to file:
	parsedPath, err := url.Parse(conf.MigrationsPath)
	if err != nil {
		panic(fmt.Errorf("could not parse migrations path into URL: %v", err))
	}
	if len(parsedPath.Scheme) == 0 {
		conf.MigrationsPath = path.Join("file:", conf.MigrationsPath)
	}

	return conf
}

// ReadNetwork reads the network flag, erroring on unknown values.
func ReadNetwork(c *cli.Context) (chaincfg.Params, error) {
	switch networkString := c.GlobalString("network"); networkString {
	case "mainnet":
		return chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return chaincfg.TestNet3Params, nil
	case "regtest", "":
		return chaincfg.RegressionNetParams, nil
	default:
		return chaincfg.Params{}, fmt.Errorf(
			"unknown network: %s. Valid: mainnet, testnet, regtest", networkString)
	}
}

// ReadLnConf reads the flags for constructing a lnd configuration.
func ReadLnConf(c *cli.Context) (ln.LightningConfig, error) {
	network, err := ReadNetwork(c)
	if err != nil {
		return ln.LightningConfig{}, err
	}

	return ln.LightningConfig{
		LndDir:       c.String("lnd.dir"),
		TLSCertPath:  c.String("lnd.certpath"),
		MacaroonPath: c.String("lnd.macaroonpath"),
		Network:      network,
		RPCServer:    c.String("lnd.rpcserver"),
	}, nil
}
