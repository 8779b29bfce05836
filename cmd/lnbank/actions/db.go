// Package actions provides the commands the lnbank CLI can execute.
package actions

import (
	"strconv"

	"github.com/urfave/cli"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/cmd/lnbank/flags"
	"gitlab.com/arcanecrypto/lnbank/db"
)

var log = build.AddSubLogger("ACTN")

func openDb(c *cli.Context) (*db.DB, error) {
	return db.Open(flags.ReadDbConf(c))
}

// Db returns the commands for DB access and migrations.
func Db() cli.Command {
	return cli.Command{
		Name:  "db",
		Usage: "Database related commands",
		Flags: flags.Db,
		Subcommands: []cli.Command{
			{
				Name:    "up",
				Aliases: []string{"mu"},
				Usage:   "migrates the database up to the newest migration",
				Action: func(c *cli.Context) error {
					database, err := openDb(c)
					if err != nil {
						return err
					}
					defer func() { _ = database.Close() }()

					return database.MigrateUp()
				},
			},
			{
				Name:    "down",
				Aliases: []string{"md"},
				Usage:   "down x, migrates the database down x number of steps",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.NewExitError(
							"You need to specify a number of steps to migrate down", 22)
					}
					steps, err := strconv.Atoi(c.Args().First())
					if err != nil {
						return err
					}

					database, err := openDb(c)
					if err != nil {
						return err
					}
					defer func() { _ = database.Close() }()

					return database.MigrateDown(steps)
				},
			},
			{
				Name:  "drop",
				Usage: "drops the entire database",
				Action: func(c *cli.Context) error {
					database, err := openDb(c)
					if err != nil {
						return err
					}
					defer func() { _ = database.Close() }()

					return database.Drop()
				},
			},
			{
				Name:  "reset",
				Usage: "drops the database and migrates it back up",
				Action: func(c *cli.Context) error {
					database, err := openDb(c)
					if err != nil {
						return err
					}
					defer func() { _ = database.Close() }()

					return database.Reset()
				},
			},
		},
	}
}
