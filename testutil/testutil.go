// Package testutil has helpers shared by the test suites.
package testutil

import (
	"os"
	"strconv"

	"gitlab.com/arcanecrypto/lnbank/db"
)

// GetDatabaseConfig returns a DB config suitable for integration tests. The
// given argument is added to the name of the database so suites don't step
// on each other.
func GetDatabaseConfig(name string) db.DatabaseConfig {
	return db.DatabaseConfig{
		User:           getEnvOrElse("DATABASE_USER", "lnbank_test"),
		Password:       getEnvOrElse("DATABASE_PASSWORD", "password"),
		Host:           getEnvOrElse("DATABASE_HOST", "localhost"),
		Port:           getDatabasePort(),
		Name:           "lnbank_" + name,
		MigrationsPath: "file://../../db/migrations",
	}
}

func getDatabasePort() int {
	port, err := strconv.Atoi(getEnvOrElse("DATABASE_PORT", "5432"))
	if err != nil {
		return 5432
	}
	return port
}

func getEnvOrElse(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
