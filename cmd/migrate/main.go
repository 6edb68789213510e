// migrate runs DB migrations from embedded SQL for the configured store; go run ./cmd/migrate.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"stepup-challenge/internal/config"
	"stepup-challenge/internal/db"
	"stepup-challenge/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var dsn string
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		dsn = db.SQLiteMigrateURL(cfg.SQLitePath)
	case config.StorePostgres:
		dsn = cfg.DatabaseURL
	default:
		fmt.Fprintln(os.Stderr, "STORE_DRIVER is memory; nothing to migrate (set STORE_DRIVER=sqlite or postgres)")
		os.Exit(1)
	}

	if err := migrate.Run(dsn, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			// Already at target version; success.
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
