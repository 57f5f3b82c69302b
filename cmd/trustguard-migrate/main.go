// trustguard-migrate applies the embedded auth_sessions schema to DATABASE_URL.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/campuskit/trustguard/internal/config"
	"github.com/campuskit/trustguard/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	dsn, err := config.LoadDatabaseURL()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := migrate.Run(dsn, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
