package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"transcribe_gateway/internal/storage"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [-dsn URL] up | down [version] | status | version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "ERROR: DATABASE_URL or -dsn is required")
		os.Exit(1)
	}

	cfg := storage.DefaultDBConfig()
	cfg.DSN = *dsn
	db, err := storage.NewDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	migrator, err := storage.NewMigrator(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch flag.Arg(0) {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		var target int64
		if flag.NArg() > 1 {
			if _, scanErr := fmt.Sscanf(flag.Arg(1), "%d", &target); scanErr != nil {
				fmt.Fprintf(os.Stderr, "ERROR: invalid version %q\n", flag.Arg(1))
				os.Exit(2)
			}
		}
		err = migrator.Down(ctx, target)
	case "status":
		err = migrator.Status(ctx)
	case "version":
		var v int64
		v, err = migrator.Version(ctx)
		if err == nil {
			fmt.Printf("Schema version: %d\n", v)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
