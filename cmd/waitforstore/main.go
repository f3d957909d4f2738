package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"inventoryhub/dashboard/internal/auth"
)

// Blocks until the token store backend named by TOKEN_STORE_BACKEND answers.
// Used by CI before the live Postgres/Redis tests.
func main() {
	backend := os.Getenv("TOKEN_STORE_BACKEND")
	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_STORE_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_STORE_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	var ping func(ctx context.Context) error
	switch backend {
	case "postgres":
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
			os.Exit(2)
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		ping = db.PingContext
	case "redis":
		url := os.Getenv("REDIS_URL")
		if url == "" {
			fmt.Fprintln(os.Stderr, "REDIS_URL is required")
			os.Exit(2)
		}
		ping = func(ctx context.Context) error {
			client, err := auth.OpenRedis(ctx, url)
			if err != nil {
				return err
			}
			return client.Close()
		}
	default:
		fmt.Fprintf(os.Stderr, "TOKEN_STORE_BACKEND must be postgres or redis, got %q\n", backend)
		os.Exit(2)
	}

	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := ping(ctx)
		cancel()
		if err == nil {
			fmt.Printf("%s ready\n", backend)
			return
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "%s not ready within %s: %v\n", backend, timeout, err)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
	}
}
