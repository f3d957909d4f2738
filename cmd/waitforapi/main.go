package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"inventoryhub/dashboard/internal/apiclient"
	"inventoryhub/dashboard/internal/auth"
)

func main() {
	base := os.Getenv("INVENTORY_API_URL")
	if base == "" {
		base = apiclient.DefaultBaseURL
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_API_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_API_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	store, err := auth.NewStore(auth.NewMemoryKV())
	if err != nil {
		fmt.Fprintf(os.Stderr, "create token store: %v\n", err)
		os.Exit(2)
	}
	client, err := apiclient.New(apiclient.Config{BaseURL: base, Store: store})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create api client: %v\n", err)
		os.Exit(2)
	}

	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.Ping(ctx)
		cancel()
		if err == nil {
			fmt.Println("inventory api ready")
			return
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "inventory api not ready within %s: %v\n", timeout, err)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
	}
}
