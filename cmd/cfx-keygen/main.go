// cfx-keygen manages API keys for the cfx-router store. The plaintext key is
// printed exactly once at creation; only its keyed digest is persisted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cfx-labs/cfx-router/internal/config"
	"github.com/cfx-labs/cfx-router/internal/keys"
	"github.com/cfx-labs/cfx-router/internal/security"
	"github.com/cfx-labs/cfx-router/internal/storage/sqlite"
)

func main() {
	userID := flag.String("user", "", "user ID to issue the key for")
	revoke := flag.String("revoke", "", "key ID to revoke instead of creating")
	flag.Parse()

	if err := run(*userID, *revoke); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(userID, revoke string) error {
	if userID == "" && revoke == "" {
		return fmt.Errorf("either -user or -revoke is required")
	}

	cfg := config.FromEnv()

	hasher, err := security.New(cfg.HashSalt, cfg.KeyHashPepper)
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.StoreURL)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := keys.NewManager(store, hasher)
	ctx := context.Background()

	if revoke != "" {
		if err := mgr.RevokeKey(ctx, revoke); err != nil {
			return err
		}
		fmt.Printf("revoked key %s\n", revoke)
		return nil
	}

	plaintext, key, err := mgr.CreateKey(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Printf("key id:  %s\n", key.ID)
	fmt.Printf("user:    %s\n", key.UserID)
	fmt.Printf("api key: %s\n", plaintext)
	fmt.Println("store this key now; it cannot be recovered later")
	return nil
}
