// cmd/keygen/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"custody-service/internal/config"
	"custody-service/internal/security"

	"go.uber.org/zap"
)

func main() {
	raw := flag.Bool("raw", false, "print only the key")
	vaultKey := flag.Bool("vault", false, "label the key for FILE_VAULT_KEY instead of CRYPTO_MASTER_KEY")
	store := flag.Bool("store", false, "write the key as master key into the file vault (FILE_VAULT_DIR, FILE_VAULT_KEY)")
	force := flag.Bool("force", false, "with -store, replace an existing master key")
	flag.Parse()

	key, err := security.GenerateMasterKey()
	if err != nil {
		log.Fatal(err)
	}

	if *store {
		if err := storeMasterKey(key, *force); err != nil {
			if errors.Is(err, security.ErrSecretExists) {
				log.Fatal("master key already stored; pass -force to replace it")
			}
			log.Fatal(err)
		}
		fmt.Println("master key stored in file vault")
		return
	}

	if *raw {
		fmt.Println(key)
		return
	}

	name := "CRYPTO_MASTER_KEY"
	if *vaultKey {
		name = "FILE_VAULT_KEY"
	}

	fmt.Println("==============================================")
	fmt.Println("Generated AES-256 key:")
	fmt.Println("==============================================")
	fmt.Println(key)
	fmt.Println("==============================================")
	fmt.Println("Add this to your .env file as:")
	fmt.Println(name + "=" + key)
	fmt.Println("==============================================")
	fmt.Fprintln(os.Stderr, "Keep this key secret. Wallets sealed with it cannot be opened without it.")
}

func storeMasterKey(key string, force bool) error {
	config.LoadEnv()

	dir := os.Getenv("FILE_VAULT_DIR")
	if dir == "" {
		dir = "./vault"
	}
	vaultKey := os.Getenv("FILE_VAULT_KEY")
	if vaultKey == "" {
		return errors.New("FILE_VAULT_KEY is required with -store")
	}

	provider, err := security.NewFileVaultProvider(dir, vaultKey)
	if err != nil {
		return fmt.Errorf("failed to open file vault: %w", err)
	}
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	return security.NewVault(provider, logger).StoreMasterKey(context.Background(), key, force)
}
