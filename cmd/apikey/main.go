package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/leadrgg/leadr-core/internal/infra/config"
	"github.com/leadrgg/leadr-core/internal/infra/database"
	kafkainfra "github.com/leadrgg/leadr-core/internal/infra/kafka"
	"github.com/leadrgg/leadr-core/internal/infra/logger"
	postgresrepo "github.com/leadrgg/leadr-core/internal/repository/postgres"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

// Bootstraps the first API key of an account, before any key exists to call the admin API with.
func main() {
	_ = godotenv.Load()

	accountID := flag.String("account", "", "account that owns the key")
	userID := flag.String("user", "", "user the key acts for")
	name := flag.String("name", "bootstrap", "display name of the key")
	ttl := flag.Duration("ttl", 0, "optional lifetime, e.g. 720h")
	flag.Parse()

	if *accountID == "" || *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, zl)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repos := postgresrepo.NewRepositories(pool)
	keys := usecase.NewAPIKeyService(repos.APIKeys, kafkainfra.NewStubPublisher(zl), cfg.Auth.APIKeySecret, zl)

	var expiresAt *time.Time
	if *ttl > 0 {
		at := time.Now().UTC().Add(*ttl)
		expiresAt = &at
	}

	key, plaintext, err := keys.Issue(ctx, usecase.IssueAPIKeyInput{
		AccountID: *accountID,
		UserID:    *userID,
		Name:      *name,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		log.Fatalf("failed to issue key: %v", err)
	}
	zl.Info("Bootstrap api key issued",
		zap.String("key_id", key.ID),
		zap.String("account_id", key.AccountID),
		zap.String("api_key", logger.MaskAPIKey(plaintext, len(key.KeyPrefix))),
	)

	fmt.Printf("key id:  %s\nprefix:  %s\napi key: %s\n\nStore the api key now; it cannot be shown again.\n", key.ID, key.KeyPrefix, plaintext)
}
