package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/model-playground/internal/cli"
	"github.com/nulzo/model-playground/internal/config"
	"github.com/nulzo/model-playground/internal/platform/logger"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/internal/store/model"
	"github.com/nulzo/model-playground/internal/store/postgres"
	"github.com/nulzo/model-playground/internal/store/sqlite"
	"go.uber.org/zap"
)

type seeded struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	KeyID     string `json:"key_id"`
	KeyPrefix string `json:"key_prefix"`
	APIKey    string `json:"api_key"`
}

func main() {
	email := flag.String("email", "test@example.com", "Email of the seeded user")
	name := flag.String("name", "Test User", "Display name of the seeded user")
	keyName := flag.String("key-name", "Test Key", "Label for the generated API key")
	flag.Parse()

	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	var repo store.Repository
	switch cfg.Database.Driver {
	case "postgres":
		repo, err = postgres.NewPostgresStorage(ctx, cfg.Database.DSN, logger.Get())
	default:
		repo, err = sqlite.NewSQLiteStorage(cfg.Database.DSN, logger.Get())
	}
	if err != nil {
		logger.Fatal("Failed to open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer repo.Close()

	now := time.Now().UTC()
	user := &model.User{
		ID:        uuid.NewString(),
		Email:     *email,
		Name:      *name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Users().Create(ctx, user); err != nil {
		logger.Fatal("Failed to create user", zap.String("email", *email), zap.Error(err))
	}

	rawKey, err := generateKey()
	if err != nil {
		logger.Fatal("Failed to generate key", zap.Error(err))
	}
	hash := sha256.Sum256([]byte(rawKey))

	key := &model.APIKey{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Name:      *keyName,
		KeyHash:   hex.EncodeToString(hash[:]),
		KeyPrefix: rawKey[:8],
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.APIKeys().Create(ctx, key); err != nil {
		logger.Fatal("Failed to create api key", zap.Error(err))
	}

	logger.Info("Seeded database", zap.String("user_id", user.ID), zap.String("key_id", key.ID))

	cli.PrettyPrint(seeded{
		UserID:    user.ID,
		Email:     user.Email,
		KeyID:     key.ID,
		KeyPrefix: key.KeyPrefix,
		APIKey:    rawKey,
	})
	fmt.Printf("\n%s The key is shown once. Use it as: Authorization: Bearer %s\n", cli.WarningSign(), rawKey)
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return "sk-pg-" + hex.EncodeToString(buf), nil
}
