// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/pressly/goose/v3"

	_ "github.com/lib/pq"
)

type AppConfig struct {
	Port     string
	PageSize int

	// PollInterval drives the pollers that stand in for push
	// subscriptions when the backend cannot push.
	PollInterval time.Duration

	RankCacheTTL     time.Duration
	RankBoundaryHour int

	WorkerInterval time.Duration
	RankingsLimit  int

	// CommentCountAuthority decides whether the stored comments counter
	// is trusted as-is or derived from attached reply rows.
	CommentCountAuthority store.CountAuthority
}

func Load() *AppConfig {
	cfg := &AppConfig{
		Port:                  envOr("PORT", "8080"),
		PageSize:              envIntOr("FEED_PAGE_SIZE", 20),
		PollInterval:          time.Duration(envIntOr("POLL_INTERVAL_SECONDS", 5)) * time.Second,
		RankCacheTTL:          time.Duration(envIntOr("RANK_CACHE_TTL_MINUTES", 5)) * time.Minute,
		RankBoundaryHour:      envIntOr("RANK_BOUNDARY_HOUR", 5),
		WorkerInterval:        time.Duration(envIntOr("WORKER_INTERVAL_MINUTES", 5)) * time.Minute,
		RankingsLimit:         envIntOr("RANKINGS_LIMIT", 50),
		CommentCountAuthority: store.CountAuthorityServer,
	}
	if os.Getenv("COMMENT_COUNT_AUTHORITY") == string(store.CountAuthorityClient) {
		cfg.CommentCountAuthority = store.CountAuthorityClient
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func LoadDatabase() (*sql.DB, error) {

	dbName := os.Getenv("POSTGRES_DB")
	dbUserName := os.Getenv("POSTGRES_USER")
	dbPassword := os.Getenv("POSTGRES_PASSWORD")
	dbHost := envOr("POSTGRES_HOST", "db:5432")

	if dbName == "" || dbUserName == "" || dbPassword == "" {
		return nil, fmt.Errorf("Failed to load the environment configuration.")
	}

	connectDbUrl := fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=disable", dbUserName, dbPassword, dbHost, dbName)

	db, err := sql.Open("postgres", connectDbUrl)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to the DB. Error: %v", err)
	}

	migrationsDir := "./sql/schema"
	if err := goose.Up(db, migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	version, err := goose.EnsureDBVersion(db)
	if err != nil {
		return nil, fmt.Errorf("failed to get DB version: %v", err)
	}
	fmt.Printf("Migrations applied successfully. Current DB version: %d\n", version)

	return db, nil
}
