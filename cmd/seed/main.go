package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	orgSlug := envOrDefault("SEED_ORG_SLUG", "local-dev")
	orgName := envOrDefault("SEED_ORG_NAME", "Local Dev Organization")
	metaToken := os.Getenv("META_ACCESS_TOKEN")
	metaAccount := os.Getenv("META_AD_ACCOUNT_ID")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback(ctx)

	var organizationID uuid.UUID
	if err := tx.QueryRow(ctx, `
		INSERT INTO organizations (slug, name)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, orgSlug, orgName).Scan(&organizationID); err != nil {
		log.Fatalf("upsert organization: %v", err)
	}

	if metaToken != "" && metaAccount != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO meta_connections (organization_id, ad_account_id, access_token, status)
			VALUES ($1, $2, $3, 'active')
			ON CONFLICT (organization_id, ad_account_id) DO UPDATE SET
				access_token = EXCLUDED.access_token,
				status = 'active',
				updated_at = now()
		`, organizationID, metaAccount, metaToken); err != nil {
			log.Fatalf("upsert meta connection: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("commit tx: %v", err)
	}

	fmt.Printf("Seed completed. organization=%s id=%s\n", orgSlug, organizationID)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
