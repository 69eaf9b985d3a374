// internal/repository/postgres_keystore.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/security"
	"custody-service/internal/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const keystoreSchema = `
CREATE TABLE IF NOT EXISTS wallet_keystore (
	id                 TEXT PRIMARY KEY,
	chain              TEXT NOT NULL,
	address            TEXT NOT NULL,
	address_key        TEXT NOT NULL UNIQUE,
	wallet_json        JSONB NOT NULL,
	secrets_enc        TEXT,
	encryption_version TEXT,
	institutional      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS wallet_keystore_chain_idx ON wallet_keystore (chain);
`

// PostgresKeystore stores one row per wallet with its secrets sealed by the
// master key.
type PostgresKeystore struct {
	pool       *pgxpool.Pool
	encryption *security.Encryption
}

func NewPostgresKeystore(pool *pgxpool.Pool, encryption *security.Encryption) *PostgresKeystore {
	return &PostgresKeystore{pool: pool, encryption: encryption}
}

// Migrate creates the keystore table when missing.
func (r *PostgresKeystore) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, keystoreSchema); err != nil {
		return fmt.Errorf("failed to migrate keystore: %w", err)
	}
	return nil
}

// Save inserts the record or refreshes the wallet columns of an existing
// one. Stored secrets are kept when present.
func (r *PostgresKeystore) Save(ctx context.Context, rec *KeyRecord) error {
	if rec.Wallet.ID == "" {
		return xerrors.BadRequest("wallet id is required")
	}
	walletJSON, err := json.Marshal(rec.Wallet)
	if err != nil {
		return fmt.Errorf("failed to encode wallet: %w", err)
	}
	sealed, err := r.encryption.SealSecrets(rec.Secrets)
	if err != nil {
		return fmt.Errorf("failed to seal secrets: %w", err)
	}
	var secretsEnc, version *string
	if sealed != "" {
		v := r.encryption.Version()
		secretsEnc, version = &sealed, &v
	}

	query := `
		INSERT INTO wallet_keystore (
			id, chain, address, address_key, wallet_json,
			secrets_enc, encryption_version, institutional, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			wallet_json        = EXCLUDED.wallet_json,
			institutional      = EXCLUDED.institutional,
			secrets_enc        = COALESCE(wallet_keystore.secrets_enc, EXCLUDED.secrets_enc),
			encryption_version = COALESCE(wallet_keystore.encryption_version, EXCLUDED.encryption_version),
			updated_at         = NOW()
	`
	_, err = r.pool.Exec(ctx, query,
		rec.Wallet.ID,
		rec.Wallet.Chain,
		rec.Wallet.Address,
		addressKey(rec.Wallet.Chain, rec.Wallet.Address),
		walletJSON,
		secretsEnc,
		version,
		rec.Wallet.Metadata.Institutional,
		rec.Wallet.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return xerrors.BadRequest("wallet address already exists: %s", rec.Wallet.Address)
	}
	if err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	return nil
}

const selectRecord = `
	SELECT wallet_json, secrets_enc, updated_at
	FROM wallet_keystore
`

func (r *PostgresKeystore) scanRecord(row pgx.Row) (*KeyRecord, error) {
	var (
		walletJSON []byte
		secretsEnc *string
		updatedAt  time.Time
	)
	err := row.Scan(&walletJSON, &secretsEnc, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	rec := &KeyRecord{UpdatedAt: updatedAt}
	if err := json.Unmarshal(walletJSON, &rec.Wallet); err != nil {
		return nil, fmt.Errorf("failed to decode wallet: %w", err)
	}
	if secretsEnc != nil {
		rec.Secrets, err = r.encryption.OpenSecrets(*secretsEnc)
		if err != nil {
			return nil, fmt.Errorf("failed to open secrets of %s: %w", rec.Wallet.ID, err)
		}
	}
	return rec, nil
}

func (r *PostgresKeystore) Get(ctx context.Context, id string) (*KeyRecord, error) {
	return r.scanRecord(r.pool.QueryRow(ctx, selectRecord+`WHERE id = $1`, id))
}

func (r *PostgresKeystore) GetByAddress(ctx context.Context, chain domain.ChainID, address string) (*KeyRecord, error) {
	return r.scanRecord(r.pool.QueryRow(ctx, selectRecord+`WHERE address_key = $1`, addressKey(chain, address)))
}

// UpdateWallet rewrites label and metadata only.
func (r *PostgresKeystore) UpdateWallet(ctx context.Context, wallet domain.Wallet) error {
	rec, err := r.Get(ctx, wallet.ID)
	if err != nil {
		return err
	}
	rec.Wallet.Label = wallet.Label
	rec.Wallet.Metadata = wallet.Metadata
	walletJSON, err := json.Marshal(rec.Wallet)
	if err != nil {
		return fmt.Errorf("failed to encode wallet: %w", err)
	}

	query := `
		UPDATE wallet_keystore
		SET wallet_json = $2, institutional = $3, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, wallet.ID, walletJSON, wallet.Metadata.Institutional)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrWalletNotFound
	}
	return nil
}

func (r *PostgresKeystore) All(ctx context.Context) ([]domain.Wallet, error) {
	rows, err := r.pool.Query(ctx, `SELECT wallet_json FROM wallet_keystore ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var out []domain.Wallet
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		var w domain.Wallet
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("failed to decode wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
