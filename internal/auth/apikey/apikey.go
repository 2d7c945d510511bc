// Package apikey stores owner-bound API keys in PostgreSQL. Raw keys are
// generated with crypto/rand and only their SHA-256 digest is persisted; a
// validated key resolves to the owner whose records the caller may touch.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/postgres"
)

var (
	ErrInvalidKey = fmt.Errorf("%w: invalid api key", apperrors.ErrUnauthorized)
	ErrExpiredKey = fmt.Errorf("%w: api key expired", apperrors.ErrUnauthorized)
)

// KeyInfo describes a key without its secret.
type KeyInfo struct {
	ID        int64      `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

var keyColumns = []string{"id", "owner_id", "name", "rate_limit", "is_active", "created_at", "expires_at"}

type Validator struct {
	db     *postgres.Client
	qb     sq.StatementBuilderType
	now    func() time.Time
	logger *slog.Logger
}

func NewValidator(db *postgres.Client) *Validator {
	return &Validator{
		db:     db,
		qb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:    time.Now,
		logger: slog.Default().With("component", "apikey"),
	}
}

// Validate resolves a raw key to its KeyInfo. Unknown and revoked keys give
// ErrInvalidKey; keys past their expiry give ErrExpiredKey.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	query, args, err := v.qb.Select(keyColumns...).
		From("api_keys").
		Where(sq.Eq{"key_hash": HashKey(rawKey), "is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building key lookup: %w", err)
	}

	info, err := scanKey(v.db.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying api key: %w", apperrors.ErrPersistence, err)
	}
	if info.ExpiresAt != nil && info.ExpiresAt.Before(v.now()) {
		return nil, ErrExpiredKey
	}
	return info, nil
}

// CreateKey issues a key for ownerID and returns the raw key. It cannot be
// recovered later.
func (v *Validator) CreateKey(ctx context.Context, ownerID, name string, rateLimit int, expiresAt *time.Time) (string, error) {
	if ownerID == "" || name == "" {
		return "", fmt.Errorf("%w: owner and name are required", apperrors.ErrInvalidInput)
	}
	rawKey, err := generateRawKey()
	if err != nil {
		return "", err
	}

	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	query, args, err := v.qb.Insert("api_keys").
		Columns("key_hash", "owner_id", "name", "rate_limit", "expires_at").
		Values(HashKey(rawKey), ownerID, name, rateLimit, expiry).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building key insert: %w", err)
	}
	if _, err := v.db.DB.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("%w: creating api key: %w", apperrors.ErrPersistence, err)
	}

	v.logger.Info("api key created", "owner_id", ownerID, "name", name, "rate_limit", rateLimit)
	return rawKey, nil
}

// RevokeKey deactivates a key.
func (v *Validator) RevokeKey(ctx context.Context, rawKey string) error {
	query, args, err := v.qb.Update("api_keys").
		Set("is_active", false).
		Where(sq.Eq{"key_hash": HashKey(rawKey)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building key revoke: %w", err)
	}
	res, err := v.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: revoking api key: %w", apperrors.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidKey
	}
	v.logger.Info("api key revoked")
	return nil
}

// ListKeys returns active keys, optionally only those of ownerID.
func (v *Validator) ListKeys(ctx context.Context, ownerID string) ([]KeyInfo, error) {
	sel := v.qb.Select(keyColumns...).
		From("api_keys").
		Where(sq.Eq{"is_active": true}).
		OrderBy("created_at DESC")
	if ownerID != "" {
		sel = sel.Where(sq.Eq{"owner_id": ownerID})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building key list: %w", err)
	}
	rows, err := v.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing api keys: %w", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	keys := []KeyInfo{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func scanKey(row interface{ Scan(...any) error }) (*KeyInfo, error) {
	var (
		k         KeyInfo
		expiresAt sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.OwnerID, &k.Name, &k.RateLimit, &k.IsActive, &k.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	return &k, nil
}

// HashKey returns the hex SHA-256 digest of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
