// Package store persists ArticleRecords in PostgreSQL. Queries are built with
// squirrel and executed on the shared lib/pq pool.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/postgres"
)

const table = "articles"

var columns = []string{"id", "owner_id", "url", "title", "summary", "topics", "status", "created_at"}

// Store is the PostgreSQL-backed record store.
type Store struct {
	db     *postgres.Client
	qb     sq.StatementBuilderType
	logger *slog.Logger
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		qb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger: slog.Default().With("component", "article-store"),
	}
}

// Create inserts rec. The id, owner, url and creation time are never updated
// afterwards.
func (s *Store) Create(ctx context.Context, rec article.Record) error {
	query, args, err := s.qb.Insert(table).
		Columns(columns...).
		Values(rec.ID, rec.OwnerID, rec.URL, rec.Title, nullString(rec.Summary),
			pq.StringArray(nonNil(rec.Topics)), string(rec.Status), rec.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: building insert: %w", apperrors.ErrPersistence, err)
	}
	if _, err := s.db.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: inserting article %s: %w", apperrors.ErrPersistence, rec.ID, err)
	}
	return nil
}

// ListByOwner returns every record of ownerID, newest first. Records with the
// same creation time come back in insertion order.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]article.Record, error) {
	query, args, err := s.qb.Select(columns...).
		From(table).
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: building select: %w", apperrors.ErrPersistence, err)
	}
	return s.query(ctx, query, args...)
}

// Get returns one record or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*article.Record, error) {
	query, args, err := s.qb.Select(columns...).
		From(table).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: building select: %w", apperrors.ErrPersistence, err)
	}
	rec, err := scanRecord(s.db.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: article %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading article %s: %w", apperrors.ErrPersistence, id, err)
	}
	return rec, nil
}

// DeleteByID removes the record regardless of owner or status.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	query, args, err := s.qb.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("%w: building delete: %w", apperrors.ErrPersistence, err)
	}
	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: deleting article %s: %w", apperrors.ErrPersistence, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: deleting article %s: %w", apperrors.ErrPersistence, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: article %s", apperrors.ErrNotFound, id)
	}
	return nil
}

// ApplyResult writes a worker outcome onto a pending record. It reports
// false without error when the record is gone or already terminal.
func (s *Store) ApplyResult(ctx context.Context, id string, res article.Result) (bool, error) {
	res = res.Normalize()
	if !article.StatusPending.CanTransition(res.Status) {
		return false, fmt.Errorf("%w: cannot move article to %q", apperrors.ErrInvalidState, res.Status)
	}

	update := s.qb.Update(table).
		Set("status", string(res.Status)).
		Set("summary", res.Summary).
		Where(sq.Eq{"id": id, "status": string(article.StatusPending)})
	if res.Status == article.StatusCompleted {
		update = update.
			Set("title", res.Title).
			Set("topics", pq.StringArray(res.Topics))
	}

	query, args, err := update.ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: building update: %w", apperrors.ErrPersistence, err)
	}
	out, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%w: updating article %s: %w", apperrors.ErrPersistence, id, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: updating article %s: %w", apperrors.ErrPersistence, id, err)
	}
	if n == 0 {
		s.logger.Info("result ignored", "article_id", id, "status", res.Status)
		return false, nil
	}
	return true, nil
}

// ListStalePending returns pending records created before cutoff, oldest
// first.
func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time) ([]article.Record, error) {
	query, args, err := s.qb.Select(columns...).
		From(table).
		Where(sq.Eq{"status": string(article.StatusPending)}).
		Where(sq.Lt{"created_at": cutoff}).
		OrderBy("created_at ASC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: building select: %w", apperrors.ErrPersistence, err)
	}
	return s.query(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]article.Record, error) {
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying articles: %w", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	records := []article.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning article row: %w", apperrors.ErrPersistence, err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating articles: %w", apperrors.ErrPersistence, err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*article.Record, error) {
	var (
		rec     article.Record
		summary sql.NullString
		topics  pq.StringArray
		status  string
	)
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.URL, &rec.Title, &summary, &topics, &status, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if summary.Valid {
		rec.Summary = &summary.String
	}
	rec.Topics = nonNil(topics)
	rec.Status = article.Status(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
