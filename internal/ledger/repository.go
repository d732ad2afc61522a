// Package ledger persists the transaction audit log in PostgreSQL. Every
// balance change appends one row before the balance store is touched; the
// orchestrator deletes that row again when the change does not commit.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mysverse/worker-bank/internal/bank"
	"github.com/mysverse/worker-bank/pkg/commons"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
	"github.com/mysverse/worker-bank/pkg/commons/postgres"
)

const transactionColumns = "id, user_id, amount, bank_name, timestamp, discord_id"

// ErrConnectionRequired indicates the repository was built without a
// postgres connection.
var ErrConnectionRequired = errors.New("postgres connection is required")

// Repository stores ledger entries in the transactions table. It implements
// bank.Ledger. List queries run on the replica lane, writes on the primary.
type Repository struct {
	connection *postgres.PostgresConnection
}

var _ bank.Ledger = (*Repository)(nil)

// NewRepository creates a PostgreSQL ledger repository.
func NewRepository(connection *postgres.PostgresConnection) (*Repository, error) {
	if connection == nil {
		return nil, ErrConnectionRequired
	}

	return &Repository{connection: connection}, nil
}

// Append inserts one audit row and returns its generated id. A zero
// Timestamp is stamped with the current time.
func (r *Repository) Append(ctx context.Context, entry bank.LedgerEntry) (int64, error) {
	logger, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.append_ledger_entry")
	defer span.End()

	db, err := r.connection.GetDB(ctx)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "get database handle", err)

		return 0, fmt.Errorf("get database handle: %w", err)
	}

	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	// The resolver sends plain queries to the replica lane; a transaction
	// pins the RETURNING clause to the primary.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "begin transaction", err)

		return 0, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	query := "INSERT INTO transactions (user_id, amount, bank_name, timestamp, discord_id) " +
		"VALUES ($1, $2, $3, $4, $5) RETURNING id"

	var id int64
	if err := tx.QueryRowContext(ctx, query,
		entry.UserID, entry.Amount, entry.Bank, timestamp, entry.DiscordID).Scan(&id); err != nil {
		opentelemetry.HandleSpanError(&span, "insert ledger entry", err)
		logger.Log(ctx, log.LevelError, "failed to append ledger entry", log.Err(err))

		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		opentelemetry.HandleSpanError(&span, "commit transaction", err)
		logger.Log(ctx, log.LevelError, "failed to commit ledger append", log.Err(err))

		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return id, nil
}

// Remove deletes the audit row with the given id. Deleting a row that is
// already gone is a success; the compensation only cares that the row does
// not exist afterwards.
func (r *Repository) Remove(ctx context.Context, id int64) error {
	logger, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.remove_ledger_entry")
	defer span.End()

	db, err := r.connection.GetDB(ctx)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "get database handle", err)

		return fmt.Errorf("get database handle: %w", err)
	}

	result, err := db.ExecContext(ctx, "DELETE FROM transactions WHERE id = $1", id)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "delete ledger entry", err)
		logger.Log(ctx, log.LevelError, "failed to delete ledger entry", log.Int64("entry_id", id), log.Err(err))

		return fmt.Errorf("delete ledger entry: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		logger.Log(ctx, log.LevelDebug, "ledger entry already absent", log.Int64("entry_id", id))
	}

	return nil
}

// ListByAccount returns every entry for the account, most recent first. Ties
// on timestamp fall back to the insert order.
func (r *Repository) ListByAccount(ctx context.Context, account bank.Account) ([]bank.LedgerEntry, error) {
	logger, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.list_ledger_entries")
	defer span.End()

	db, err := r.connection.GetDB(ctx)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "get database handle", err)

		return nil, fmt.Errorf("get database handle: %w", err)
	}

	query := "SELECT " + transactionColumns + " FROM transactions " +
		"WHERE user_id = $1 AND bank_name = $2 ORDER BY timestamp DESC, id DESC"

	rows, err := db.QueryContext(ctx, query, account.UserID, account.Bank)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "query ledger entries", err)
		logger.Log(ctx, log.LevelError, "failed to query ledger entries", log.Err(err))

		return nil, fmt.Errorf("query ledger entries: %w", err)
	}

	defer rows.Close()

	entries := make([]bank.LedgerEntry, 0)

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			opentelemetry.HandleSpanError(&span, "scan ledger entry", err)

			return nil, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		opentelemetry.HandleSpanError(&span, "iterate ledger entries", err)

		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	return entries, nil
}

// LatestDiscordID returns the discord id recorded on the account's most
// recent entry that carries one, or nil when no entry does.
func (r *Repository) LatestDiscordID(ctx context.Context, account bank.Account) (*string, error) {
	logger, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.latest_discord_id")
	defer span.End()

	db, err := r.connection.GetDB(ctx)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "get database handle", err)

		return nil, fmt.Errorf("get database handle: %w", err)
	}

	query := "SELECT discord_id FROM transactions " +
		"WHERE user_id = $1 AND bank_name = $2 AND discord_id IS NOT NULL " +
		"ORDER BY timestamp DESC, id DESC LIMIT 1"

	var discordID string

	err = db.QueryRowContext(ctx, query, account.UserID, account.Bank).Scan(&discordID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		opentelemetry.HandleSpanError(&span, "query latest discord id", err)
		logger.Log(ctx, log.LevelError, "failed to query latest discord id", log.Err(err))

		return nil, fmt.Errorf("query latest discord id: %w", err)
	}

	return &discordID, nil
}

// scanEntry reads one transactions row into a ledger entry.
func scanEntry(scanner interface{ Scan(dest ...any) error }) (bank.LedgerEntry, error) {
	var (
		entry     bank.LedgerEntry
		discordID sql.NullString
	)

	if err := scanner.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Amount,
		&entry.Bank,
		&entry.Timestamp,
		&discordID,
	); err != nil {
		return bank.LedgerEntry{}, fmt.Errorf("scan ledger entry: %w", err)
	}

	if discordID.Valid {
		entry.DiscordID = &discordID.String
	}

	return entry, nil
}
