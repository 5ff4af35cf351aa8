package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Store implements repo.Store on a single SQLite file. All access goes
// through one connection, which serializes write transactions.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL UNIQUE,
	password_hash       TEXT NOT NULL,
	created_at          TEXT NOT NULL,
	trial_ends_at       TEXT NOT NULL,
	subscription_status TEXT NOT NULL DEFAULT 'trialing',
	customer_ref        TEXT NOT NULL DEFAULT '',
	subscription_ref    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_accounts_subscription_ref ON accounts (subscription_ref);

CREATE TABLE IF NOT EXISTS endpoints (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	url             TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'UNKNOWN',
	last_checked    TEXT,
	last_transition TEXT,
	created_at      TEXT NOT NULL,
	UNIQUE (account_id, url)
);
CREATE INDEX IF NOT EXISTS idx_endpoints_account ON endpoints (account_id, created_at);
`

// New opens (creating if needed) the database file at path and migrates it.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Fixed-width so that TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

// ---- AccountStore ----

const accountCols = `id, email, password_hash, created_at, trial_ends_at, subscription_status, customer_ref, subscription_ref`

func scanAccount(row scanner) (*domain.Account, error) {
	var (
		a                  domain.Account
		created, trialEnds string
		status             string
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &created, &trialEnds, &status, &a.CustomerRef, &a.SubscriptionRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.CreatedAt = parseTime(created)
	a.TrialEndsAt = parseTime(trialEnds)
	a.SubscriptionStatus = domain.SubscriptionStatus(status)
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE email = ?`, a.Email).Scan(&n); err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if n > 0 {
		return repo.ErrDuplicate
	}
	if a.ID == "" {
		a.ID = domain.AccountID(uuid.NewString())
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (`+accountCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Email, a.PasswordHash, formatTime(a.CreatedAt), formatTime(a.TrialEndsAt),
		string(a.SubscriptionStatus), a.CustomerRef, a.SubscriptionRef)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetAccount(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, string(id)))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, email))
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) SetSubscription(ctx context.Context, id domain.AccountID, customerRef, subscriptionRef string, status domain.SubscriptionStatus) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE accounts
   SET customer_ref = CASE WHEN ? = '' THEN customer_ref ELSE ? END,
       subscription_ref = CASE WHEN ? = '' THEN subscription_ref ELSE ? END,
       subscription_status = ?
 WHERE id = ?`,
		customerRef, customerRef, subscriptionRef, subscriptionRef, string(status), string(id))
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	return requireRow(res)
}

func (s *Store) SetSubscriptionStatus(ctx context.Context, subscriptionRef string, status domain.SubscriptionStatus) error {
	if subscriptionRef == "" {
		return repo.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET subscription_status = ? WHERE subscription_ref = ?`,
		string(status), subscriptionRef)
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteAccount(ctx context.Context, id domain.AccountID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM endpoints WHERE account_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete endpoints: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- EndpointStore ----

const endpointCols = `id, account_id, url, status, last_checked, last_transition, created_at`

func scanEndpoint(row scanner) (*domain.Endpoint, error) {
	var (
		e                       domain.Endpoint
		status, created         string
		lastChecked, lastChange sql.NullString
	)
	err := row.Scan(&e.ID, &e.AccountID, &e.URL, &status, &lastChecked, &lastChange, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	e.Status = domain.Status(status)
	e.LastChecked = timePtr(lastChecked)
	e.LastTransition = timePtr(lastChange)
	e.CreatedAt = parseTime(created)
	return &e, nil
}

func (s *Store) CreateEndpoint(ctx context.Context, e *domain.Endpoint, limit int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var owners int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE id = ?`, string(e.AccountID)).Scan(&owners); err != nil {
		return fmt.Errorf("check owner: %w", err)
	}
	if owners == 0 {
		return repo.ErrNotFound
	}

	var total, same int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN url = ? THEN 1 ELSE 0 END), 0) FROM endpoints WHERE account_id = ?`,
		e.URL, string(e.AccountID)).Scan(&total, &same)
	if err != nil {
		return fmt.Errorf("count endpoints: %w", err)
	}
	if same > 0 {
		return repo.ErrDuplicate
	}
	if limit > 0 && total >= limit {
		return repo.ErrLimitReached
	}

	if e.ID == "" {
		e.ID = domain.EndpointID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = domain.StatusUnknown
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO endpoints (`+endpointCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.AccountID), e.URL, string(e.Status),
		nullTime(e.LastChecked), nullTime(e.LastTransition), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	return scanEndpoint(s.db.QueryRowContext(ctx, `SELECT `+endpointCols+` FROM endpoints WHERE id = ?`, string(id)))
}

func (s *Store) ListEndpoints(ctx context.Context, owner domain.AccountID) ([]domain.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointCols+` FROM endpoints WHERE account_id = ? ORDER BY created_at, id`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()
	var out []domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEndpoint(ctx context.Context, owner domain.AccountID, id domain.EndpointID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ? AND account_id = ?`, string(id), string(owner))
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return requireRow(res)
}

func (s *Store) UpdateEndpoint(ctx context.Context, id domain.EndpointID, fn func(e *domain.Endpoint) error) (*domain.Endpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	e, err := scanEndpoint(tx.QueryRowContext(ctx, `SELECT `+endpointCols+` FROM endpoints WHERE id = ?`, string(id)))
	if err != nil {
		return nil, err
	}
	if err := fn(e); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE endpoints SET status = ?, last_checked = ?, last_transition = ? WHERE id = ?`,
		string(e.Status), nullTime(e.LastChecked), nullTime(e.LastTransition), string(id))
	if err != nil {
		return nil, fmt.Errorf("update endpoint: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}
