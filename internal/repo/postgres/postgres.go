package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

var _ repo.Store = (*Store)(nil)

const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
  id                  TEXT PRIMARY KEY,
  email               TEXT NOT NULL UNIQUE,
  password_hash       TEXT NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  trial_ends_at       TIMESTAMPTZ NOT NULL,
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
  last_checked    TIMESTAMPTZ NULL,
  last_transition TIMESTAMPTZ NULL,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (account_id, url)
);
CREATE INDEX IF NOT EXISTS idx_endpoints_account ON endpoints (account_id, created_at);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate applies the schema; it is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ---- AccountStore ----

const accountCols = `id, email, password_hash, created_at, trial_ends_at, subscription_status, customer_ref, subscription_ref`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a              domain.Account
		id, status     string
		created, trial time.Time
	)
	err := row.Scan(&id, &a.Email, &a.PasswordHash, &created, &trial, &status, &a.CustomerRef, &a.SubscriptionRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.ID = domain.AccountID(id)
	a.CreatedAt = created.UTC()
	a.TrialEndsAt = trial.UTC()
	a.SubscriptionStatus = domain.SubscriptionStatus(status)
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = domain.AccountID(uuid.NewString())
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (`+accountCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(a.ID), a.Email, a.PasswordHash, a.CreatedAt, a.TrialEndsAt,
		string(a.SubscriptionStatus), a.CustomerRef, a.SubscriptionRef,
	)
	if isUniqueViolation(err) {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, string(id)))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = $1`, email))
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY created_at, id`)
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
	tag, err := s.pool.Exec(ctx, `
UPDATE accounts
   SET customer_ref        = COALESCE(NULLIF($2, ''), customer_ref),
       subscription_ref    = COALESCE(NULLIF($3, ''), subscription_ref),
       subscription_status = $4
 WHERE id = $1`,
		string(id), customerRef, subscriptionRef, string(status))
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) SetSubscriptionStatus(ctx context.Context, subscriptionRef string, status domain.SubscriptionStatus) error {
	if subscriptionRef == "" {
		return repo.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET subscription_status = $2 WHERE subscription_ref = $1`,
		subscriptionRef, string(status))
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, id domain.AccountID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- EndpointStore ----

const endpointCols = `id, account_id, url, status, last_checked, last_transition, created_at`

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var (
		e                       domain.Endpoint
		id, owner, status       string
		lastChecked, lastChange *time.Time
		created                 time.Time
	)
	err := row.Scan(&id, &owner, &e.URL, &status, &lastChecked, &lastChange, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	e.ID = domain.EndpointID(id)
	e.AccountID = domain.AccountID(owner)
	e.Status = domain.Status(status)
	e.LastChecked = utcPtr(lastChecked)
	e.LastTransition = utcPtr(lastChange)
	e.CreatedAt = created.UTC()
	return &e, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func (s *Store) CreateEndpoint(ctx context.Context, e *domain.Endpoint, limit int) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		// Lock the owner row so concurrent creates for one account serialize
		// on the cap check.
		var owner string
		err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, string(e.AccountID)).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}

		var total, same int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*), COUNT(*) FILTER (WHERE url = $2) FROM endpoints WHERE account_id = $1`,
			string(e.AccountID), e.URL).Scan(&total, &same)
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
		_, err = tx.Exec(ctx,
			`INSERT INTO endpoints (`+endpointCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(e.ID), string(e.AccountID), e.URL, string(e.Status), e.LastChecked, e.LastTransition, e.CreatedAt)
		if isUniqueViolation(err) {
			return repo.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert endpoint: %w", err)
		}
		return nil
	})
}

func (s *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	return scanEndpoint(s.pool.QueryRow(ctx, `SELECT `+endpointCols+` FROM endpoints WHERE id = $1`, string(id)))
}

func (s *Store) ListEndpoints(ctx context.Context, owner domain.AccountID) ([]domain.Endpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+endpointCols+`
		   FROM endpoints
		  WHERE account_id = $1
		  ORDER BY created_at, id`, string(owner))
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1 AND account_id = $2`, string(id), string(owner))
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// UpdateEndpoint holds a row lock from read to write, so a concurrent delete
// either completes first (ErrNotFound) or waits for the commit.
func (s *Store) UpdateEndpoint(ctx context.Context, id domain.EndpointID, fn func(e *domain.Endpoint) error) (*domain.Endpoint, error) {
	var out *domain.Endpoint
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		e, err := scanEndpoint(tx.QueryRow(ctx,
			`SELECT `+endpointCols+` FROM endpoints WHERE id = $1 FOR UPDATE`, string(id)))
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE endpoints SET status = $2, last_checked = $3, last_transition = $4 WHERE id = $1`,
			string(id), string(e.Status), e.LastChecked, e.LastTransition)
		if err != nil {
			return fmt.Errorf("update endpoint: %w", err)
		}
		out = e
		return nil
	})
	if err != nil {
		if s.log != nil && !errors.Is(err, repo.ErrNotFound) {
			s.log.Warn("pg_update_endpoint_error", zap.String("endpoint_id", string(id)), zap.Error(err))
		}
		return nil, err
	}
	return out, nil
}
