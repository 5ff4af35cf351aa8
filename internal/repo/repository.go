package repo

import (
	"context"
	"errors"

	"github.com/hamed0406/uptimesentry/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
	ErrLimitReached = errors.New("endpoint limit reached")
)

// Ports (interfaces) implemented by the memory, sqlite and postgres adapters.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, id domain.AccountID) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	// SetSubscription records the provider subscription for an account and
	// its status, e.g. after a completed checkout.
	SetSubscription(ctx context.Context, id domain.AccountID, customerRef, subscriptionRef string, status domain.SubscriptionStatus) error
	// SetSubscriptionStatus updates the account holding subscriptionRef.
	SetSubscriptionStatus(ctx context.Context, subscriptionRef string, status domain.SubscriptionStatus) error
	// DeleteAccount removes the account and every endpoint it owns.
	DeleteAccount(ctx context.Context, id domain.AccountID) error
}

type EndpointStore interface {
	// CreateEndpoint inserts e unless its owner already has limit endpoints
	// (ErrLimitReached) or the same URL (ErrDuplicate). Nothing is written on
	// failure.
	CreateEndpoint(ctx context.Context, e *domain.Endpoint, limit int) error
	GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error)
	ListEndpoints(ctx context.Context, owner domain.AccountID) ([]domain.Endpoint, error)
	DeleteEndpoint(ctx context.Context, owner domain.AccountID, id domain.EndpointID) error
	// UpdateEndpoint reads the current record, passes it to fn and writes it
	// back as one atomic step. A record deleted concurrently yields ErrNotFound
	// and is never recreated. If fn returns an error nothing is written.
	UpdateEndpoint(ctx context.Context, id domain.EndpointID, fn func(e *domain.Endpoint) error) (*domain.Endpoint, error)
}

// Store is the full persistence surface used by cmd/api.
type Store interface {
	AccountStore
	EndpointStore
	Close() error
}
