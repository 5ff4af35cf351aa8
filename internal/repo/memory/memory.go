package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

// Store keeps accounts and endpoints in process memory. Values are copied on
// the way in and out so callers never share records with the store.
type Store struct {
	mu        sync.RWMutex
	accounts  map[domain.AccountID]domain.Account
	endpoints map[domain.EndpointID]domain.Endpoint
}

func New() *Store {
	return &Store{
		accounts:  make(map[domain.AccountID]domain.Account),
		endpoints: make(map[domain.EndpointID]domain.Endpoint),
	}
}

func (m *Store) Close() error { return nil }

// ---- AccountStore ----

func (m *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.accounts {
		if cur.Email == a.Email {
			return repo.ErrDuplicate
		}
	}
	if a.ID == "" {
		a.ID = domain.AccountID(uuid.NewString())
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.accounts[a.ID] = *a
	return nil
}

func (m *Store) GetAccount(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &a, nil
}

func (m *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Store) SetSubscription(ctx context.Context, id domain.AccountID, customerRef, subscriptionRef string, status domain.SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return repo.ErrNotFound
	}
	if customerRef != "" {
		a.CustomerRef = customerRef
	}
	if subscriptionRef != "" {
		a.SubscriptionRef = subscriptionRef
	}
	a.SubscriptionStatus = status
	m.accounts[id] = a
	return nil
}

func (m *Store) SetSubscriptionStatus(ctx context.Context, subscriptionRef string, status domain.SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		if subscriptionRef != "" && a.SubscriptionRef == subscriptionRef {
			a.SubscriptionStatus = status
			m.accounts[id] = a
			return nil
		}
	}
	return repo.ErrNotFound
}

func (m *Store) DeleteAccount(ctx context.Context, id domain.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.accounts, id)
	for eid, e := range m.endpoints {
		if e.AccountID == id {
			delete(m.endpoints, eid)
		}
	}
	return nil
}

// ---- EndpointStore ----

func (m *Store) CreateEndpoint(ctx context.Context, e *domain.Endpoint, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[e.AccountID]; !ok {
		return repo.ErrNotFound
	}
	n := 0
	for _, cur := range m.endpoints {
		if cur.AccountID != e.AccountID {
			continue
		}
		if cur.URL == e.URL {
			return repo.ErrDuplicate
		}
		n++
	}
	if limit > 0 && n >= limit {
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
	m.endpoints[e.ID] = *e
	return nil
}

func (m *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.endpoints[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &e, nil
}

func (m *Store) ListEndpoints(ctx context.Context, owner domain.AccountID) ([]domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Endpoint, 0, 4)
	for _, e := range m.endpoints {
		if e.AccountID == owner {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Store) DeleteEndpoint(ctx context.Context, owner domain.AccountID, id domain.EndpointID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok || e.AccountID != owner {
		return repo.ErrNotFound
	}
	delete(m.endpoints, id)
	return nil
}

func (m *Store) UpdateEndpoint(ctx context.Context, id domain.EndpointID, fn func(e *domain.Endpoint) error) (*domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if err := fn(&e); err != nil {
		return nil, err
	}
	m.endpoints[id] = e
	out := e
	return &out, nil
}
