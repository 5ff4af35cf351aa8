package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

// Gate decides which accounts may have their endpoints checked. It holds no
// state; every call re-evaluates against the store and the supplied time.
type Gate struct {
	Accounts repo.AccountStore
}

func New(accounts repo.AccountStore) *Gate {
	return &Gate{Accounts: accounts}
}

// EligibleAccounts returns the accounts entitled at now, in store order.
func (g *Gate) EligibleAccounts(ctx context.Context, now time.Time) ([]domain.Account, error) {
	all, err := g.Accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]domain.Account, 0, len(all))
	for _, a := range all {
		if g.Allowed(a, now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *Gate) Allowed(a domain.Account, now time.Time) bool {
	return a.Entitled(now)
}
