package domain

import "time"

type AccountID string

type EndpointID string

// SubscriptionStatus mirrors the billing provider's subscription state.
// Values other than the constants below are stored verbatim.
type SubscriptionStatus string

const (
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type Account struct {
	ID                 AccountID          `json:"id"`
	Email              string             `json:"email"`
	PasswordHash       string             `json:"-"`
	CreatedAt          time.Time          `json:"created_at"`
	TrialEndsAt        time.Time          `json:"trial_ends_at"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	CustomerRef        string             `json:"customer_ref,omitempty"`
	SubscriptionRef    string             `json:"subscription_ref,omitempty"`
}

// Entitled reports whether the account's endpoints may be checked at now:
// an active subscription, or a trial whose expiry is still in the future.
func (a Account) Entitled(now time.Time) bool {
	switch a.SubscriptionStatus {
	case SubscriptionActive:
		return true
	case SubscriptionTrialing:
		return now.Before(a.TrialEndsAt)
	}
	return false
}

type Endpoint struct {
	ID             EndpointID `json:"id"`
	AccountID      AccountID  `json:"account_id"`
	URL            string     `json:"url"`
	Status         Status     `json:"status"`
	LastChecked    *time.Time `json:"last_checked,omitempty"`
	LastTransition *time.Time `json:"last_transition,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Apply records verdict v observed at now on the endpoint and returns the
// resulting transition.
func (e *Endpoint) Apply(v Verdict, now time.Time) Transition {
	tr := Apply(e.Status, v, now)
	at := tr.At
	e.Status = tr.To
	e.LastChecked = &at
	if tr.Changed {
		e.LastTransition = &at
	}
	return tr
}
