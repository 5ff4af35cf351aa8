// Package billing ingests signed payment-provider webhooks and records the
// resulting subscription status on the account.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

const maxBodyBytes = 65536

type Handler struct {
	Accounts repo.AccountStore
	Secret   string
	Logger   *zap.Logger
}

func NewHandler(accounts repo.AccountStore, secret string, log *zap.Logger) *Handler {
	return &Handler{Accounts: accounts, Secret: secret, Logger: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid payload")
		return
	}
	ev, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.Logger.Warn("billing_bad_signature", zap.Error(err))
		writeStatus(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := h.apply(r, ev); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Events for subscriptions we never recorded are acknowledged so
			// the provider stops retrying them.
			h.Logger.Info("billing_unknown_subscription", zap.String("event", string(ev.Type)), zap.Error(err))
			writeStatus(w, http.StatusOK, "ignored")
			return
		}
		h.Logger.Error("billing_apply_error", zap.String("event", string(ev.Type)), zap.Error(err))
		writeStatus(w, http.StatusInternalServerError, "could not apply event")
		return
	}
	writeStatus(w, http.StatusOK, "ok")
}

func (h *Handler) apply(r *http.Request, ev stripe.Event) error {
	ctx := r.Context()
	switch ev.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		if cs.ClientReferenceID == "" {
			return fmt.Errorf("checkout session %s: %w", cs.ID, repo.ErrNotFound)
		}
		var customer, sub string
		if cs.Customer != nil {
			customer = cs.Customer.ID
		}
		if cs.Subscription != nil {
			sub = cs.Subscription.ID
		}
		h.Logger.Info("billing_checkout_completed",
			zap.String("account_id", cs.ClientReferenceID),
			zap.String("subscription", sub),
		)
		return h.Accounts.SetSubscription(ctx, domain.AccountID(cs.ClientReferenceID), customer, sub, domain.SubscriptionActive)

	case "customer.subscription.updated":
		var s stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		h.Logger.Info("billing_subscription_updated", zap.String("subscription", s.ID), zap.String("status", string(s.Status)))
		return h.Accounts.SetSubscriptionStatus(ctx, s.ID, domain.SubscriptionStatus(s.Status))

	case "customer.subscription.deleted":
		var s stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		h.Logger.Info("billing_subscription_deleted", zap.String("subscription", s.ID))
		return h.Accounts.SetSubscriptionStatus(ctx, s.ID, domain.SubscriptionCancelled)
	}

	h.Logger.Debug("billing_event_ignored", zap.String("event", string(ev.Type)))
	return nil
}

func writeStatus(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": msg})
}
