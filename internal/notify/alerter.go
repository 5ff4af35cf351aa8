package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hako/durafmt"

	"github.com/hamed0406/uptimesentry/internal/domain"
)

const timestampLayout = "2006-01-02 15:04:05 UTC"

// Down describes an endpoint that has just transitioned from UP to DOWN.
type Down struct {
	Account  domain.Account
	Endpoint domain.Endpoint
	// UpSince is when the endpoint last went UP, if known.
	UpSince *time.Time
	Reason  string
}

// Alerter composes the DOWN notification and hands it to a Sender.
type Alerter struct {
	Sender Sender
}

func NewAlerter(s Sender) *Alerter {
	return &Alerter{Sender: s}
}

// NotifyDown makes one delivery attempt; callers log the error and carry on.
func (a *Alerter) NotifyDown(ctx context.Context, d Down) error {
	return a.Sender.Send(ctx, ComposeDown(d))
}

func ComposeDown(d Down) Message {
	url := d.Endpoint.URL
	var b strings.Builder
	fmt.Fprintf(&b, "Your monitored endpoint %s is DOWN.\n\n", url)
	if d.Endpoint.LastChecked != nil {
		fmt.Fprintf(&b, "Last checked: %s\n", d.Endpoint.LastChecked.UTC().Format(timestampLayout))
		if d.UpSince != nil && d.Endpoint.LastChecked.After(*d.UpSince) {
			up := d.Endpoint.LastChecked.Sub(*d.UpSince)
			fmt.Fprintf(&b, "It had been up for %s.\n", durafmt.Parse(up.Round(time.Second)).LimitFirstN(2).String())
		}
	}
	if d.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", d.Reason)
	}
	b.WriteString("\nYou will not be notified again until it recovers and goes down again.\n")

	return Message{
		To:      d.Account.Email,
		Subject: "Alert: " + url + " is DOWN",
		Body:    b.String(),
	}
}
