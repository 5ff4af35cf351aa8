// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hamed0406/uptimesentry/internal/config"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fail(err.Error())
	}

	if len(cfg.JWTSecret) < 16 {
		fail("JWT_SECRET missing or shorter than 16 bytes (sessions would not survive restarts).")
	}

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty; POST /api/admin/sweep will always be refused.")
	}
	if raw := os.Getenv("ADMIN_API_KEYS"); strings.Contains(raw, " ") {
		warn("ADMIN_API_KEYS contains spaces; use comma-separated with no spaces, e.g. key1,key2")
	}

	ok("API_ADDR=" + cfg.Addr)

	if cfg.IsPostgres() {
		ok("DATABASE_URL selects postgres")
	} else {
		ok("DATABASE_URL selects sqlite at " + cfg.DatabaseURL)
	}

	if cfg.CheckInterval == 0 {
		warn("CHECK_INTERVAL is 0; the background sweep is disabled.")
	} else {
		ok("CHECK_INTERVAL=" + cfg.CheckInterval.String())
	}

	if cfg.SMTPHost == "" {
		warn("SMTP_HOST empty; DOWN alerts will only be logged.")
	} else if cfg.MailFrom == "" {
		fail("SMTP_HOST set but MAIL_FROM is empty.")
	} else {
		ok("SMTP_HOST=" + cfg.SMTPHost)
	}

	if cfg.StripeWebhookSecret == "" {
		warn("STRIPE_WEBHOOK_SECRET empty; subscription changes will not be received.")
	} else {
		ok("STRIPE_WEBHOOK_SECRET present")
	}

	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		warn("ALLOWED_ORIGINS is *; any site may call the API from a browser.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	ok("preflight passed")
}
