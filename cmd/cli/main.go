package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const usage = `usage: cli <command>

commands:
  register   create an account (prompts for email and password)
  login      print a session token (prompts for email and password)
  add        add an endpoint to monitor (prompts for URL)
  list       list monitored endpoints
  rm <id>    stop monitoring an endpoint

API_BASE selects the server (default http://localhost:8080);
UPTIME_TOKEN carries the session token for add, list and rm.`

var client = &http.Client{Timeout: 30 * time.Second}

func main() {
	_ = godotenv.Load()

	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}
	token := os.Getenv("UPTIME_TOKEN")
	reader := bufio.NewReader(os.Stdin)

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "register", "login":
		email := prompt(reader, "Email: ")
		password := prompt(reader, "Password: ")
		var out struct {
			Token    string `json:"token"`
			Entitled bool   `json:"entitled"`
			Account  struct {
				TrialEndsAt time.Time `json:"trial_ends_at"`
			} `json:"account"`
		}
		err = call(http.MethodPost, api+"/api/"+os.Args[1], "", map[string]string{"email": email, "password": password}, &out)
		if err == nil {
			fmt.Printf("Trial ends: %s (entitled: %v)\n", out.Account.TrialEndsAt.Format(time.RFC1123), out.Entitled)
			fmt.Printf("export UPTIME_TOKEN=%s\n", out.Token)
		}

	case "add":
		raw := prompt(reader, "Enter a site URL to monitor (e.g., https://example.com): ")
		var out struct {
			Endpoint struct {
				ID     string `json:"id"`
				URL    string `json:"url"`
				Status string `json:"status"`
			} `json:"endpoint"`
			Result *struct {
				StatusCode int     `json:"status_code"`
				LatencyMS  float64 `json:"latency_ms"`
				Reason     string  `json:"reason"`
			} `json:"result"`
		}
		err = call(http.MethodPost, api+"/api/endpoints", token, map[string]string{"url": raw}, &out)
		if err == nil {
			fmt.Printf("Added %s (%s): %s\n", out.Endpoint.URL, out.Endpoint.ID, out.Endpoint.Status)
			if out.Result != nil {
				fmt.Printf("  HTTP %d in %.0f ms %s\n", out.Result.StatusCode, out.Result.LatencyMS, out.Result.Reason)
			}
		}

	case "list":
		var eps []struct {
			ID          string     `json:"id"`
			URL         string     `json:"url"`
			Status      string     `json:"status"`
			LastChecked *time.Time `json:"last_checked"`
		}
		err = call(http.MethodGet, api+"/api/endpoints", token, nil, &eps)
		for _, e := range eps {
			checked := "never"
			if e.LastChecked != nil {
				checked = e.LastChecked.Format(time.RFC3339)
			}
			fmt.Printf("%-8s %-40s %s  (checked %s)\n", e.Status, e.URL, e.ID, checked)
		}

	case "rm":
		if len(os.Args) < 3 {
			fmt.Println(usage)
			os.Exit(2)
		}
		err = call(http.MethodDelete, api+"/api/endpoints/"+os.Args[2], token, nil, nil)
		if err == nil {
			fmt.Println("Removed.")
		}

	default:
		fmt.Println(usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}

func call(method, url, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, e.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
