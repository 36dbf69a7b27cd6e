// Package main provides a CI-friendly HTTP smoke test for the auth routes.
//
// It validates:
//   - register sets both cookies
//   - me resolves the access cookie
//   - refresh rotates the pair and the old refresh token stops working
//   - logout revokes and clears cookies
//   - validate-token rejects a missing cookie
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
	maxReadBytes  = 1 << 20 // 1MiB
)

// smokeClient keeps cookies by name. Cookies are replayed manually so a
// Secure cookie still works against a plain-http dev server.
type smokeClient struct {
	base    string
	http    *http.Client
	cookies map[string]string
	timeout time.Duration
	verbose bool
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		password = flag.String("password", "password123", "Password for the throwaway user")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	c := &smokeClient{
		base:    strings.TrimRight(*baseURL, "/") + "/api/v1/auth",
		http:    &http.Client{},
		cookies: make(map[string]string),
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	email := "smoke-" + suffix + "@example.com"
	username := "smoke_" + suffix[len(suffix)-8:]

	c.mustStatus(root, http.MethodPost, "/register", map[string]string{
		"email":    email,
		"username": username,
		"password": *password,
	}, http.StatusCreated)
	c.mustHaveCookies()

	c.mustStatus(root, http.MethodGet, "/me", nil, http.StatusOK)
	c.mustStatus(root, http.MethodGet, "/validate-token", nil, http.StatusOK)

	oldRefresh := c.cookies[refreshCookie]
	c.mustStatus(root, http.MethodPost, "/refresh", nil, http.StatusOK)
	if c.cookies[refreshCookie] == oldRefresh {
		fatalf("refresh: cookie was not rotated")
	}

	newRefresh := c.cookies[refreshCookie]
	c.cookies[refreshCookie] = oldRefresh
	msg := c.mustStatus(root, http.MethodPost, "/refresh", nil, http.StatusUnauthorized)
	if c.verbose {
		fmt.Printf("reused refresh rejected: %q\n", msg)
	}
	c.cookies[refreshCookie] = newRefresh

	c.mustStatus(root, http.MethodPost, "/logout", nil, http.StatusNoContent)
	if len(c.cookies) != 0 {
		fatalf("logout: cookies not cleared: %v", c.cookies)
	}

	msg = c.mustStatus(root, http.MethodGet, "/validate-token", nil, http.StatusUnauthorized)
	if msg != "Access token required" {
		fatalf("validate-token: unexpected message %q", msg)
	}

	fmt.Printf("OK: email=%s username=%s\n", email, username)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

// mustStatus sends one request and fails unless the status matches.
// It returns the error message of a JSON error body, if any.
func (c *smokeClient) mustStatus(parent context.Context, method, path string, body any, want int) string {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("%s %s: marshal: %v", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	c.absorbCookies(resp)

	if c.verbose {
		fmt.Printf("%s %s -> %d %s\n", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, want, raw)
	}

	var ae apiError
	if len(raw) > 0 && json.Unmarshal(raw, &ae) == nil {
		return ae.Error.Message
	}
	return ""
}

func (c *smokeClient) absorbCookies(resp *http.Response) {
	for _, ck := range resp.Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck.Value
	}
}

func (c *smokeClient) mustHaveCookies() {
	for _, name := range []string{accessCookie, refreshCookie} {
		if c.cookies[name] == "" {
			fatalf("missing %s cookie", name)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
