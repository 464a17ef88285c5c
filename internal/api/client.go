// Package api talks to the study-room web application: the AI tutor endpoint
// and study session persistence.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/virtualcafe/cafe/internal/config"
	"github.com/virtualcafe/cafe/internal/dns"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 * 1024
	csrfCookie     = "csrftoken"
)

var (
	ErrEmptyReply      = errors.New("empty reply")
	ErrUnauthenticated = errors.New("not logged in; set session_id")
)

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

// Endpoints are the absolute URLs the client calls.
type Endpoints struct {
	Site        string
	Chatbot     string
	SaveSession string
}

// Client calls the web application with the user's session cookies.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	site      *url.URL
}

// New creates a client. Requests carry cookies from jar; the CSRF token is
// read from the csrftoken cookie at request time.
func New(endpoints Endpoints, jar http.CookieJar) (*Client, error) {
	site, err := url.Parse(endpoints.Site)
	if err != nil {
		return nil, fmt.Errorf("invalid site URL: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dns.Default.DialContext

	return &Client{
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		endpoints: endpoints,
		site:      site,
	}, nil
}

// FromConfig creates a client for the configured site with its cookies.
func FromConfig(cfg *config.Config) (*Client, http.CookieJar, error) {
	jar, err := NewJar(cfg.Base(), cfg.Cookies())
	if err != nil {
		return nil, nil, err
	}
	client, err := New(Endpoints{
		Site:        cfg.Base().String(),
		Chatbot:     cfg.ChatbotURL(),
		SaveSession: cfg.SaveSessionURL(),
	}, jar)
	if err != nil {
		return nil, nil, err
	}
	return client, jar, nil
}

// NewJar returns a cookie jar seeded with cookies for site.
func NewJar(site *url.URL, cookies []*http.Cookie) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(site, cookies)
	return jar, nil
}

func (c *Client) csrfToken() string {
	if c.http.Jar == nil {
		return ""
	}
	for _, cookie := range c.http.Jar.Cookies(c.site) {
		if cookie.Name == csrfCookie {
			return cookie.Value
		}
	}
	return ""
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// AskTutor sends one question to the AI tutor and returns its reply.
func (c *Client) AskTutor(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Chatbot, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.protect(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ask tutor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.statusError("ask tutor", resp)
	}

	var reply chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("ask tutor: decode reply: %w", err)
	}
	if reply.Reply == "" {
		return "", fmt.Errorf("ask tutor: %w", ErrEmptyReply)
	}
	return reply.Reply, nil
}

// SaveSession records a completed study session of the given length. The
// framework answers a successful form post with a redirect, so 3xx counts as
// success unless it points at the login page.
func (c *Client) SaveSession(ctx context.Context, minutes int, roomCode string) error {
	form := url.Values{}
	form.Set("minutes", strconv.Itoa(minutes))
	form.Set("room_code", roomCode)
	form.Set("csrfmiddlewaretoken", c.csrfToken())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.SaveSession, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.protect(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	case resp.StatusCode >= 300 && resp.StatusCode <= 399:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		if strings.Contains(resp.Header.Get("Location"), "/login") {
			return fmt.Errorf("save session: %w", ErrUnauthenticated)
		}
		return nil
	default:
		return c.statusError("save session", resp)
	}
}

// protect adds the headers the framework's CSRF check expects.
func (c *Client) protect(req *http.Request) {
	req.Header.Set("X-CSRFToken", c.csrfToken())
	req.Header.Set("Referer", c.site.String())
}

func (c *Client) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	slog.Error("server returned error", "op", op, "status", resp.StatusCode, "body", string(body))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
}
