// Package harvest fetches and parses iScout map listings for the three
// tracked point categories.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"iscout-notifier/pkg/tracker"
)

// LoginError indicates the iScout session was rejected and a fresh login is
// required.
type LoginError struct {
	URL string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login required: %s", e.URL)
}

// IsLoginError checks if an error is a login error.
func IsLoginError(err error) bool {
	var le *LoginError
	return errors.As(err, &le)
}

// Harvester fetches coordinate listings from iScout over an authenticated
// HTTP session. It holds shared session state and must not be used for
// concurrent fetches; the scheduler's busy flag guarantees that.
type Harvester struct {
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
	email    string
	password string
	loggedIn bool
}

// New creates a harvester. baseURL is the iScout site root, without a
// trailing slash.
func New(baseURL, email, password string, logger *slog.Logger) (*Harvester, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Harvester{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		logger:   logger,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		email:    email,
		password: password,
	}, nil
}

// ScrapeOne fetches the current listing for a single category. Rows that
// fail to parse are skipped, and a listing with no usable rows yields an
// empty slice rather than an error.
func (h *Harvester) ScrapeOne(ctx context.Context, cat tracker.Category) ([]tracker.Point, error) {
	if !cat.Valid() {
		return nil, fmt.Errorf("unknown category %q", cat)
	}
	if err := h.ensureSession(ctx); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return h.fetchListing(ctx, cat)
}

// ScrapeAll fetches all three categories sequentially in rotation order.
// A hard failure on any category fails the whole pass.
func (h *Harvester) ScrapeAll(ctx context.Context) (map[tracker.Category][]tracker.Point, error) {
	if err := h.ensureSession(ctx); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	data := make(map[tracker.Category][]tracker.Point, 3)
	for _, cat := range tracker.Rotation() {
		points, err := h.fetchListing(ctx, cat)
		if err != nil {
			return nil, fmt.Errorf("fetch %s listing: %w", cat, err)
		}
		data[cat] = points
	}
	return data, nil
}

// ensureSession verifies the stored session cookie is still accepted and
// logs in again when it is not.
func (h *Harvester) ensureSession(ctx context.Context) error {
	if h.loggedIn {
		ok, err := h.sessionAlive(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		h.logger.Info("iScout session expired, logging in again")
		h.loggedIn = false
	}
	return h.login(ctx)
}

func (h *Harvester) sessionAlive(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/dashboard", http.NoBody)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			h.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	// The site redirects expired sessions to the login page.
	return resp.StatusCode == http.StatusOK && !strings.Contains(resp.Request.URL.Path, "/login"), nil
}

func (h *Harvester) login(ctx context.Context) error {
	return retry.Do(
		func() error {
			h.logger.Info("Logging in to iScout", "url", h.baseURL+"/login", "email", h.email)

			form := url.Values{}
			form.Set("email", h.email)
			form.Set("password", h.password)

			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				h.baseURL+"/login", strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			setBrowserHeaders(req)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			startTime := time.Now()
			resp, err := h.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				h.logger.Warn("Login request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					h.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				h.logger.Warn("Login returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			// Success redirects to the dashboard; landing back on the login
			// page means the credentials were rejected.
			if strings.Contains(resp.Request.URL.Path, "/login") {
				return retry.Unrecoverable(&LoginError{URL: resp.Request.URL.String()})
			}

			h.logger.Info("Login succeeded",
				"duration_ms", duration.Milliseconds(),
				"landed_on", resp.Request.URL.Path)
			h.loggedIn = true
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			h.logger.Info("Retrying login after error", "attempt", n, "error", err)
		}),
	)
}

func (h *Harvester) fetchListing(ctx context.Context, cat tracker.Category) ([]tracker.Point, error) {
	listURL := fmt.Sprintf("%s/map/list?type=%s", h.baseURL, cat)
	var points []tracker.Point

	err := retry.Do(
		func() error {
			h.logger.Info("HTTP request starting",
				"method", "GET",
				"url", listURL,
				"category", cat)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			setBrowserHeaders(req)

			startTime := time.Now()
			resp, err := h.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				h.logger.Warn("HTTP request failed, will retry",
					"url", listURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					h.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			h.logger.Info("HTTP request completed",
				"url", listURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if strings.Contains(resp.Request.URL.Path, "/login") {
				h.loggedIn = false
				return retry.Unrecoverable(&LoginError{URL: listURL})
			}

			if resp.StatusCode != http.StatusOK {
				h.logger.Warn("HTTP request returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			parsed, err := ParseListing(resp.Body, cat)
			if err != nil {
				h.logger.Error("Failed to parse listing HTML", "category", cat, "error", err)
				return retry.Unrecoverable(err)
			}

			h.logger.Info("Listing parsed",
				"category", cat,
				"points_found", len(parsed))
			points = parsed
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			h.logger.Info("Retrying fetch after error", "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			// A dead session needs a fresh login, not another fetch.
			return !IsLoginError(err)
		}),
	)
	if err != nil {
		if IsLoginError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("after retries: %w", err)
	}

	if len(points) == 0 {
		h.logger.Warn("Listing contained no usable rows", "category", cat)
	}
	return points, nil
}

// setBrowserHeaders sets Chrome-like headers to avoid getting blocked.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")
}
