package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default request timeouts for the pull endpoints.
const (
	DefaultFetchTimeout = 5 * time.Second
	DefaultProbeTimeout = 8 * time.Second
)

// RecordFetcher retrieves the bulk device listing.
type RecordFetcher interface {
	FetchRecords(ctx context.Context) ([]map[string]any, error)
}

// HTTPFetcherConfig configures an HTTPFetcher.
type HTTPFetcherConfig struct {
	// URL is the bulk listing endpoint, e.g. http://backend/api/devices.
	URL string

	// MeURL is the current-user probe endpoint, e.g. http://backend/api/auth/me.
	MeURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// Timeout bounds one bulk fetch.
	Timeout time.Duration

	// ProbeTimeout bounds one current-user probe.
	ProbeTimeout time.Duration
}

// HTTPFetcher reads device records from the backend REST API.
//
// A 401 answer, or a session token that has already expired, invokes the
// unauthorized callback and yields ErrUnauthorized or ErrTokenExpired.
type HTTPFetcher struct {
	cfg   HTTPFetcherConfig
	http  *http.Client
	clock Clock

	mu             sync.RWMutex
	token          string
	onUnauthorized func(error)
}

// NewHTTPFetcher creates a fetcher. A nil client uses a default one.
func NewHTTPFetcher(cfg HTTPFetcherConfig, client *http.Client) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{
		cfg:   cfg,
		http:  client,
		clock: RealClock(),
		token: cfg.Token,
	}
}

// SetToken replaces the bearer token.
func (f *HTTPFetcher) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// SetOnUnauthorized sets the session-invalidation hook.
func (f *HTTPFetcher) SetOnUnauthorized(callback func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUnauthorized = callback
}

// FetchRecords returns the records of the bulk listing.
func (f *HTTPFetcher) FetchRecords(ctx context.Context) ([]map[string]any, error) {
	var body any
	if err := f.getJSON(ctx, f.cfg.URL, f.cfg.Timeout, &body); err != nil {
		return nil, err
	}
	return DecodeRecords(body)
}

// DecodeRecords extracts the object records of a decoded bulk listing.
// A bare array and an {"items": [...]} envelope are accepted; non-object
// items are skipped.
func DecodeRecords(body any) ([]map[string]any, error) {
	var items []any
	switch v := body.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["items"].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: response has no items array", ErrFetchFailed)
		}
		items = list
	default:
		return nil, fmt.Errorf("%w: unexpected response type %T", ErrFetchFailed, body)
	}

	records := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if rec, ok := it.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// CurrentUser probes the session with the current-user endpoint.
func (f *HTTPFetcher) CurrentUser(ctx context.Context) (map[string]any, error) {
	if f.cfg.MeURL == "" {
		return nil, fmt.Errorf("%w: no current-user endpoint configured", ErrFetchFailed)
	}
	var user map[string]any
	if err := f.getJSON(ctx, f.cfg.MeURL, f.cfg.ProbeTimeout, &user); err != nil {
		return nil, err
	}
	return user, nil
}

func (f *HTTPFetcher) getJSON(ctx context.Context, endpoint string, timeout time.Duration, out any) error {
	f.mu.RLock()
	token := f.token
	f.mu.RUnlock()

	if err := f.checkToken(token); err != nil {
		f.unauthorized(err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		err := fmt.Errorf("%w: %s", ErrUnauthorized, endpoint)
		f.unauthorized(err)
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s status %d: %s", ErrFetchFailed, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrFetchFailed, endpoint, err)
	}
	return nil
}

// checkToken rejects JWT session tokens whose exp claim has passed.
// Opaque tokens are not inspected.
func (f *HTTPFetcher) checkToken(token string) error {
	if token == "" || strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !f.clock.Now().Before(exp.Time) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

func (f *HTTPFetcher) unauthorized(err error) {
	f.mu.RLock()
	callback := f.onUnauthorized
	f.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}
