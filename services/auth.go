package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"github.com/zeebo/errs"

	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/metrics"
)

// TokenKeyword prefixes tokens in the Authorization header.
const TokenKeyword = "Token"

var (
	// ErrUnauthorized marks a missing, malformed or rejected token.
	ErrUnauthorized = errs.Class("unauthorized")
	// ErrAuthUnavailable marks a profile endpoint that cannot be reached.
	ErrAuthUnavailable = errs.Class("authentication unavailable")
)

// Profile is the account a token belongs to.
type Profile struct {
	Username string `json:"username"`
	IsStaff  bool   `json:"is_staff"`
}

// TokenIntrospector resolves tokens against a remote profile endpoint.
type TokenIntrospector struct {
	profileURL string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[*Profile]
}

// NewTokenIntrospector creates an introspector for the given profile URL.
func NewTokenIntrospector(profileURL string, client *http.Client) *TokenIntrospector {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	log := logging.With("auth")
	breaker := gobreaker.NewCircuitBreaker[*Profile](gobreaker.Settings{
		Name:        "profile-endpoint",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a rejected token is a valid answer, not an endpoint failure
		IsSuccessful: func(err error) bool {
			return err == nil || ErrUnauthorized.Has(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &TokenIntrospector{profileURL: profileURL, client: client, breaker: breaker}
}

// ParseAuthorization extracts the token from an Authorization header value.
// both the Token and Bearer keywords are accepted. ok is false when the header
// carries no such credentials.
func ParseAuthorization(header string) (token string, ok bool, err error) {
	parts := strings.Fields(header)
	if len(parts) == 0 {
		return "", false, nil
	}
	if !strings.EqualFold(parts[0], TokenKeyword) && !strings.EqualFold(parts[0], "Bearer") {
		return "", false, nil
	}
	switch len(parts) {
	case 1:
		return "", true, ErrUnauthorized.New("invalid token header, no credentials provided")
	case 2:
		return parts[1], true, nil
	default:
		return "", true, ErrUnauthorized.New("invalid token header, token string should not contain spaces")
	}
}

// Lookup returns the profile owning token.
func (t *TokenIntrospector) Lookup(ctx context.Context, token string) (*Profile, error) {
	profile, err := t.breaker.Execute(func() (*Profile, error) {
		return t.fetch(ctx, token)
	})
	switch {
	case err == nil:
		metrics.AuthLookups.WithLabelValues("ok").Inc()
		return profile, nil
	case ErrUnauthorized.Has(err):
		metrics.AuthLookups.WithLabelValues("rejected").Inc()
		return nil, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.AuthLookups.WithLabelValues("open").Inc()
		return nil, ErrAuthUnavailable.Wrap(err)
	default:
		metrics.AuthLookups.WithLabelValues("error").Inc()
		return nil, ErrAuthUnavailable.Wrap(err)
	}
}

func (t *TokenIntrospector) fetch(ctx context.Context, token string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", TokenKeyword+" "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile endpoint: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized.New("invalid token")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("profile endpoint returned %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, ErrUnauthorized.New("invalid token")
	}
	if profile.Username == "" {
		return nil, ErrUnauthorized.New("invalid token")
	}
	return &profile, nil
}
