package ai

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
)

// refreshMargin renews cached tokens well before their nominal expiry so an
// in-flight stream never races the deadline.
const refreshMargin = 5 * time.Minute

const vertexScope = "https://www.googleapis.com/auth/cloud-platform"

type cachedToken struct {
	token  string
	expiry time.Time
}

// VertexTokenSource exchanges a service-account key file for an access token
// and caches the result per key file for the process lifetime. The clock and
// the exchange itself are injectable so tests control time and avoid network.
type VertexTokenSource struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
	fetch  func(ctx context.Context, keyPath string) (string, time.Time, error)
}

// NewVertexTokenSource builds a token source backed by the real token
// exchange.
func NewVertexTokenSource() *VertexTokenSource {
	return &VertexTokenSource{
		tokens: make(map[string]cachedToken),
		now:    time.Now,
		fetch:  exchangeServiceAccountToken,
	}
}

// Token returns a valid access token for the given service-account file,
// reusing the cached one while it has more than refreshMargin left.
func (s *VertexTokenSource) Token(ctx context.Context, keyPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.tokens[keyPath]; ok && s.now().Before(cached.expiry.Add(-refreshMargin)) {
		return cached.token, nil
	}

	token, expiry, err := s.fetch(ctx, keyPath)
	if err != nil {
		return "", fmt.Errorf("vertex token exchange: %w", err)
	}
	s.tokens[keyPath] = cachedToken{token: token, expiry: expiry}
	return token, nil
}

func exchangeServiceAccountToken(ctx context.Context, keyPath string) (string, time.Time, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return "", time.Time{}, err
	}
	conf, err := google.JWTConfigFromJSON(data, vertexScope)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return "", time.Time{}, err
	}
	return token.AccessToken, token.Expiry, nil
}
