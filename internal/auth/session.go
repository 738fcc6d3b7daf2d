package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-recargo/internal/common"
)

// Session is the identity carried by a verified Shopify session token.
type Session struct {
	Shop      string
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// SessionVerifier checks Shopify App Bridge session tokens: HS256 signed
// with the app's API secret, audience equal to the API key.
type SessionVerifier struct {
	secret    []byte
	shop      string
	validator TokenValidator
	now       func() time.Time
}

// NewSessionVerifier builds a verifier. When shop is set, tokens issued for
// any other shop are refused.
func NewSessionVerifier(apiKey, apiSecret, shop string, clockSkew time.Duration) (*SessionVerifier, error) {
	if strings.TrimSpace(apiSecret) == "" {
		return nil, errors.New("auth: api secret is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("auth: api key is required")
	}
	return &SessionVerifier{
		secret: []byte(apiSecret),
		shop:   shopHost(shop),
		validator: TokenValidator{
			Audience:  apiKey,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		now: time.Now,
	}, nil
}

// WithClock overrides the verifier's clock.
func (v *SessionVerifier) WithClock(now func() time.Time) *SessionVerifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Verify parses and validates token.
func (v *SessionVerifier) Verify(token string) (Session, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Session{}, unauthorized(errNoToken)
	}
	algorithm, err := tokenAlgorithm(trimmed)
	if err != nil {
		return Session{}, unauthorized(err)
	}
	if algorithm != v.validator.Algorithm {
		return Session{}, unauthorized(fmt.Errorf("auth: unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret), jwt.WithValidate(false))
	if err != nil {
		return Session{}, unauthorized(err)
	}
	if err := v.validator.Validate(parsed, algorithm, v.now()); err != nil {
		return Session{}, unauthorized(err)
	}

	dest, _ := stringClaim(parsed, "dest")
	shop, err := shopFromDest(dest)
	if err != nil {
		return Session{}, unauthorized(err)
	}
	if !strings.HasPrefix(parsed.Issuer(), "https://"+shop+"/admin") {
		return Session{}, unauthorized(fmt.Errorf("auth: issuer %q does not match dest", parsed.Issuer()))
	}
	if v.shop != "" && shop != v.shop {
		return Session{}, unauthorized(fmt.Errorf("auth: token issued for shop %s", shop))
	}
	sid, _ := stringClaim(parsed, "sid")
	return Session{
		Shop:      shop,
		UserID:    parsed.Subject(),
		SessionID: sid,
		ExpiresAt: parsed.Expiration(),
	}, nil
}

func stringClaim(tok jwt.Token, name string) (string, bool) {
	raw, ok := tok.Get(name)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func unauthorized(err error) error {
	return common.NewAppError("UNAUTHORIZED", "invalid session token", http.StatusUnauthorized, err)
}

// shopHost reduces a store URL to its bare host.
func shopHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}
