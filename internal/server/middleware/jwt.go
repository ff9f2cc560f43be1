package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const bidderKey ctxKey = iota

// Claims are the access-token claims issued by the managed auth provider.
// The subject is the user ID.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens signed with the provider's
// shared JWT secret.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewTokenVerifier creates a verifier. Empty issuer or audience skips that
// check.
func NewTokenVerifier(secret, issuer, audience string) *TokenVerifier {
	return &TokenVerifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   30 * time.Second,
		now:      time.Now,
	}
}

// WithClock overrides the time used for expiry checks.
func (v *TokenVerifier) WithClock(now func() time.Time) *TokenVerifier {
	v.now = now
	return v
}

// Verify parses raw and returns its claims.
func (v *TokenVerifier) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("middleware: verify token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("middleware: verify token: missing subject")
	}
	return claims, nil
}

// Sign issues a token for subject with the verifier's issuer and audience.
// Used by the token command for local testing.
func (v *TokenVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("middleware: sign token: %w", err)
	}
	return signed, nil
}

// RequireBidder rejects requests without a valid bearer token and stores
// the token subject as the bidder ID in the request context.
func RequireBidder(v *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := v.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithBidder(r.Context(), claims.Subject)))
		})
	}
}

// WithBidder returns ctx carrying the authenticated bidder ID.
func WithBidder(ctx context.Context, bidderID string) context.Context {
	return context.WithValue(ctx, bidderKey, bidderID)
}

// BidderID returns the authenticated bidder of the request, if any.
func BidderID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(bidderKey).(string)
	return id, ok && id != ""
}
