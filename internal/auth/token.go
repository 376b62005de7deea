// Package auth screens the access token the connection carries. The server
// is the verifier; the client only inspects claims so it can fail fast on a
// token that the server is guaranteed to reject.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/ayush-jaipuriar/only-yours/internal/platform/errors"
)

// TokenInfo is the subset of claims the client cares about.
type TokenInfo struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// ExpiresWithin reports whether the token expires before now+margin. Tokens
// without an expiry claim never expire from the client's point of view.
func (i TokenInfo) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !i.ExpiresAt.After(now.Add(margin))
}

// InspectToken parses token without verifying its signature and checks the
// expiry claim against now. It fails with TOKEN_MALFORMED when the token does
// not parse and TOKEN_EXPIRED when the expiry has passed.
func InspectToken(token string, now time.Time) (TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenInfo{}, apperrors.New(apperrors.CodeTokenMalformed, "token is required")
	}
	if now.IsZero() {
		now = time.Now()
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, apperrors.Wrap(apperrors.CodeTokenMalformed, "parse token", err)
	}

	info := TokenInfo{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}

	if !info.ExpiresAt.IsZero() && !info.ExpiresAt.After(now) {
		return info, apperrors.WithMetadata(apperrors.CodeTokenExpired, "token has expired",
			map[string]string{"expired_at": info.ExpiresAt.UTC().Format(time.RFC3339)})
	}
	return info, nil
}
