package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for a bearer token that fails verification.
var ErrInvalidToken = errors.New("invalid bearer token")

type clientIDKey struct{}

// ClientID returns the caller identity attached by the identity middleware.
func ClientID(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey{}).(string); ok {
		return id
	}
	return "client:unknown"
}

func withClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, id)
}

// tokenVerifier validates HS256 bearer tokens and extracts the subject.
type tokenVerifier struct {
	secret []byte
}

func newTokenVerifier(secret string) *tokenVerifier {
	if secret == "" {
		return nil
	}
	return &tokenVerifier{secret: []byte(secret)}
}

func (v *tokenVerifier) subject(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token has expired", ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// resolveClientID prefers a verified token subject ("user:<sub>") and falls
// back to the remote address ("client:<ip>"). A bearer token is only
// inspected when a verifier is configured.
func resolveClientID(r *http.Request, verifier *tokenVerifier) (string, error) {
	if verifier != nil {
		if token, ok := bearerToken(r); ok {
			sub, err := verifier.subject(token)
			if err != nil {
				return "", err
			}
			return "user:" + sub, nil
		}
	}
	return "client:" + remoteIP(r), nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
