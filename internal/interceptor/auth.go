package interceptor

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenValidator resolves a bearer token to the subject it was issued for.
type TokenValidator interface {
	VerifyToken(tokenStr string) (string, error)
}

// RSAValidator checks RS256 signed tokens.
type RSAValidator struct {
	publicKey *rsa.PublicKey
}

// NewRSAValidator parses a PEM encoded RSA public key.
func NewRSAValidator(pemData []byte) (*RSAValidator, error) {
	if len(pemData) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return &RSAValidator{publicKey: key}, nil
}

func (v *RSAValidator) VerifyToken(tokenStr string) (string, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("invalid token: no subject")
	}
	return claims.Subject, nil
}

// PrincipalMiddleware resolves the request principal from the Authorization header.
// It only observes: a missing or invalid token leaves the principal empty and the request goes on.
func PrincipalMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("principal")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Debug("principal not resolved", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), subject)))
		})
	}
}
