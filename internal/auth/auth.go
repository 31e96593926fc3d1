// Package auth verifies bearer tokens and resolves them to an order caller.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
	"github.com/safar/rewear-store/internal/orders"
)

const (
	CodeUnauthorized = "UNAUTHORIZED"

	defaultLookupTimeout = 3 * time.Second
)

var ErrInvalidToken = errors.New("auth: invalid token")

// UserGetter loads the account a token refers to.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Claims carries the user id under "id".
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret  []byte
	users   UserGetter
	logger  *zap.Logger
	timeout time.Duration
}

func NewAuthenticator(secret string, users UserGetter, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		secret:  []byte(secret),
		users:   users,
		logger:  logger.Named("auth"),
		timeout: defaultLookupTimeout,
	}
}

// Verify parses tokenStr and returns the user id it was issued for.
func (a *Authenticator) Verify(tokenStr string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}
	return claims.UserID, nil
}

// Require rejects requests without a valid bearer token for an existing user.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondUnauthorized(w, "not authorized, no token")
			return
		}

		userID, err := a.Verify(tokenStr)
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			respondUnauthorized(w, "not authorized")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
		user, err := a.users.GetUser(ctx, userID)
		cancel()
		if err != nil {
			if apperr.KindOf(err) != apperr.KindNotFound {
				a.logger.Error("caller lookup failed", zap.String("user_id", userID), zap.Error(err))
			}
			respondUnauthorized(w, "not authorized")
			return
		}

		caller := orders.Caller{UserID: user.ID, IsAdmin: user.IsAdmin}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller orders.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFrom(ctx context.Context) (orders.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(orders.Caller)
	return caller, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    CodeUnauthorized,
			"message": message,
		},
	})
}
