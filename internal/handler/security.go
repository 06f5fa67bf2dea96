package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// APIKeyHeader is the header clients send their key in. A Bearer token in
// Authorization is accepted as well.
const APIKeyHeader = "api_key"

var errUnauthorized = errors.New("unauthorized")

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form keys
// are stored in.
func HashAPIKey(pepper []byte, key string) string {
	return hex.EncodeToString(apiKeyMAC(pepper, key))
}

func apiKeyMAC(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Authenticator resolves API keys to caller identities.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator with the given key store and
// HMAC pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{apikeys: apikeys, pepper: pepper}
}

// Authenticate looks up key by its hash and compares the stored hash in
// constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (auth.Identity, error) {
	if key == "" {
		return auth.Identity{}, errUnauthorized
	}
	sum := apiKeyMAC(a.pepper, key)

	info, err := a.apikeys.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return auth.Identity{}, errUnauthorized
		}
		return auth.Identity{}, errors.Wrap(err, "find api key")
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
		return auth.Identity{}, errUnauthorized
	}
	if info.UserID == "" {
		return auth.Identity{}, errUnauthorized
	}
	return auth.Identity{UserID: info.UserID, Role: info.Role}, nil
}

// Middleware rejects requests without a valid key and stores the identity in
// the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := a.Authenticate(ctx, credentials(r))
		if err != nil {
			if !errors.Is(err, errUnauthorized) {
				zctx.From(ctx).Error("Authentication failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
				return
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid api key")
			return
		}
		ctx = auth.WithIdentity(ctx, id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin allows only admin identities. It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "Forbidden", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func credentials(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
