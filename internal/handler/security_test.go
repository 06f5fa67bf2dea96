package handler

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

func TestHashAPIKey(t *testing.T) {
	const want = "93b80fe0d9e4565fa12bae01e58a74725825a560b736ea80e805dede604362f1"

	assert.Equal(t, want, HashAPIKey(testPepper, "alice-key"))
	assert.Equal(t, want, hex.EncodeToString(apiKeyMAC(testPepper, "alice-key")))
	assert.NotEqual(t, want, HashAPIKey([]byte("other-pepper"), "alice-key"))
}

func TestAuthenticate(t *testing.T) {
	hash := HashAPIKey(testPepper, "alice-key")

	tests := []struct {
		name    string
		key     string
		stored  *auth.APIKeyInfo
		want    auth.Identity
		wantErr error
	}{
		{
			name:   "valid key",
			key:    "alice-key",
			stored: &auth.APIKeyInfo{KeyHash: hash, UserID: "alice", Role: auth.RoleCustomer},
			want:   auth.Identity{UserID: "alice", Role: auth.RoleCustomer},
		},
		{name: "empty key", key: "", wantErr: errUnauthorized},
		{name: "unknown key", key: "nobody-key", wantErr: errUnauthorized},
		{
			name:    "stored hash differs",
			key:     "alice-key",
			stored:  &auth.APIKeyInfo{KeyHash: HashAPIKey(testPepper, "bob-key"), UserID: "alice"},
			wantErr: errUnauthorized,
		},
		{
			name:    "stored hash not hex",
			key:     "alice-key",
			stored:  &auth.APIKeyInfo{KeyHash: "zz", UserID: "alice"},
			wantErr: errUnauthorized,
		},
		{
			name:    "key without user",
			key:     "alice-key",
			stored:  &auth.APIKeyInfo{KeyHash: hash},
			wantErr: errUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := &memKeys{byHash: map[string]*auth.APIKeyInfo{}}
			if tt.stored != nil {
				keys.byHash[hash] = tt.stored
			}

			id, err := NewAuthenticator(keys, testPepper).Authenticate(context.Background(), tt.key)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}

	t.Run("store failure is not unauthorized", func(t *testing.T) {
		keys := &memKeys{err: errors.New("connection reset")}
		_, err := NewAuthenticator(keys, testPepper).Authenticate(context.Background(), "alice-key")
		require.Error(t, err)
		assert.NotErrorIs(t, err, errUnauthorized)
	})
}
