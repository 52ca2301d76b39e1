package handlers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		TokenTTL: time.Minute,
	}
}

func TestGenerateReplicaToken(t *testing.T) {
	cfg := testJWTConfig()

	token, expiresAt, err := GenerateReplicaToken(cfg, 7, "replica-7")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	claims, err := ValidateReplicaToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), claims.ReplicaID)
	assert.Equal(t, "replica-7", claims.ReplicaName)
	assert.Equal(t, tokenIssuer, claims.Issuer)
}

func TestValidateReplicaToken_Errors(t *testing.T) {
	cfg := testJWTConfig()

	valid, _, err := GenerateReplicaToken(cfg, 1, "replica-1")
	require.NoError(t, err)

	otherSecret := cfg
	otherSecret.Secret = []byte("another-secret-another-secret-xx")
	foreign, _, err := GenerateReplicaToken(otherSecret, 1, "replica-1")
	require.NoError(t, err)

	expiredCfg := cfg
	expiredCfg.TokenTTL = -time.Minute
	expired, _, err := GenerateReplicaToken(expiredCfg, 1, "replica-1")
	require.NoError(t, err)

	noReplica, _, err := GenerateReplicaToken(cfg, 0, "anonymous")
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, ReplicaClaims{
		ReplicaID:        1,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	}).SignedString(cfg.Secret)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, ReplicaClaims{
		ReplicaID:        1,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong secret", token: foreign},
		{name: "expired", token: expired},
		{name: "missing replica id", token: noReplica},
		{name: "wrong issuer", token: wrongIssuer},
		{name: "unsigned", token: unsigned},
		{name: "tampered", token: valid + "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateReplicaToken(cfg, tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestNewJWTConfig(t *testing.T) {
	cfg, err := NewJWTConfig("shared-secret-shared-secret-0001", time.Hour)
	require.NoError(t, err)
	assert.Len(t, cfg.Secret, 32)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.NotEqual(t, []byte("shared-secret-shared-secret-0001"), cfg.Secret)

	same, err := NewJWTConfig("shared-secret-shared-secret-0001", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, cfg.Secret, same.Secret)

	other, err := NewJWTConfig("shared-secret-shared-secret-0002", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, cfg.Secret, other.Secret)

	// токен одной реплики принимается другой с тем же общим секретом
	token, _, err := GenerateReplicaToken(cfg, 3, "replica-3")
	require.NoError(t, err)
	_, err = ValidateReplicaToken(same, token)
	require.NoError(t, err)
	_, err = ValidateReplicaToken(other, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
