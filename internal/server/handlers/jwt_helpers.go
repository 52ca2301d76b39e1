package handlers

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const tokenIssuer = "dirsync"

// ErrInvalidToken возвращается для токена, который не прошел проверку
var ErrInvalidToken = errors.New("invalid replica token")

// ReplicaClaims JWT claims, которыми реплика подписывает запросы к другим репликам
type ReplicaClaims struct {
	ReplicaName string `json:"replica_name"`
	jwt.RegisteredClaims
	ReplicaID uint16 `json:"replica_id"`
}

// JWTConfig содержит конфигурацию для JWT
type JWTConfig struct {
	Secret   []byte
	TokenTTL time.Duration
}

// NewJWTConfig выводит ключ подписи токенов из общего секрета реплик (HKDF-SHA256)
func NewJWTConfig(sharedSecret string, ttl time.Duration) (JWTConfig, error) {
	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, []byte(sharedSecret), nil, []byte(tokenIssuer+" replica token"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return JWTConfig{}, fmt.Errorf("failed to derive signing key: %w", err)
	}
	return JWTConfig{Secret: key, TokenTTL: ttl}, nil
}

// GenerateReplicaToken создает токен реплики, подписанный общим секретом
func GenerateReplicaToken(cfg JWTConfig, replicaID uint16, replicaName string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(cfg.TokenTTL)

	claims := ReplicaClaims{
		ReplicaID:   replicaID,
		ReplicaName: replicaName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   replicaName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateReplicaToken проверяет подпись и срок действия токена реплики
func ValidateReplicaToken(cfg JWTConfig, tokenString string) (*ReplicaClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ReplicaClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ReplicaClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ReplicaID == 0 {
		return nil, fmt.Errorf("%w: replica id is missing", ErrInvalidToken)
	}
	return claims, nil
}
