package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

type Claims struct {
	UserID    string `json:"uid"`
	AccountID string `json:"aid"`
	Role      string `json:"role"`
	Type      string `json:"typ"` // access | refresh
	jwt.RegisteredClaims
}

// Pair is what login and refresh hand back to the client.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (tm *TokenManager) GeneratePair(userID, accountID, role string) (Pair, error) {
	now := time.Now()
	claims := func(typ string, ttl time.Duration) Claims {
		return Claims{
			UserID:    userID,
			AccountID: accountID,
			Role:      role,
			Type:      typ,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			},
		}
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(TokenAccess, tm.accessTTL)).SignedString(tm.accessSecret)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(TokenRefresh, tm.refreshTTL)).SignedString(tm.refreshSecret)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh, ExpiresAt: now.Add(tm.accessTTL)}, nil
}

func (tm *TokenManager) ParseAccess(token string) (*Claims, error) {
	return tm.parse(token, tm.accessSecret, TokenAccess)
}

func (tm *TokenManager) ParseRefresh(token string) (*Claims, error) {
	return tm.parse(token, tm.refreshSecret, TokenRefresh)
}

func (tm *TokenManager) parse(token string, secret []byte, typ string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Type != typ {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
