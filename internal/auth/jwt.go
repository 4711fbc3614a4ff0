package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// BoardClaims 보드 토큰 클레임
//
// Role is only ever read from a verified token, never from message fields.
type BoardClaims struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager 보드 토큰 관리자
type TokenManager struct {
	secretKey []byte
	expiry    time.Duration
}

// NewTokenManager TokenManager 생성
func NewTokenManager(secretKey string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secretKey: []byte(secretKey),
		expiry:    expiry,
	}
}

// Generate 보드 접근 토큰 생성
func (m *TokenManager) Generate(boardID, userID string, role Role) (string, error) {
	claims := &BoardClaims{
		BoardID: boardID,
		UserID:  userID,
		Role:    string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "whiteboard-api",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify 보드 접근 토큰 검증
func (m *TokenManager) Verify(tokenString string) (*BoardClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &BoardClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*BoardClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if _, err := ParseRole(claims.Role); err != nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
