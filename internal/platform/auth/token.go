package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssueToken は RequireAuth が受け付ける HS256 トークンを作る。運用・動作確認用
func IssueToken(secret []byte, a Actor, ttl time.Duration, now time.Time) (string, error) {
	if a.UserID == "" {
		return "", errors.New("auth: user id is required")
	}
	if a.Role == "" {
		return "", errors.New("auth: unknown role")
	}
	claims := jwt.MapClaims{
		"sub":  a.UserID,
		"role": string(a.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
