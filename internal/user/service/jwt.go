package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenTTL = 24 * time.Hour

type JWTManager struct {
	SecretKey string
}

func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{
		SecretKey: secret,
	}
}

func (j *JWTManager) Generate(userID int64, email string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"email":   email,
		"exp":     time.Now().Add(accessTokenTTL).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(j.SecretKey))
}
