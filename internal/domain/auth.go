package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// ReviewerClaims — полезная нагрузка токена оператора (RS256)
type ReviewerClaims struct {
	ReviewerID string `json:"reviewer_id"`
	Role       string `json:"role"` // "reviewer" или "admin"
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}
