package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/infra"
)

// AuthService выпускает RS256 токены для операторов из конфига.
// Валидацию наследует через embedding BaseValidator.
type AuthService struct {
	*BaseValidator
	reviewers  map[string]infra.ReviewerCred
	privateKey *rsa.PrivateKey
	tokenTTL   time.Duration
}

func NewAuthService(cfg infra.AuthConfig, privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey) *AuthService {
	reviewers := make(map[string]infra.ReviewerCred, len(cfg.Reviewers))
	for _, r := range cfg.Reviewers {
		reviewers[r.Username] = r
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &AuthService{
		BaseValidator: NewBaseValidator(publicKey),
		reviewers:     reviewers,
		privateKey:    privateKey,
		tokenTTL:      ttl,
	}
}

func (s *AuthService) GenerateToken(username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды — секция reviewers конфига)
	cred, ok := s.reviewers[username]
	if !ok {
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	// 3. Формирование Claims
	expiresAt := time.Now().Add(s.tokenTTL)
	claims := &domain.ReviewerClaims{
		ReviewerID: cred.Username,
		Role:       cred.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "agentorg",
			Subject:   cred.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}
