package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
)

// TokenValidator — интерфейс проверки токена оператора
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.ReviewerClaims, error)
}

type ctxKey string

const (
	ctxReviewerID ctxKey = "reviewer_id"
	ctxRole       ctxKey = "reviewer_role"
)

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), ctxReviewerID, claims.ReviewerID)
			ctx = context.WithValue(ctx, ctxRole, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ReviewerFromContext достает идентификатор оператора, положенный Middleware
func ReviewerFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxReviewerID).(string); ok {
		return id
	}
	return ""
}
