package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/infra"
	"github.com/xela07ax/agentorg/internal/infra/auth"
	"github.com/xela07ax/agentorg/internal/server/handler"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler     // /auth/token
	chatHandler     *handler.ChatHandler     // /api/chat
	streamHandler   *handler.StreamHandler   // /api/chat/stream (SSE)
	approvalHandler *handler.ApprovalHandler // /api/approvals (HITL)
	agentHandler    *handler.AgentHandler    // /api/agents
	eventHandler    *handler.EventHandler    // /api/events
}

// NewServer инициализирует HTTP-поверхность со всеми зависимостями
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	chatH *handler.ChatHandler,
	streamH *handler.StreamHandler,
	approvalH *handler.ApprovalHandler,
	agentH *handler.AgentHandler,
	eventH *handler.EventHandler,
) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		logger:          logger.Named("api"),
		cfg:             cfg,
		authValidator:   validator,
		authHandler:     authH,
		chatHandler:     chatH,
		streamHandler:   streamH,
		approvalHandler: approvalH,
		agentHandler:    agentH,
		eventHandler:    eventH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Диалог с оргструктурой агентов
		r.Post("/api/chat", s.chatHandler.Send)
		r.Get("/api/chat/stream", s.streamHandler.Stream) // SSE
		r.Get("/api/chat/{id}", s.chatHandler.GetConversation)

		// Прогресс хода (история событий, курсорная выдача)
		r.Get("/api/events", s.eventHandler.History)

		// Справочник агентов (read-only часть)
		r.Get("/api/agents", s.agentHandler.List)
		r.Get("/api/agents/{slug}", s.agentHandler.Get)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Human-in-the-loop (Approvals)
		r.Route("/api/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List) // Очередь запросов на решение
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Post("/approve", s.approvalHandler.Approve) // Первый решивший выигрывает
				r.Post("/deny", s.approvalHandler.Deny)
				r.Post("/fulfill", s.approvalHandler.Fulfill)
			})
		})

		// Управление правами агентов
		r.Put("/api/agents/{slug}/permissions", s.agentHandler.UpdatePermissions)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
