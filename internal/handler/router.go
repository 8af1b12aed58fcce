package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/middleware"
	"github.com/taskmgr818/billpay/internal/session"
	"github.com/taskmgr818/billpay/internal/ws"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Sessions      *session.Service
	Ledger        *ledger.Service
	Hub           *ws.Hub
	DefaultClient string // /saldo client when codigo has no ci

	AdminToken     string
	AdminTokenHash string

	Log zerolog.Logger
}

// NewRouter builds the Gin engine with every route and middleware attached.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger(d.Log))

	sessionAuth := middleware.SessionAuth(d.Sessions, d.Log)

	NewHandler(d.Hub, d.Log).RegisterRoutes(r, sessionAuth)
	NewAuthHandler(d.Sessions, d.Log).RegisterRoutes(r)
	NewBillingHandler(d.Ledger, d.DefaultClient, d.Log).RegisterRoutes(r.Group("/", sessionAuth))
	NewAdminHandler(d.Ledger, d.Log).RegisterRoutes(r.Group("/admin", middleware.AdminTokenAuth(d.AdminToken, d.AdminTokenHash)))

	return r
}
