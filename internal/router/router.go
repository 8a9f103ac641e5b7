package router

import (
	"time"

	"parley/config"
	"parley/internal/handler"
	"parley/internal/metrics"
	"parley/internal/middleware"
	"parley/internal/repository"
	"parley/internal/service"
	"parley/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Setup wires repositories, the signaling core, and the HTTP surface. All
// mutable signaling state hangs off the structures created here; nothing
// is package-global, so tests can build their own instances.
func Setup(cfg *config.Config, db *gorm.DB, log zerolog.Logger) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	userRepo := repository.NewUserRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	convRepo := repository.NewConversationRepository(db)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promReg)

	chatHub := ws.NewHub()
	callHub := ws.NewHub()
	registry := ws.NewRegistry()
	calls := ws.NewCallRegistry(cfg.Signaling.RingTimeout)
	relay := ws.NewRelay(callHub)
	bus := ws.NewBus()

	presence := service.NewPresenceBroadcaster(userRepo, settingsRepo, convRepo, registry, chatHub, log)
	authSvc := service.NewAuthService(cfg, userRepo)

	chatGW := handler.NewChatGateway(cfg, chatHub, registry, presence, convRepo, userRepo, settingsRepo, bus, m, log)
	chatGW.RunBridge()
	callGW := handler.NewCallGateway(cfg, callHub, calls, relay, userRepo, settingsRepo, bus, m, log)

	authHandler := handler.NewAuthHandler(authSvc, log)
	presenceHandler := handler.NewPresenceHandler(userRepo, registry)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)
		api.GET("/presence/:user_id", middleware.AuthRequired(&cfg.JWT), presenceHandler.Get)
	}

	r.GET("/ws", chatGW.Handle())
	r.GET("/ws/call", callGW.Handle())

	return r
}
