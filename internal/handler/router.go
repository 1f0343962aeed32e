package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/blur-background/internal/config"
	"github.com/menta2k/blur-background/internal/handler/middleware"
)

// BuildInfo is reported by /version
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// Handlers groups the route handlers. Object and Chat may be nil.
type Handlers struct {
	Blur   *BlurHandler
	Render *RenderHandler
	Chat   *ChatHandler
	Object *ObjectHandler
}

func SetupRouter(cfg *config.Config, logger *zap.Logger, build BuildInfo, h Handlers) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize + 1<<20

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": build.Version})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, build)
	})

	api := r.Group("/api")
	{
		api.POST("/blur-background", h.Blur.Upload)
		api.POST("/composite", h.Render.Composite)
		if h.Chat != nil {
			api.POST("/chat", h.Chat.Chat)
		}
	}

	if h.Object != nil {
		r.GET("/objects/*key", h.Object.Get)
	}

	return r
}
