// Package assets exposes the asset service over HTTP with gin.
package assets

import (
	"assetcore/internal/adapters/reports"
	"assetcore/internal/blob"
	"assetcore/internal/core"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxUpload = 32 << 20

// RouterConfig wires the HTTP surface. Only Service is required.
type RouterConfig struct {
	Service *core.Service
	Reports reports.Scheduler
	// ReportStore serves report downloads; usually the worker's blob store.
	ReportStore    blob.Store
	Logger         core.Logger
	Metrics        *HTTPMetrics
	MetricsHandler http.Handler
	TracerProvider trace.TracerProvider
	ServiceName    string
	CORSOrigins    []string
	MaxUploadBytes int64
}

// Handler serves the asset API.
type Handler struct {
	svc         *core.Service
	reports     reports.Scheduler
	reportStore blob.Store
	log         core.Logger
	maxUpload   int64
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracerProvider != nil {
		name := cfg.ServiceName
		if name == "" {
			name = "assetcore"
		}
		r.Use(otelgin.Middleware(name, otelgin.WithTracerProvider(cfg.TracerProvider)))
	}
	r.Use(cfg.Metrics.Middleware())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(CORS(cfg.CORSOrigins))

	h := &Handler{
		svc:         cfg.Service,
		reports:     cfg.Reports,
		reportStore: cfg.ReportStore,
		log:         cfg.Logger,
		maxUpload:   cfg.MaxUploadBytes,
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUpload
	}

	r.GET("/healthcheck", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	api := r.Group("/api/v1")
	api.POST("/users/register", h.Register)

	protected := api.Group("/")
	protected.Use(RequireSession(cfg.Service))
	{
		protected.GET("/me", h.Me)

		protected.GET("/users", h.ListUsers)
		protected.POST("/users", h.CreateUser)
		protected.PATCH("/users/:id", h.UpdateUser)
		protected.DELETE("/users/:id", h.DeleteUser)

		protected.GET("/categories", h.ListCategories)
		protected.POST("/categories", h.CreateCategory)
		protected.PATCH("/categories/:id", h.UpdateCategory)
		protected.DELETE("/categories/:id", h.DeleteCategory)

		protected.GET("/assets", h.ListAssets)
		protected.POST("/assets", h.CreateAsset)
		protected.GET("/assets/:id", h.GetAsset)
		protected.PATCH("/assets/:id", h.UpdateAsset)
		protected.DELETE("/assets/:id", h.DeleteAsset)

		protected.POST("/assets/:id/assign", h.AssignAsset)
		protected.POST("/assets/:id/return", h.ReturnAsset)
		protected.POST("/assets/:id/dispose", h.DisposeAsset)
		protected.POST("/assets/:id/status", h.ChangeStatus)

		protected.GET("/assets/:id/assignments", h.ListAssignments)
		protected.GET("/assets/:id/history", h.ListHistory)
		protected.GET("/assets/:id/maintenance", h.ListMaintenance)
		protected.POST("/assets/:id/maintenance", h.AddMaintenance)
		protected.PATCH("/assets/:id/maintenance/:recordId", h.UpdateMaintenanceStatus)

		protected.POST("/assets/:id/attachments", h.AttachFile)
		protected.DELETE("/assets/:id/attachments", h.RemoveAttachment)
		protected.PUT("/assets/:id/image", h.SetImage)

		if cfg.Reports != nil {
			protected.GET("/reports", h.ListReports)
			protected.POST("/reports", h.CreateReport)
			protected.GET("/reports/:id", h.GetReport)
			protected.GET("/reports/:id/download/:format", h.DownloadReport)
		}
	}
	return r
}
