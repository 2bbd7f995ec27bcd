package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workbridge/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	authHandler *AuthHandler,
	projectHandler *ProjectHandler,
	bidHandler *BidHandler,
	contractHandler *ContractHandler,
	milestoneHandler *MilestoneHandler,
	escrowHandler *EscrowHandler,
	notificationHandler *NotificationHandler,
	webhookHandler *WebhookHandler,
	adminHandler *AdminHandler,
	jwtSecret string,
) *Router {
	r := gin.Default()
	r.Use(TraceMiddleware(), MetricsMiddleware())

	// Public
	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)
	r.POST("/webhooks/escrow", webhookHandler.HandleEscrowEvent)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/projects", RequirePermission(rbac.PermissionCreateProject), projectHandler.Create)
		auth.GET("/projects", projectHandler.ListOpen)
		auth.GET("/projects/mine", projectHandler.ListMine)
		auth.GET("/projects/:id", projectHandler.Get)
		auth.GET("/projects/:id/bids", projectHandler.ListBids)

		auth.POST("/bids", RequirePermission(rbac.PermissionPlaceBid), bidHandler.Submit)
		auth.POST("/bids/:id/shortlist", RequirePermission(rbac.PermissionDecideBid), bidHandler.Shortlist)
		auth.POST("/bids/:id/reject", RequirePermission(rbac.PermissionDecideBid), bidHandler.Reject)
		auth.POST("/bids/:id/accept", RequirePermission(rbac.PermissionDecideBid), bidHandler.Accept)

		auth.POST("/contracts", RequirePermission(rbac.PermissionCreateContract), contractHandler.Create)
		auth.GET("/contracts", contractHandler.List)
		auth.GET("/contracts/:id", contractHandler.Overview)
		auth.PUT("/contracts/:id/terms", contractHandler.UpdateTerms)
		auth.POST("/contracts/:id/advance", contractHandler.Advance)
		auth.POST("/contracts/:id/refund", escrowHandler.Refund)

		auth.POST("/milestones/:id/progress", milestoneHandler.RecordProgress)
		auth.GET("/milestones/:id/progress", milestoneHandler.ListProgress)
		auth.PUT("/milestones/:id", milestoneHandler.UpdateDetails)
		auth.POST("/milestones/:id/fund", escrowHandler.Fund)
		auth.POST("/milestones/:id/release", escrowHandler.Release)

		auth.GET("/notifications", notificationHandler.List)
		auth.POST("/notifications/:id/read", notificationHandler.MarkRead)

		auth.POST("/admin/outbox/replay", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayFailed)
		auth.POST("/admin/outbox/replay/:id", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayOne)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(addr string) error {
	return r.Engine.Run(addr)
}
