package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/fadelink/fadelink/handlers"
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, health *handlers.HealthHandler) {
	r.GET("/healthz", health.Healthz)
	r.GET("/dl/:id", h.Download) // public download, redirects to a signed URL

	shareGroup := r.Group("/api/share")
	shareGroup.POST("/upload", h.Upload)
	shareGroup.GET("/:id/qr", h.QRCode)
}
