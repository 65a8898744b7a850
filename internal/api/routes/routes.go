package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/kelvana/presetsmith/internal/api/handlers"
)

type Deps struct {
	Inference *handlers.InferenceHandler
	Stream    *handlers.StreamHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	v1 := r.Group("/v1")

	v1.GET("", d.Inference.ServerMetadata)
	v1.GET("/health/live", d.Inference.HealthLive)
	v1.GET("/health/ready", d.Inference.HealthReady)

	v1.GET("/models/:model", d.Inference.ModelMetadata)
	v1.GET("/models/:model/ready", d.Inference.ModelReady)
	v1.POST("/models/:model/infer", d.Inference.Infer)

	v1.GET("/infer-audio/status/:id", d.Inference.GetStatus)
	v1.GET("/infer-audio/status/:id/stream", d.Stream.StatusSSE)
	v1.GET("/infer-audio/status/:id/ws", d.Stream.StatusWS)
	v1.GET("/infer-audio/result/:id", d.Inference.GetResult)
}
