package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/medialens/mediaproc/internal/api/handlers/media"
	"github.com/medialens/mediaproc/internal/middleware"
)

func Setup(h *media.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.POST("/tasks", h.Submit)         // submitting async transformation task
	api.GET("/tasks/:id", h.Status)      // getting task record by id
	api.GET("/:media/*key", h.Transform) // synchronous transformation

	return r
}
