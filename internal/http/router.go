package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/flowmium/flowmium/internal/http/handlers"
	httpMW "github.com/flowmium/flowmium/internal/http/middleware"
	"github.com/flowmium/flowmium/internal/http/ws"
	"github.com/flowmium/flowmium/internal/pkg/logger"
)

type RouterConfig struct {
	JobHandler      *httpH.JobHandler
	ArtefactHandler *httpH.ArtefactHandler
	SecretHandler   *httpH.SecretHandler
	SchedulerWS     *ws.SchedulerHandler
	Log             *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("flowmium"))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	r.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api/v1")
	{
		api.POST("/job", cfg.JobHandler.CreateJob)
		api.GET("/job", cfg.JobHandler.ListJobs)
		api.GET("/job/:id", cfg.JobHandler.GetJob)

		api.GET("/artefact/:flow_id/:output_name", cfg.ArtefactHandler.GetArtefact)

		api.POST("/secret/:key", cfg.SecretHandler.CreateSecret)
		api.PUT("/secret/:key", cfg.SecretHandler.PutSecret)
		api.DELETE("/secret/:key", cfg.SecretHandler.DeleteSecret)

		api.GET("/scheduler/ws", cfg.SchedulerWS.ServeWS)
	}

	return r
}
