package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/planmail/internal/api/handler"
	"github.com/timmy/planmail/internal/api/middleware"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
)

// Handlers groups the endpoint handlers mounted by SetupRouter.
type Handlers struct {
	Health     *handler.HealthHandler
	Ops        *handler.OpsHandler
	Jobs       *handler.JobHandler
	Executions *handler.ExecutionHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h Handlers, mode string, cors middleware.CORSConfig, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		// Operator switches
		v1.GET("/status", h.Ops.Status)
		v1.POST("/emergency-stop", h.Ops.EmergencyStop)
		v1.POST("/throttle/reset", h.Ops.ResetThrottle)

		// Jobs
		v1.GET("/jobs", h.Jobs.ListJobs)
		v1.POST("/plans/:id/send", h.Jobs.TriggerSend)

		// Executions
		v1.GET("/executions/:id", h.Executions.GetExecution)
		v1.POST("/executions/:id/retry-failed", h.Executions.RetryFailed)
	}

	return r
}
