package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/api/handlers"
	"github.com/inboxkeep/core/internal/api/middleware"
	"github.com/inboxkeep/core/internal/app"
	"github.com/inboxkeep/core/internal/progress"
)

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(a *app.App) *gin.Engine {
	cfg := a.Config

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(a.Logger, a.Logs))

	origins := cfg.GetCORSOrigins()
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	// Initialize handlers
	accountHandler := handlers.NewAccountHandler(a.Accounts)
	emailHandler := handlers.NewEmailHandler(a.Emails, a.Accounts, a.Links)
	ingestHandler := handlers.NewIngestHandler(a.Workflow)
	extractionHandler := handlers.NewExtractionHandler(a.Runner, a.Emails)
	progressHandler := handlers.NewProgressHandler(cfg.Progress.KeepAlive, a.IngestTracker, a.ExtractionTracker)
	logHandler := handlers.NewLogHandler(a.Logs)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Signed download links carry their own authorization
	router.GET("/files/:token", emailHandler.DownloadByToken)

	api := router.Group("/api")
	if cfg.RequireAPIKey {
		api.Use(middleware.APIKeyMiddleware(a.APIKeys))
	}
	{
		// Ingestion
		api.POST("/preview", ingestHandler.Preview)
		api.POST("/commit", ingestHandler.Commit)
		api.GET("/progress", progressHandler.Stream(progress.KindIngest))

		// Extraction
		extraction := api.Group("/extraction")
		{
			extraction.POST("/start", extractionHandler.StartExtraction)
			extraction.GET("/progress", progressHandler.Stream(progress.KindExtraction))
			extraction.GET("/summary", extractionHandler.GetSummary)
		}

		// Jobs
		jobs := api.Group("/jobs")
		{
			jobs.GET("/:kind", progressHandler.GetState)
			jobs.POST("/:kind/abort", progressHandler.Abort)
		}

		// Mailbox account routes
		accounts := api.Group("/accounts")
		{
			accounts.GET("", accountHandler.ListAccounts)
			accounts.POST("", accountHandler.CreateAccount)
			accounts.GET("/selected", accountHandler.GetSelectedAccount) // must be before /:id
			accounts.POST("/test", accountHandler.TestConnectionDirect)  // test without saving
			accounts.GET("/:id", accountHandler.GetAccount)
			accounts.PUT("/:id", accountHandler.UpdateAccount)
			accounts.DELETE("/:id", accountHandler.DeleteAccount)
			accounts.PUT("/:id/select", accountHandler.SelectAccount)
			accounts.POST("/:id/test", accountHandler.TestConnection)
			accounts.PUT("/:id/enable", accountHandler.EnableAccount)
			accounts.PUT("/:id/disable", accountHandler.DisableAccount)
		}

		// Retained email routes
		emails := api.Group("/emails")
		{
			emails.GET("", emailHandler.ListEmails)
			emails.GET("/:id", emailHandler.GetEmail)
			emails.DELETE("/:id", emailHandler.DeleteEmail)
		}

		// Attachment routes
		attachments := api.Group("/attachments")
		{
			attachments.GET("/:id/download", emailHandler.DownloadAttachment)
			attachments.POST("/:id/link", emailHandler.CreateDownloadLink)
		}

		api.GET("/logs", logHandler.ListLogs)
		api.GET("/logs/level", logHandler.GetLevel)
		api.PUT("/logs/level", logHandler.SetLevel)
	}

	return router
}
