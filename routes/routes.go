package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"film-forge-server/controllers"
	"film-forge-server/middleware"
)

// Controllers bundles everything SetupRoutes mounts.
type Controllers struct {
	Auth  *controllers.AuthController
	Film  *controllers.FilmController
	Video *controllers.VideoController
}

func SetupRoutes(r *gin.Engine, c Controllers) {
	// Health check and system endpoints
	r.GET("/health", healthCheck)
	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Film Forge Server API",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", c.Auth.Register)
			auth.POST("/login", c.Auth.Login)
			auth.POST("/refresh", c.Auth.RefreshToken)
			auth.GET("/profile", middleware.AuthRequired(), c.Auth.Profile)
		}

		films := v1.Group("/films")
		films.Use(middleware.AuthRequired())
		{
			films.POST("", c.Film.CreateFilm)
			films.GET("", c.Film.ListFilms)
			films.GET("/:id", c.Film.GetFilm)
			films.DELETE("/:id", c.Film.DeleteFilm)

			films.POST("/:id/generate", c.Film.StartGeneration)
			films.GET("/:id/progress", c.Film.GetProgress)
			films.GET("/:id/events", c.Film.Events)
			films.GET("/:id/chapters", c.Film.ListChapters)
			films.POST("/:id/chapters", c.Film.GenerateChapter)
			films.POST("/:id/framework", c.Film.GenerateFramework)
		}

		videos := v1.Group("/videos")
		{
			videos.POST("/generate", middleware.AuthRequired(), c.Video.GenerateVideo)
			videos.GET("", middleware.AuthRequired(), c.Video.ListVideos)
			videos.GET("/info/:id", middleware.AuthRequired(), c.Video.GetVideo)
			// handle 含日期分区斜杠,无需登录即可下载
			videos.GET("/download/*handle", c.Video.DownloadVideo)
		}
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
