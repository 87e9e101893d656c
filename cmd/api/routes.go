package main

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/easypdf/internal/pdf"
	"github.com/yourusername/easypdf/internal/ratelimit"
)

// toolOperations は POST /api/pdf/{op} で同期実行する操作です。
var toolOperations = []pdf.OperationType{
	pdf.OperationMerge,
	pdf.OperationSplit,
	pdf.OperationCompress,
	pdf.OperationRotate,
	pdf.OperationWatermark,
	pdf.OperationUnlock,
	pdf.OperationESign,
	pdf.OperationOCR,
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, app *app) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := app.auth
	uploadLimit := ratelimit.Middleware(app.limiter, "upload", app.uploadRule, app.log)
	downloadLimit := ratelimit.Middleware(app.limiter, "download", app.downloadRule, app.log)

	api := router.Group("/api")
	// ログインは任意。ログイン済みなら利用者IDを読み込み、状態変更には CSRF トークンを要求する
	api.Use(authManager.LoadUser(), authManager.VerifyCSRF())
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", authManager.Register)
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout", authManager.RequireLogin(), authManager.Logout)
			authRoutes.GET("/me", authManager.RequireLogin(), authManager.Me)
		}

		api.POST("/upload", uploadLimit, app.upload.Upload)
		api.GET("/download", downloadLimit, app.download.Download)
		api.GET("/preview", downloadLimit, app.download.Preview)

		pdfRoutes := api.Group("/pdf")
		{
			for _, op := range toolOperations {
				pdfRoutes.POST("/"+string(op), app.jobs.Tool(op))
			}
			pdfRoutes.POST("/batch", app.jobs.Batch)
		}

		jobRoutes := api.Group("/jobs")
		{
			jobRoutes.POST("", authManager.RequireLogin(), app.jobs.Create)
			jobRoutes.GET("/:id", app.jobs.Get)
			jobRoutes.GET("/:id/events", app.jobs.Events)
		}

		user := api.Group("/user")
		user.Use(authManager.RequireLogin())
		{
			user.GET("/profile", app.account.GetProfile)
			user.PUT("/profile", app.account.UpdateProfile)
			user.GET("/history", app.account.History)
			user.GET("/history/export", app.account.ExportHistory)
			user.GET("/activity", app.account.Activity)
			user.GET("/stats", app.account.Stats)
			user.POST("/subscription/cancel", app.account.CancelSubscription)
		}
	}
}
