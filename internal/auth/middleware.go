package auth

import "github.com/gin-gonic/gin"

// ContextUserKey は、ハンドラー間でログイン済み利用者IDを共有するためのキーです。
const ContextUserKey = "auth.user"

// UserID はログイン中の利用者IDを返します。未ログインの場合は空文字です。
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserKey)
}

// SecurityHeaders はブラウザ向けのセキュリティヘッダーを付与します。
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		c.Next()
	}
}
