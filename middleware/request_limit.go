package middleware

import (
	"net/http"

	"ai-tutor-platform/utils"

	"github.com/gin-gonic/gin"
)

// RequestSizeLimit caps JSON bodies. PDFs are fetched by URL, so the API
// never needs large request bodies.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			utils.AbortWithError(c, http.StatusRequestEntityTooLarge, "request_too_large",
				"Request body exceeds maximum size",
				gin.H{"max_size": maxSize, "received": c.Request.ContentLength})
			return
		}
		// Chunked bodies carry no Content-Length.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
