package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows cross-origin reads of the JSON API. A "*" entry allows every origin without
// credentials; explicit origins may send the session cookie.
func CORS(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Correlation-ID", "X-Session-ID"},
		ExposeHeaders: []string{"X-Correlation-ID"},
		MaxAge:        12 * time.Hour,
	}

	for _, origin := range origins {
		if origin == "*" {
			config.AllowAllOrigins = true
			return cors.New(config)
		}
	}
	config.AllowOrigins = origins
	config.AllowCredentials = true
	return cors.New(config)
}
