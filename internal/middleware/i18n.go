// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/billing-backend/internal/i18n"
)

func I18nMiddleware(defaultLang string) gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := defaultLang

		// Handle cases like "hi-IN,hi;q=0.9,en;q=0.8"
		for _, candidate := range strings.Split(c.GetHeader("Accept-Language"), ",") {
			tag := strings.TrimSpace(strings.Split(candidate, ";")[0])
			base := strings.ToLower(strings.SplitN(strings.ReplaceAll(tag, "_", "-"), "-", 2)[0])
			if base != "" && i18n.IsSupported(base) {
				lang = base
				break
			}
		}

		// Set language in context
		c.Set("lang", lang)
		c.Next()
	}
}
