package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"yardflow/config"
)

// CORS admits the dashboard origins configured via CORS_ALLOW_ORIGINS.
// Credentials are allowed, so the origin list must stay explicit ("*" would
// make Fiber reject the config).
func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     config.AppConfig.CORSAllowOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	})
}
