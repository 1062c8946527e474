package transport

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	appName      = "attribution-relay"
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
)

// NewAppConfig is the fiber configuration shared by the server and handler tests.
// Immutable is required: request values end up in records read by background
// backup and propagation goroutines after the handler returns.
func NewAppConfig(logger *zap.Logger) fiber.Config {
	return fiber.Config{
		AppName:      appName,
		ErrorHandler: ErrorHandler(logger),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		Immutable:    true,
	}
}
