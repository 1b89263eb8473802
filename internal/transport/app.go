package transport

import (
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const appName = "gcm-relay"

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// AppConfig is the fiber configuration shared by the API and worker servers.
func AppConfig(logger *zap.Logger) fiber.Config {
	return fiber.Config{
		AppName:               appName,
		ErrorHandler:          ErrorHandler(logger),
		JSONEncoder:           jsonCodec.Marshal,
		JSONDecoder:           jsonCodec.Unmarshal,
		DisableStartupMessage: true,
	}
}
