package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		err       error
		wantCode  int
		wantBody  string
		wantLevel zapcore.Level
	}{
		{
			name:      "fiber error keeps code and message",
			err:       fiber.NewError(fiber.StatusBadRequest, "validation error: registration_ids or to is required"),
			wantCode:  fiber.StatusBadRequest,
			wantBody:  "validation error: registration_ids or to is required",
			wantLevel: zapcore.WarnLevel,
		},
		{
			name:      "gateway errors are logged as errors",
			err:       fiber.NewError(fiber.StatusBadGateway, "gcm service error: status=401"),
			wantCode:  fiber.StatusBadGateway,
			wantBody:  "gcm service error: status=401",
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name:      "plain errors are hidden",
			err:       errors.New("redis: connection pool timeout"),
			wantCode:  fiber.StatusInternalServerError,
			wantBody:  "internal server error",
			wantLevel: zapcore.ErrorLevel,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Get("/boom", func(c *fiber.Ctx) error { return tc.err })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			if resp.StatusCode != tc.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantCode)
			}

			var parsed map[string]string
			if err := json.Unmarshal(body, &parsed); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if parsed["error"] != tc.wantBody {
				t.Fatalf("error = %q, want %q", parsed["error"], tc.wantBody)
			}

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tc.wantLevel {
				t.Fatalf("log level = %s, want %s", entries[0].Level, tc.wantLevel)
			}
		})
	}
}

func TestAppConfigUsesErrorHandlerAndJSONCodec(t *testing.T) {
	t.Parallel()

	app := fiber.New(AppConfig(zap.NewNop()))
	app.Get("/echo", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"tokens": []string{"tok-1"}})
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "delivery not found")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/echo", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"tokens":["tok-1"]}` {
		t.Fatalf("body = %s, want encoded tokens", string(body))
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusNotFound || string(body) != `{"error":"delivery not found"}` {
		t.Fatalf("status=%d body=%s, want 404 with error payload", resp.StatusCode, string(body))
	}
}
