// Package server exposes the ledger engine over a thin HTTP API. All
// business rules live in the ledger processor; handlers only bind,
// validate, and translate errors.
package server

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/shopbook/ledger/internal/config"
	"github.com/shopbook/ledger/internal/ledger"
	"github.com/shopbook/ledger/internal/notify"
)

// Server holds the handler dependencies.
type Server struct {
	processor *ledger.Processor
	notifier  *notify.Notifier
}

// New builds the fiber app with all routes registered.
func New(processor *ledger.Processor, notifier *notify.Notifier, cfg config.Config) *fiber.App {
	s := &Server{processor: processor, notifier: notifier}

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    cfg.BodyLimitBytes,
		// Copy request-backed strings (params, body) so values handed to
		// the processor survive Fiber's buffer reuse (review finding F5).
		Immutable: true,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	api := app.Group("/api")
	api.Post("/customers", s.createCustomer)
	api.Get("/customers", s.listCustomers)
	api.Get("/customers/:id", s.getCustomer)
	api.Get("/customers/:id/bills", s.listBills)
	api.Post("/customers/:id/bills", s.createBill)
	api.Get("/bills/:id", s.getBill)
	api.Post("/bills/:id/items", s.addItem)
	api.Post("/bills/:id/payments", s.applyPayment)
	api.Get("/subscribe/bills/:id", s.subscribeBill)
	api.Get("/subscribe/customers/:id", s.subscribeCustomer)

	return app
}

// errorHandler centralizes error responses and keeps messages sanitized.
func errorHandler(c *fiber.Ctx, err error) error {
	// Fiber errors (use their status code + message)
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	// Validation errors (422 + per-field info)
	if ve, ok := err.(validator.ValidationErrors); ok {
		out := make(map[string]string, len(ve))
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "validation failed",
			"errors":  out,
		})
	}

	// Engine error taxonomy
	switch {
	case errors.Is(err, ledger.ErrInvalidPayment), errors.Is(err, ledger.ErrInvalidItem):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": err.Error()})
	case errors.Is(err, ledger.ErrConcurrencyExhausted):
		// Transient; the caller may retry the whole operation later.
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": "the ledger is busy, please retry",
		})
	}

	// Unknown errors (500)
	slog.Error("internal error", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": "internal server error",
	})
}
