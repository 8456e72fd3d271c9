package httpapi

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/weather-history/internal/metrics"
	"github.com/i474232898/weather-history/internal/pipeline"
	"github.com/i474232898/weather-history/internal/store"
	"github.com/i474232898/weather-history/internal/weather"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RunStarter launches background runs; implemented by *pipeline.Runner.
type RunStarter interface {
	Start(ctx context.Context, req pipeline.Request) (string, error)
	Busy() bool
}

// ReportReader reads run history; implemented by *store.MemoryStore.
type ReportReader interface {
	Latest() (weather.RunReport, error)
	Get(runID string) (weather.RunReport, error)
	List(limit int) []weather.RunReport
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. Runs started over
// HTTP inherit runCtx, so cancelling it stops them.
func RegisterRoutes(runCtx context.Context, app *fiber.App, runner RunStarter, reports ReportReader, m *metrics.Metrics) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-history",
			"busy":    runner.Busy(),
		})
	})

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/runs", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultListLimit)
		if limit < 1 || limit > maxListLimit {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 100")
		}
		return c.JSON(fiber.Map{"runs": reports.List(limit)})
	})

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		report, err := reports.Latest()
		if err != nil {
			return reportError(err)
		}
		return c.JSON(report)
	})

	v1.Get("/runs/:id", func(c *fiber.Ctx) error {
		report, err := reports.Get(c.Params("id"))
		if err != nil {
			return reportError(err)
		}
		return c.JSON(report)
	})

	v1.Post("/runs", func(c *fiber.Ctx) error {
		var req pipeline.Request
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		// The run outlives the request but not the server.
		runID, err := runner.Start(runCtx, req)
		switch {
		case errors.Is(err, pipeline.ErrInvalidRequest):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, pipeline.ErrBusy):
			return fiber.NewError(fiber.StatusConflict, "a run is already in progress")
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, "failed to start run")
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": runID})
	})
}

func reportError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no run report found")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to read run reports")
}
