package httpapi

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-station-feed/internal/engine"
	"github.com/i474232898/weather-station-feed/internal/sensor"
	"github.com/i474232898/weather-station-feed/internal/station"
	"github.com/i474232898/weather-station-feed/internal/store"
)

var validate = validator.New()

// SensorStore is the read side of the host's sensor state store.
type SensorStore interface {
	Get(id string) (sensor.State, error)
	List() []sensor.State
}

// Feed exposes the engine's current snapshot and cycle status.
type Feed interface {
	Snapshot() (station.Snapshot, bool)
	Status() engine.Status
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, sensors SensorStore, feed Feed) {
	v1 := app.Group("/api/v1")

	v1.Get("/sensors", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sensors": sensors.List(),
		})
	})

	v1.Get("/sensors/:id", func(c *fiber.Ctx) error {
		req := sensorParams{ID: c.Params("id")}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		st, err := sensors.Get(req.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no state for requested sensor")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch sensor state")
		}
		return c.JSON(st)
	})

	v1.Get("/snapshot", func(c *fiber.Ctx) error {
		snap, ok := feed.Snapshot()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no successful update yet")
		}

		values := make(map[string]string, snap.Len())
		for m, v := range snap.Values() {
			values[string(m)] = v
		}
		return c.JSON(fiber.Map{
			"fetchedAt": snap.FetchedAt(),
			"values":    values,
		})
	})

	v1.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(feed.Status())
	})
}

// sensorParams holds path parameters identifying a sensor.
type sensorParams struct {
	ID string `validate:"required,uuid"`
}
