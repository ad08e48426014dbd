package httpapi

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/etl-connectors/internal/connector"
)

var validate = validator.New()

// RegisterRoutes wires the run-status handlers into the Fiber app. The API is
// read-only: it reports what the scheduled pipeline has done, it never
// triggers a run.
func RegisterRoutes(app *fiber.App, history *connector.RunHistory) {
	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		latest, err := history.Latest()
		if err != nil {
			if errors.Is(err, connector.ErrNoRuns) {
				return fiber.NewError(fiber.StatusNotFound, "no completed runs yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
		}

		return c.JSON(latest)
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		req, err := parseRunsQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		return c.JSON(fiber.Map{
			"runs": history.Recent(req.Limit),
		})
	})
}

// runsQuery holds query parameters for the runs endpoint.
type runsQuery struct {
	Limit int `validate:"gte=1,lte=100"`
}

func parseRunsQuery(c *fiber.Ctx) (runsQuery, error) {
	q := runsQuery{Limit: 20}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.New("limit must be an integer")
		}
		q.Limit = n
	}

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}
