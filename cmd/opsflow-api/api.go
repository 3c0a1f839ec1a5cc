package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/opsflow/pkg/services"
	"github.com/dukex/opsflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger *slog.Logger
	runs   *services.Runs
}

func NewAPI(logger *slog.Logger, runs *services.Runs) *API {
	return &API{
		logger: logger,
		runs:   runs,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.runs)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("opsflow API")
	})

	handlers.Routes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Listening", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
