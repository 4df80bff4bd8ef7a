// Package relay serves the loopback HTTP endpoints that turn driver requests
// into simctl invocations.
package relay

import (
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/jeffwatkins/Pterodactyl/domain"
	"github.com/jeffwatkins/Pterodactyl/simctl"
)

// Options carries the relay's collaborators. Zero fields get defaults.
type Options struct {
	Runner    simctl.Runner
	Tool      simctl.Tool
	Journal   Journal
	Logger    *log.Logger
	PushDir   string
	BodyLimit string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if o.Runner == nil {
		o.Runner = simctl.NewExecRunner(simctl.DefaultTimeout, o.Logger)
	}
	if o.Journal == nil {
		o.Journal = NopJournal{}
	}
	if o.PushDir == "" {
		o.PushDir = os.TempDir()
	}
	if o.BodyLimit == "" {
		o.BodyLimit = defaultBodyLimit
	}
	return o
}

// New builds an Echo instance with middleware, the health route and every
// relay endpoint registered.
func New(opts Options) *echo.Echo {
	opts = opts.withDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(opts.BodyLimit))
	e.Use(InflateRequestBody(maxRequestSize))

	e.GET("/healthz", healthz())
	Register(e, opts)
	return e
}

// Register binds one POST handler per member of domain.Endpoints().
func Register(e *echo.Echo, opts Options) {
	opts = opts.withDefaults()
	for _, endpoint := range domain.Endpoints() {
		var h echo.HandlerFunc
		switch endpoint {
		case domain.EndpointPush:
			h = simulatorPush(opts)
		case domain.EndpointUpdateDefaults:
			h = updateDefaults(opts)
		case domain.EndpointDeleteDefaults:
			h = deleteDefaults(opts)
		default:
			panic(fmt.Sprintf("relay: no handler for endpoint %s", endpoint))
		}
		e.POST("/"+endpoint.Path(), h)
		opts.Logger.Infof("registered %s endpoint", endpoint)
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}
