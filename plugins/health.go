package plugins

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/robfig/cron/v3"
)

// EventHealth is raised after every identity check
const EventHealth = "health"

// Health check outcomes
const (
	HealthOK       = "ok"
	HealthIdle     = "idle"
	HealthFailed   = "failed"
	HealthNoSensor = "no_sensor"
)

// HealthConfig holds health plugin configuration
type HealthConfig struct {
	// Schedule is a cron spec or descriptor such as "@every 30s"
	Schedule string `yaml:"schedule"`
}

// HealthResult is the outcome of one identity check
type HealthResult struct {
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Checked  time.Time `json:"checked"`
	Failures int       `json:"consecutive_failures"`
}

// cronLogger adapts slog to the cron.Logger interface
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// HealthPlugin periodically re-reads the chip id of an open session
type HealthPlugin struct {
	config HealthConfig
	env    *Env
	cron   *cron.Cron

	mu   sync.Mutex
	last HealthResult
}

// NewHealthPlugin creates a new health plugin instance and starts its
// schedule
func NewHealthPlugin(cfg HealthConfig, env *Env) (*HealthPlugin, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}

	logger := cronLogger{logger: slog.Default().With("plugin", "health")}
	p := &HealthPlugin{
		config: cfg,
		env:    env,
		cron:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger))),
	}

	if _, err := p.cron.AddFunc(cfg.Schedule, func() { p.check() }); err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", cfg.Schedule, err)
	}
	p.cron.Start()

	slog.Info("Health checks scheduled", "schedule", cfg.Schedule)
	return p, nil
}

// Name returns the plugin identifier
func (p *HealthPlugin) Name() string {
	return "health"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *HealthPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/health")

	api.Get("/", p.handleStatus)
	api.Post("/check", p.handleCheck)
}

// Shutdown stops the schedule and waits for a running check
func (p *HealthPlugin) Shutdown() error {
	<-p.cron.Stop().Done()
	return nil
}

// check verifies the chip id under the session lock. A sensor without an
// open session is left powered down.
func (p *HealthPlugin) check() HealthResult {
	res := HealthResult{Checked: time.Now()}
	dev := p.env.Sensor

	var err error
	if dev == nil {
		res.Status = HealthNoSensor
	} else {
		scope := dev.Controller().Acquire()
		switch {
		case !scope.Active():
			res.Status = HealthIdle
		default:
			if err = scope.MatchID(); err != nil {
				res.Status = HealthFailed
				res.Error = err.Error()
			} else {
				res.Status = HealthOK
			}
		}
		scope.Close()
	}

	p.mu.Lock()
	if res.Status == HealthFailed {
		res.Failures = p.last.Failures + 1
	}
	p.last = res
	p.mu.Unlock()

	if err != nil {
		slog.Warn("Sensor health check failed", "error", err, "failures", res.Failures)
	}

	if p.env.Events != nil {
		name := ""
		if dev != nil {
			name = dev.Name()
		}
		p.env.Events.Publish(NewEvent(EventHealth, name, res))
	}
	return res
}

// Last returns the most recent result
func (p *HealthPlugin) Last() HealthResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *HealthPlugin) handleStatus(c *fiber.Ctx) error {
	return SendSuccess(c, map[string]interface{}{
		"schedule": p.config.Schedule,
		"last":     p.Last(),
	}, "")
}

func (p *HealthPlugin) handleCheck(c *fiber.Ctx) error {
	res := p.check()
	if res.Status == HealthFailed {
		return c.Status(fiber.StatusBadGateway).JSON(APIResponse{
			Success: false,
			Data:    res,
			Error:   res.Error,
		})
	}
	return SendSuccess(c, res, "")
}

// Register the plugin
func init() {
	Register("health", func(env *Env) (Plugin, error) {
		var cfg HealthConfig
		if err := decodeConfig(env.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config for health plugin: %w", err)
		}
		return NewHealthPlugin(cfg, env)
	})
}
