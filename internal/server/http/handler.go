// Package http exposes the match service as a REST API
package http

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"arena/internal/server/catalog"
	"arena/internal/server/core"
	"arena/internal/server/match"
	"arena/internal/server/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"
)

const rateLimitRate = 10 // req/sec

// Config selects the optional behaviours of the API
type Config struct {
	DevMode bool
	Log     zerolog.Logger
}

// HTTPHandler routes HTTP requests to the match service
type HTTPHandler struct {
	svc *service.Service
	log zerolog.Logger
}

func NewHTTPHandler(svc *service.Service, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log}
}

func NewFiberApp(svc *service.Service, cfg Config) *fiber.App {
	h := NewHTTPHandler(svc, cfg.Log)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: service.WaitTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${status} ${method} ${path} ${latency}\n",
		Output: cfg.Log,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check (no rate limit)
	app.Get("/health", h.Health)

	api := app.Group("/api/v1")

	maxReq := rateLimitRate
	if cfg.DevMode {
		maxReq = rateLimitRate * 2
	}
	api.Use(limiter.New(limiter.Config{
		Max:        maxReq,
		Expiration: 1 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			if xff := c.Get("X-Forwarded-For"); xff != "" {
				if idx := strings.Index(xff, ","); idx != -1 {
					return strings.TrimSpace(xff[:idx])
				}
				return xff
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(core.ErrorResponse{
				Error:   "rate limit exceeded",
				Code:    core.ErrRateLimitExceeded,
				Details: fmt.Sprintf("%d requests per second allowed", maxReq),
			})
		},
	}))

	api.Use(contentTypeValidator)
	api.Use(validationMiddleware)

	guard := OptionalAuth(svc.ValidateToken)
	if svc.AuthEnabled() {
		guard = AuthRequired(svc.ValidateToken)
	}

	api.Get("/agents", h.ListAgents)
	api.Get("/matches", h.ListMatches)
	api.Post("/matches", guard, h.CreateMatch)
	api.Get("/matches/:matchId", h.GetMatch)
	api.Delete("/matches/:matchId", guard, h.DeleteMatch)
	api.Post("/matches/:matchId/play", guard, h.Play)
	api.Post("/matches/:matchId/pause", guard, h.Pause)
	api.Post("/matches/:matchId/step", guard, h.Step)
	api.Post("/matches/:matchId/reset", guard, h.Reset)
	api.Put("/matches/:matchId/agents", guard, h.LoadAgents)
	api.Put("/matches/:matchId/settings", guard, h.UpdateSettings)

	return app
}

// contentTypeValidator ensures POST and PUT requests have application/json
func contentTypeValidator(c *fiber.Ctx) error {
	method := c.Method()
	if method == fiber.MethodPost || method == fiber.MethodPut {
		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(core.ErrorResponse{
				Error:   "unsupported media type",
				Code:    core.ErrInvalidContent,
				Details: "Content-Type must be application/json",
			})
		}
	}
	return c.Next()
}

// customErrorHandler provides consistent error responses
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	response := core.ErrorResponse{
		Error: "internal server error",
		Code:  core.ErrInternalError,
	}

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		response.Error = e.Message

		switch code {
		case fiber.StatusNotFound:
			response.Code = core.ErrMatchNotFound
		case fiber.StatusBadRequest:
			response.Code = core.ErrInvalidRequest
		case fiber.StatusTooManyRequests:
			response.Code = core.ErrRateLimitExceeded
		}
	}

	return c.Status(code).JSON(response)
}

// serviceError maps service and orchestrator errors onto HTTP responses
func (h *HTTPHandler) serviceError(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, core.ErrInternalError

	switch {
	case errors.Is(err, service.ErrMatchNotFound):
		status, code = fiber.StatusNotFound, core.ErrMatchNotFound
	case errors.Is(err, catalog.ErrAgentNotFound):
		status, code = fiber.StatusNotFound, core.ErrAgentNotFound
	case errors.Is(err, service.ErrResourceLimit):
		status, code = fiber.StatusServiceUnavailable, core.ErrResourceLimit
	case errors.Is(err, service.ErrMatchFinished):
		status, code = fiber.StatusConflict, core.ErrMatchFinished
	case errors.Is(err, match.ErrLoadFailed), errors.Is(err, match.ErrSuperseded):
		status, code = fiber.StatusBadGateway, core.ErrLoadFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = fiber.StatusRequestTimeout, core.ErrInternalError
	default:
		h.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.Status(status).JSON(core.ErrorResponse{
			Error: "internal server error",
			Code:  code,
		})
	}

	return c.Status(status).JSON(core.ErrorResponse{
		Error:   statusText(status),
		Code:    code,
		Details: err.Error(),
	})
}

func statusText(status int) string {
	return strings.ToLower(utils.StatusMessage(status))
}

func invalidMatchID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
		Error:   "invalid match ID format",
		Code:    core.ErrInvalidRequest,
		Details: "match ID must be a valid UUID",
	})
}

func validationBypassed(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
		Error: "validation bypass detected",
		Code:  core.ErrInternalError,
	})
}

// Health reports liveness, storage status and load
func (h *HTTPHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"storage": h.svc.GetStorageHealth(),
		"matches": h.svc.ActiveMatches(),
		"auth":    h.svc.AuthEnabled(),
	})
}

// ListAgents returns the seatable agents without their locators
func (h *HTTPHandler) ListAgents(c *fiber.Ctx) error {
	agents := h.svc.Catalog().List()
	out := make([]core.AgentInfo, 0, len(agents))
	for _, a := range agents {
		out = append(out, core.AgentInfo{Username: a.Username, Avatar: a.Avatar, ForkURL: a.ForkURL})
	}
	return c.JSON(out)
}

func (h *HTTPHandler) ListMatches(c *fiber.Ctx) error {
	return c.JSON(h.svc.ListMatches())
}

// CreateMatch seats two catalog agents and waits for both to load
func (h *HTTPHandler) CreateMatch(c *fiber.Ctx) error {
	req, ok := validatedBody[core.CreateMatchRequest](c)
	if !ok {
		return validationBypassed(c)
	}

	resp, err := h.svc.CreateMatch(c.Context(), req.White, req.Black)
	if err != nil {
		return h.serviceError(c, err)
	}

	if operator, ok := c.Locals("operator").(string); ok {
		h.log.Info().Str("operator", operator).Str("match", resp.MatchID).Msg("match created by operator")
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// GetMatch returns the match snapshot. With wait=true it long-polls until the
// version differs from the one given, the wait times out, or the client leaves.
func (h *HTTPHandler) GetMatch(c *fiber.Ctx) error {
	id := c.Params("matchId")
	if !isValidUUID(id) {
		return invalidMatchID(c)
	}

	if c.Query("wait", "false") != "true" {
		resp, err := h.svc.GetMatch(id)
		if err != nil {
			return h.serviceError(c, err)
		}
		return c.JSON(resp)
	}

	version, err := strconv.Atoi(c.Query("version", "-1"))
	if err != nil {
		version = -1
	}

	current, err := h.svc.Version(id)
	if err != nil {
		return h.serviceError(c, err)
	}

	if version == current {
		ctx := c.Context()
		notify := h.svc.RegisterWait(ctx, id, version)

		select {
		case <-notify:
		case <-ctx.Done():
			return nil
		}
	}

	resp, err := h.svc.GetMatch(id)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(resp)
}

func (h *HTTPHandler) DeleteMatch(c *fiber.Ctx) error {
	id := c.Params("matchId")
	if !isValidUUID(id) {
		return invalidMatchID(c)
	}
	if err := h.svc.DeleteMatch(id); err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *HTTPHandler) Play(c *fiber.Ctx) error {
	return h.control(c, h.svc.Play)
}

func (h *HTTPHandler) Pause(c *fiber.Ctx) error {
	return h.control(c, h.svc.Pause)
}

func (h *HTTPHandler) Reset(c *fiber.Ctx) error {
	return h.control(c, h.svc.Reset)
}

// Step returns once the ply has been applied
func (h *HTTPHandler) Step(c *fiber.Ctx) error {
	return h.control(c, func(id string) (core.MatchResponse, error) {
		return h.svc.Step(c.Context(), id)
	})
}

func (h *HTTPHandler) control(c *fiber.Ctx, op func(id string) (core.MatchResponse, error)) error {
	id := c.Params("matchId")
	if !isValidUUID(id) {
		return invalidMatchID(c)
	}
	resp, err := op(id)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(resp)
}

// LoadAgents replaces both agents; the match restarts from the initial position
func (h *HTTPHandler) LoadAgents(c *fiber.Ctx) error {
	id := c.Params("matchId")
	if !isValidUUID(id) {
		return invalidMatchID(c)
	}
	req, ok := validatedBody[core.LoadAgentsRequest](c)
	if !ok {
		return validationBypassed(c)
	}

	resp, err := h.svc.LoadAgents(c.Context(), id, req.White, req.Black)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(resp)
}

func (h *HTTPHandler) UpdateSettings(c *fiber.Ctx) error {
	id := c.Params("matchId")
	if !isValidUUID(id) {
		return invalidMatchID(c)
	}
	req, ok := validatedBody[core.SettingsRequest](c)
	if !ok {
		return validationBypassed(c)
	}

	resp, err := h.svc.UpdateSettings(id, *req)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(resp)
}
