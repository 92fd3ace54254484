// Package server exposes the video jobs over HTTP
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/dudu/deepswap/internal/log"
)

// Jobs runs the video stages. *jobs.Remote satisfies it.
type Jobs interface {
	DetectVideo(ctx context.Context, videoPath string) error
	SwapVideo(ctx context.Context, userDir, videoDir string) error
}

// DetectVideoRequest is the body of POST /detect-video
type DetectVideoRequest struct {
	VideoPath string `json:"video_path"`
}

// SwapVideoRequest is the body of POST /swap-video
type SwapVideoRequest struct {
	UserDir  string `json:"user_dir"`
	VideoDir string `json:"video_dir"`
}

// Response reports whether the job completed
type Response struct {
	Success bool `json:"success"`
}

var errMissingField = errors.New("missing required field")

// Server is the HTTP entry point for video jobs
type Server struct {
	app  *fiber.App
	jobs Jobs
}

// New creates a server that runs requests through jobs
func New(jobs Jobs) *Server {
	s := &Server{jobs: jobs}

	app := fiber.New(fiber.Config{
		AppName:               "deepswap",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))

	app.Post("/detect-video", s.handleDetectVideo)
	app.Post("/swap-video", s.handleSwapVideo)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app = app
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	log.Info("server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for running jobs
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

func (s *Server) handleDetectVideo(c *fiber.Ctx) error {
	var req DetectVideoRequest
	err := c.BodyParser(&req)
	if err == nil && req.VideoPath == "" {
		err = errMissingField
	}
	if err == nil {
		err = s.jobs.DetectVideo(c.UserContext(), req.VideoPath)
	}
	return s.respond(c, "detect-video", err, "video_path", req.VideoPath)
}

func (s *Server) handleSwapVideo(c *fiber.Ctx) error {
	var req SwapVideoRequest
	err := c.BodyParser(&req)
	if err == nil && (req.UserDir == "" || req.VideoDir == "") {
		err = errMissingField
	}
	if err == nil {
		err = s.jobs.SwapVideo(c.UserContext(), req.UserDir, req.VideoDir)
	}
	return s.respond(c, "swap-video", err, "user_dir", req.UserDir, "video_dir", req.VideoDir)
}

// respond always answers 200; failures are reported through success and
// the server log.
func (s *Server) respond(c *fiber.Ctx, job string, err error, args ...any) error {
	logger := log.With(append([]any{"request_id", c.GetRespHeader(fiber.HeaderXRequestID), "job", job}, args...)...)
	if err != nil {
		logger.Error("job failed", "error", err)
		return c.JSON(Response{Success: false})
	}
	logger.Info("job completed")
	return c.JSON(Response{Success: true})
}
