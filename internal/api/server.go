// Package api exposes the service over HTTP: table lifecycle, player
// actions, money movement and a server-sent-events stream of masked table
// views. The caller's identity arrives in the X-User-ID header; upstream
// auth is expected to have populated it.
package api

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/broadcast"
	"github.com/aaurelions/pokertools-sub001/internal/engine"
	"github.com/aaurelions/pokertools-sub001/internal/funds"
	"github.com/aaurelions/pokertools-sub001/internal/room"
)

const userHeader = "X-User-ID"

// Rooms is the orchestrator surface the server calls. Satisfied by
// *room.Service.
type Rooms interface {
	CreateTable(ctx context.Context, cfg engine.Config) (string, error)
	GetState(ctx context.Context, tableID, viewerID string) (*engine.View, error)
	ProcessAction(ctx context.Context, tableID string, act engine.Action, actorID string) (*engine.View, error)
	ReleaseSeat(ctx context.Context, tableID, playerID string) (int64, *engine.View, error)
}

// Funds is the money-movement surface. Satisfied by *funds.Manager.
type Funds interface {
	BuyIn(ctx context.Context, userID, tableID string, amount int64) error
	CashOut(ctx context.Context, userID, tableID string, amount int64) error
	Balances(ctx context.Context, userID string) (main, inPlay int64, err error)
}

// KV is the slice of Redis the server uses for idempotency keys and health.
// Satisfied by redis.UniversalClient.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

type Server struct {
	app   *fiber.App
	rooms Rooms
	funds Funds
	mux   *broadcast.Mux
	rdb   KV
	log   *zap.Logger
}

func NewServer(rooms Rooms, fundsMgr Funds, mux *broadcast.Mux, rdb KV, log *zap.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
		}),
		rooms: rooms,
		funds: fundsMgr,
		mux:   mux,
		rdb:   rdb,
		log:   log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.health)

	v1 := s.app.Group("/v1")
	v1.Post("/tables", s.createTable)
	v1.Get("/tables/:id", s.getTable)
	v1.Get("/tables/:id/stream", s.streamTable)
	v1.Post("/tables/:id/actions", s.postAction)
	v1.Post("/tables/:id/buy-in", s.buyIn)
	v1.Post("/tables/:id/cash-out", s.cashOut)
	v1.Get("/balances", s.balances)
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.rdb.Ping(c.Context()).Err(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func userID(c *fiber.Ctx) string { return c.Get(userHeader) }

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fail maps domain errors onto HTTP statuses and a stable error code.
func fail(c *fiber.Ctx, err error) error {
	var invalid *engine.InvalidActionError
	switch {
	case errors.As(err, &invalid):
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorBody{Code: invalid.Code, Message: invalid.Reason})
	case errors.Is(err, room.ErrTableNotFound):
		return c.Status(fiber.StatusNotFound).
			JSON(errorBody{Code: "TABLE_NOT_FOUND", Message: err.Error()})
	case errors.Is(err, room.ErrIdentityMismatch):
		return c.Status(fiber.StatusForbidden).
			JSON(errorBody{Code: "IDENTITY_MISMATCH", Message: err.Error()})
	case errors.Is(err, room.ErrLockContended),
		errors.Is(err, room.ErrConcurrentModification),
		errors.Is(err, room.ErrLockExpired):
		return c.Status(fiber.StatusConflict).
			JSON(errorBody{Code: "TABLE_BUSY", Message: "table busy, retry"})
	case errors.Is(err, funds.ErrInsufficientFunds):
		return c.Status(fiber.StatusPaymentRequired).
			JSON(errorBody{Code: "INSUFFICIENT_FUNDS", Message: err.Error()})
	case errors.Is(err, funds.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).
			JSON(errorBody{Code: "INVALID_AMOUNT", Message: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).
			JSON(errorBody{Code: "INTERNAL", Message: "internal error"})
	}
}

func (s *Server) createTable(c *fiber.Ctx) error {
	var cfg engine.Config
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errorBody{Code: "BAD_REQUEST", Message: "invalid table config"})
	}
	tableID, err := s.rooms.CreateTable(c.Context(), cfg)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errorBody{Code: "BAD_CONFIG", Message: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"tableId": tableID})
}

func (s *Server) getTable(c *fiber.Ctx) error {
	view, err := s.rooms.GetState(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(view)
}

func (s *Server) postAction(c *fiber.Ctx) error {
	var act engine.Action
	if err := c.BodyParser(&act); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errorBody{Code: "BAD_REQUEST", Message: "invalid action"})
	}
	uid := userID(c)
	if uid == "" {
		return c.Status(fiber.StatusUnauthorized).
			JSON(errorBody{Code: "UNAUTHENTICATED", Message: "missing " + userHeader})
	}
	if act.PlayerID == "" {
		act.PlayerID = uid
	}
	view, err := s.rooms.ProcessAction(c.Context(), c.Params("id"), act, uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(view)
}

func (s *Server) balances(c *fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return c.Status(fiber.StatusUnauthorized).
			JSON(errorBody{Code: "UNAUTHENTICATED", Message: "missing " + userHeader})
	}
	main, inPlay, err := s.funds.Balances(c.Context(), uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"main": main, "inPlay": inPlay})
}

// streamTable pushes masked view frames over server-sent events.
func (s *Server) streamTable(c *fiber.Ctx) error {
	tableID := c.Params("id")
	uid := userID(c)

	// First frame synchronously so the client has state before any update.
	view, err := s.rooms.GetState(c.Context(), tableID, uid)
	if err != nil {
		return fail(c, err)
	}

	frames, unregister := s.mux.Register(tableID, uid)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unregister()
		if err := writeEvent(w, mustJSON(view)); err != nil {
			return
		}
		for frame := range frames {
			if err := writeEvent(w, frame); err != nil {
				return
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, data []byte) error {
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
