package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/engine"
)

const (
	idempotencyHeader = "Idempotency-Key"

	// Cached results outlive client retry storms; the processing guard only
	// needs to cover one in-flight request.
	idempotencyResultTTL     = 10 * time.Minute
	idempotencyProcessingTTL = 30 * time.Second
)

func idemResultKey(key string) string     { return "idempotency:result:" + key }
func idemProcessingKey(key string) string { return "idempotency:processing:" + key }

type buyInRequest struct {
	Amount int64 `json:"amount"`
	Seat   *int  `json:"seat,omitempty"`
}

type cashOutRequest struct {
	Amount int64 `json:"amount"`
}

// buyIn moves funds MAIN -> IN_PLAY and sits (or tops up) the player. The
// Idempotency-Key header makes retries safe: a replay returns the cached
// response, a concurrent duplicate gets 409.
func (s *Server) buyIn(c *fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return c.Status(fiber.StatusUnauthorized).
			JSON(errorBody{Code: "UNAUTHENTICATED", Message: "missing " + userHeader})
	}
	var req buyInRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errorBody{Code: "BAD_REQUEST", Message: "invalid buy-in body"})
	}

	idemKey := c.Get(idempotencyHeader)
	if idemKey != "" {
		if done, err := s.replayIdempotent(c, idemKey); done || err != nil {
			return err
		}
		defer s.rdb.Del(c.Context(), idemProcessingKey(idemKey))
	}

	tableID := c.Params("id")
	if err := s.funds.BuyIn(c.Context(), uid, tableID, req.Amount); err != nil {
		return fail(c, err)
	}

	act := engine.Action{Type: engine.ActionSit, PlayerID: uid, Seat: req.Seat, Stack: req.Amount}
	if req.Seat == nil {
		// Already seated players top up instead of taking a seat.
		act = engine.Action{Type: engine.ActionAddChips, PlayerID: uid, Amount: req.Amount}
	}
	view, err := s.rooms.ProcessAction(c.Context(), tableID, act, uid)
	if err != nil {
		// Chips moved but the seat failed; give the money back.
		if rbErr := s.funds.CashOut(c.Context(), uid, tableID, req.Amount); rbErr != nil {
			s.log.Error("buy-in rollback failed",
				zap.String("userId", uid),
				zap.String("tableId", tableID),
				zap.Int64("amount", req.Amount),
				zap.Error(rbErr))
		}
		return fail(c, err)
	}

	body := mustJSON(view)
	if idemKey != "" {
		if err := s.rdb.Set(c.Context(), idemResultKey(idemKey), body, idempotencyResultTTL).Err(); err != nil {
			s.log.Warn("idempotency result cache failed",
				zap.String("key", idemKey), zap.Error(err))
		}
	}
	c.Set("Content-Type", fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// replayIdempotent returns (true, resp) when the request was already served
// or is currently in flight; (false, nil) when the caller should proceed
// holding the processing guard.
func (s *Server) replayIdempotent(c *fiber.Ctx, key string) (bool, error) {
	cached, err := s.rdb.Get(c.Context(), idemResultKey(key)).Bytes()
	if err == nil {
		c.Set("Content-Type", fiber.MIMEApplicationJSON)
		return true, c.Send(cached)
	}
	if !errors.Is(err, redis.Nil) {
		return true, fail(c, err)
	}
	ok, err := s.rdb.SetNX(c.Context(), idemProcessingKey(key), "1", idempotencyProcessingTTL).Result()
	if err != nil {
		return true, fail(c, err)
	}
	if !ok {
		return true, c.Status(fiber.StatusConflict).
			JSON(errorBody{Code: "IN_PROGRESS", Message: "request with this idempotency key is in flight"})
	}
	return false, nil
}

// cashOut stands the player up and moves their stack IN_PLAY -> MAIN. The
// stand and the stack read commit together under the table lock, so a hand
// settling concurrently cannot strand its awards behind a stale read.
func (s *Server) cashOut(c *fiber.Ctx) error {
	uid := userID(c)
	if uid == "" {
		return c.Status(fiber.StatusUnauthorized).
			JSON(errorBody{Code: "UNAUTHENTICATED", Message: "missing " + userHeader})
	}
	tableID := c.Params("id")

	stack, _, err := s.rooms.ReleaseSeat(c.Context(), tableID, uid)
	if err != nil {
		return fail(c, err)
	}
	if stack > 0 {
		if err := s.funds.CashOut(c.Context(), uid, tableID, stack); err != nil {
			return fail(c, err)
		}
	}
	return c.JSON(fiber.Map{"cashedOut": stack})
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
