package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// StoreStatus holds row counts from the results store.
type StoreStatus struct {
	Sessions     int    `json:"sessions"`
	Rounds       int    `json:"rounds"`
	LastFinished string `json:"last_finished,omitempty"`
}

// StoreStatusHandler returns row counts from the results tables.
func StoreStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.DB == nil {
			return errInternal(c, "database not available")
		}

		var status StoreStatus
		row := deps.DB.Pool.QueryRow(c.Context(), `
			SELECT
				(SELECT count(*) FROM sessions),
				(SELECT count(*) FROM rounds),
				COALESCE((SELECT max(finished_at)::text FROM sessions), '')
		`)
		if err := row.Scan(&status.Sessions, &status.Rounds, &status.LastFinished); err != nil {
			LoggerFromCtx(c.UserContext()).Error("store status query failed", "error", err)
			return errInternal(c, "store query failed")
		}

		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(status)
	}
}

// ListSessionsHandler returns played sessions, newest first.
// GET /v1/sessions?backend=openai&offset=0&limit=20
func ListSessionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		backend := c.Query("backend")
		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 20)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		sessions, total, err := deps.Records.ListSessions(c.Context(), backend, limit, offset)
		if err != nil {
			LoggerFromCtx(c.UserContext()).Error("session listing failed", "error", err)
			return errInternal(c, "listing sessions failed")
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: sessions, Pagination: pg})
	}
}

// GetSessionHandler returns a single session with its guesses.
func GetSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "session id is required")
		}
		rec, err := deps.Records.GetSession(c.Context(), id)
		if err != nil {
			return errNotFound(c, "session not found")
		}
		return c.JSON(rec)
	}
}

// SessionRoundsHandler returns the final guesses of a session in play order.
func SessionRoundsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "session id is required")
		}
		guesses, err := deps.Records.SessionRounds(c.Context(), id)
		if err != nil {
			LoggerFromCtx(c.UserContext()).Error("round listing failed", "session_id", id, "error", err)
			return errInternal(c, "loading rounds failed")
		}
		if guesses == nil {
			guesses = []domain.FinalGuess{}
		}
		return c.JSON(guesses)
	}
}

// BackendStatsHandler compares aggregate scoring across inference backends.
func BackendStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := deps.Records.BackendStats(c.Context())
		if err != nil {
			LoggerFromCtx(c.UserContext()).Error("backend stats failed", "error", err)
			return errInternal(c, "aggregating stats failed")
		}

		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(fiber.Map{
			"backends": stats,
			"count":    len(stats),
		})
	}
}
