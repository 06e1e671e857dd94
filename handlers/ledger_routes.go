// handlers/ledger_routes.go
package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"game-reward-ledger/ledger"
	"game-reward-ledger/middleware"
	"game-reward-ledger/models"
	"game-reward-ledger/services"
)

// LedgerHandler exposes the reward ledger over HTTP.
type LedgerHandler struct {
	Submissions *services.SubmissionGateway
	Verifier    *services.VerificationAuthority
	Claims      *services.ClaimProcessor
	Queries     *services.QueryService
	Config      *services.RewardConfigService
	Events      *services.EventBus
}

func SetupLedgerRoutes(app *fiber.App, h *LedgerHandler) {
	// 🔓 Read-only views, gateway auth only
	app.Get("/sessions/:id", h.GetSession)
	app.Get("/players/:player/sessions", h.GetSubmittedSessions)
	app.Get("/players/:player/claimable", h.GetClaimableSessions)
	app.Get("/players/:player/stats", h.GetSessionStats)
	app.Get("/events/stream", h.StreamEvents)

	// 🔐 Player actions: caller identity required
	user := middleware.UserContextMiddleware()
	app.Post("/sessions", user, h.SubmitSession)
	app.Post("/sessions/:id/claim", user, h.ClaimReward)
	app.Post("/sessions/:id/claim/retry", user, h.RetryMint)

	// 🔒 Admin: capability checked by AccessControl inside the services
	admin := app.Group("/admin", user)
	admin.Post("/sessions/verify-batch", h.VerifyBatch)
	admin.Post("/sessions/:id/verify", h.VerifySession)
	admin.Get("/sessions/pending", h.GetPendingQueue)
	admin.Get("/reward-config", h.GetRewardConfig)
	admin.Put("/reward-config", h.UpdateRewardConfig)
}

func sessionIDParam(c *fiber.Ctx, op string) (models.SessionID, error) {
	id, err := models.ParseSessionID(c.Params("id"))
	if err != nil {
		return "", ledger.NewError(op, "", ledger.ErrInvalidSessionID, err)
	}
	return id, nil
}

type submitSessionRequest struct {
	SessionID      string `json:"session_id"`
	FinalRank      uint64 `json:"final_rank"`
	MaxMass        uint64 `json:"max_mass"`
	SurvivalTime   uint64 `json:"survival_time"`
	KillCount      uint64 `json:"kill_count"`
	SessionEndTime *int64 `json:"session_end_time"` // unix seconds
}

// SubmitSession records a finished match for the calling player.
// POST /sessions
func (h *LedgerHandler) SubmitSession(c *fiber.Ctx) error {
	var req submitSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "cause": err.Error()})
	}
	id, err := models.ParseSessionID(req.SessionID)
	if err != nil {
		return respondError(c, ledger.NewError("submit", "", ledger.ErrInvalidSessionID, err))
	}
	if req.SessionEndTime == nil {
		return respondError(c, ledger.NewError("submit", id, ledger.ErrMissingField, errors.New("session_end_time")))
	}

	sessionID, err := h.Submissions.Submit(c.UserContext(), services.SubmitRequest{
		Player:         middleware.UserID(c),
		FinalRank:      req.FinalRank,
		MaxMass:        req.MaxMass,
		SurvivalTime:   req.SurvivalTime,
		KillCount:      req.KillCount,
		SessionEndTime: time.Unix(*req.SessionEndTime, 0),
		SessionID:      id,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session_id": sessionID})
}

// GET /sessions/:id
func (h *LedgerHandler) GetSession(c *fiber.Ctx) error {
	id, err := sessionIDParam(c, "get session")
	if err != nil {
		return respondError(c, err)
	}
	rec, err := h.Queries.GetSession(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// ClaimReward pays out an approved session to its player.
// POST /sessions/:id/claim
func (h *LedgerHandler) ClaimReward(c *fiber.Ctx) error {
	id, err := sessionIDParam(c, "claim")
	if err != nil {
		return respondError(c, err)
	}
	receipt, err := h.Claims.Claim(c.UserContext(), middleware.UserID(c), id)
	return respondClaim(c, receipt, err)
}

// RetryMint re-drives a claimed session whose mint failed.
// POST /sessions/:id/claim/retry
func (h *LedgerHandler) RetryMint(c *fiber.Ctx) error {
	id, err := sessionIDParam(c, "retry mint")
	if err != nil {
		return respondError(c, err)
	}
	receipt, err := h.Claims.RetryMint(c.UserContext(), middleware.UserID(c), id)
	return respondClaim(c, receipt, err)
}

func respondClaim(c *fiber.Ctx, receipt *services.ClaimReceipt, err error) error {
	if err != nil {
		if ledger.IsRetriable(err) && receipt != nil {
			body := errorBody(err)
			body["receipt"] = receipt
			return c.Status(fiber.StatusBadGateway).JSON(body)
		}
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Reward claimed successfully", "receipt": receipt})
}

// GET /players/:player/sessions
func (h *LedgerHandler) GetSubmittedSessions(c *fiber.Ctx) error {
	ids, err := h.Queries.GetSubmittedSessions(c.UserContext(), c.Params("player"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"session_ids": ids})
}

// GET /players/:player/claimable
func (h *LedgerHandler) GetClaimableSessions(c *fiber.Ctx) error {
	ids, err := h.Queries.GetClaimableSessions(c.UserContext(), c.Params("player"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"session_ids": ids})
}

// GET /players/:player/stats
func (h *LedgerHandler) GetSessionStats(c *fiber.Ctx) error {
	stats, err := h.Queries.GetSessionStats(c.UserContext(), c.Params("player"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// --- Admin Handlers ---

// POST /admin/sessions/:id/verify
func (h *LedgerHandler) VerifySession(c *fiber.Ctx) error {
	if err := h.Verifier.Authorize(c.UserContext(), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	id, err := sessionIDParam(c, "verify")
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Approve *bool `json:"approve"`
	}
	if err := c.BodyParser(&req); err != nil || req.Approve == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "approve (bool) is required"})
	}

	rec, err := h.Verifier.Verify(c.UserContext(), middleware.UserID(c), id, *req.Approve)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// POST /admin/sessions/verify-batch
func (h *LedgerHandler) VerifyBatch(c *fiber.Ctx) error {
	if err := h.Verifier.Authorize(c.UserContext(), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	var req struct {
		Decisions []struct {
			SessionID string `json:"session_id"`
			Approve   *bool  `json:"approve"`
		} `json:"decisions"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "cause": err.Error()})
	}

	decisions := make([]services.Decision, len(req.Decisions))
	for i, d := range req.Decisions {
		id, err := models.ParseSessionID(d.SessionID)
		if err != nil {
			return respondError(c, ledger.NewError("verify batch", "", ledger.ErrInvalidSessionID, err).AtIndex(i))
		}
		if d.Approve == nil {
			return respondError(c, ledger.NewError("verify batch", id, ledger.ErrMissingField, errors.New("approve")).AtIndex(i))
		}
		decisions[i] = services.Decision{SessionID: id, Approve: *d.Approve}
	}

	recs, err := h.Verifier.VerifyBatch(c.UserContext(), middleware.UserID(c), decisions)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"sessions": recs})
}

// GET /admin/sessions/pending?offset=0&limit=50
func (h *LedgerHandler) GetPendingQueue(c *fiber.Ctx) error {
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid offset parameter"})
	}
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(ledger.DefaultPageSize)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid limit parameter"})
	}
	page, err := h.Queries.GetPendingQueue(c.UserContext(), offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

// GET /admin/reward-config
func (h *LedgerHandler) GetRewardConfig(c *fiber.Ctx) error {
	cfg, err := h.Config.Get(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(cfg)
}

// PUT /admin/reward-config
func (h *LedgerHandler) UpdateRewardConfig(c *fiber.Ctx) error {
	var req models.RewardConfig
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "cause": err.Error()})
	}
	cfg, err := h.Config.Update(c.UserContext(), middleware.UserID(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(cfg)
}
