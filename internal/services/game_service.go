package services

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/racetan/plinko/internal/game"
	"github.com/racetan/plinko/internal/middleware"
)

type GameService struct {
	engine *game.Engine
}

func NewGameService(engine *game.Engine) *GameService {
	return &GameService{engine: engine}
}

// SessionResponse represents the session state response payload
type SessionResponse struct {
	OK bool `json:"ok"`
	game.SessionState
}

// DropResponse represents the wager response payload
type DropResponse struct {
	OK bool `json:"ok"`
	game.WagerResult
}

// DropRequest represents the wager request payload. Stake is clamped into
// the allowed range, never rejected. SessionToken is accepted here because
// clients may carry the token in the body instead of a header; the auth
// middleware has already consumed it by the time the handler decodes.
type DropRequest struct {
	SessionToken string  `json:"session_token,omitempty"`
	Stake        float64 `json:"stake"`
}

// InitSession creates or returns the caller's game session
// @Summary Initialize game session
// @Description Create the caller's game session with the starting balance, or return the existing one unchanged
// @Tags game
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/init-session [post]
func (gs *GameService) InitSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	state, err := gs.engine.Initialize(r.Context(), userID)
	if err != nil {
		gs.sendEngineError(w, userID, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, SessionResponse{OK: true, SessionState: *state})
}

// Drop plays one wager round
// @Summary Drop a ball
// @Description Charge the clamped stake, draw one multiplier and credit the win, all in one transaction
// @Tags game
// @Accept json
// @Produce json
// @Param request body DropRequest true "Requested stake"
// @Success 200 {object} DropResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/drop [post]
func (gs *GameService) Drop(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req DropRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	result, err := gs.engine.Wager(r.Context(), userID, req.Stake)
	if err != nil {
		gs.sendEngineError(w, userID, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, DropResponse{OK: true, WagerResult: *result})
}

// Cashout locks in the caller's balance and finishes the session
// @Summary Cash out
// @Description Freeze the session balance; repeated calls return the frozen state
// @Tags game
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/cashout [post]
func (gs *GameService) Cashout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	state, err := gs.engine.CashOut(r.Context(), userID)
	if err != nil {
		gs.sendEngineError(w, userID, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, SessionResponse{OK: true, SessionState: *state})
}

// ListRounds returns the caller's recent wager rounds
// @Summary List rounds
// @Description Return the caller's recent rounds, newest first (default 10, max 100)
// @Tags game
// @Produce json
// @Param limit query int false "Number of rounds to return"
// @Success 200 {object} map[string]any
// @Failure 401 {object} ErrorResponse
// @Router /api/rounds [get]
func (gs *GameService) ListRounds(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	rounds, err := gs.engine.Rounds(r.Context(), userID, limit)
	if err != nil {
		gs.sendEngineError(w, userID, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"rounds": rounds,
		"count":  len(rounds),
	})
}

// sendEngineError maps engine failures onto the HTTP error contract:
// missing/terminal/insufficient are caller errors, anything else is a
// storage failure that committed nothing and is safe to retry.
func (gs *GameService) sendEngineError(w http.ResponseWriter, userID int64, err error) {
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		SendErrorResponse(w, "no game session for this user", http.StatusBadRequest, nil)
	case errors.Is(err, game.ErrSessionTerminal):
		SendErrorResponse(w, "session is finished or cashed out", http.StatusBadRequest, nil)
	case errors.Is(err, game.ErrInsufficientBalance):
		SendErrorResponse(w, "insufficient balance", http.StatusBadRequest, nil)
	default:
		log.Printf("[GAME] Storage failure for user %d: %v", userID, err)
		SendErrorResponse(w, "failed to process request", http.StatusInternalServerError, nil)
	}
}
