package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/internal/store"
)

// SessionsHandler exposes read-only session inspection. Archive may be nil;
// the archive-backed endpoints then answer 501.
type SessionsHandler struct {
	Sessions session.Store
	Archive  *store.Store
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.GET("/:id", h.get)
	g.GET("/:id/turns", h.turns)
	g.GET("/:id/responses/:turn", h.response)
}

// get returns the live aggregation snapshot for one session.
func (h *SessionsHandler) get(c echo.Context) error {
	snap, ok, err := h.Sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, sessionResponse(snap))
}

// turns lists the archived chat history for a session.
func (h *SessionsHandler) turns(c echo.Context) error {
	if h.Archive == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "turn archive requires a postgres store")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	recs, err := h.Archive.ListTurns(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]TurnResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, TurnResponse{
			Turn:      rec.Turn,
			Role:      rec.Role,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// response returns one archived finalized reply with its assembled payload.
func (h *SessionsHandler) response(c echo.Context) error {
	if h.Archive == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "response archive requires a postgres store")
	}
	turn, err := strconv.Atoi(c.Param("turn"))
	if err != nil || turn <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "turn must be a positive integer")
	}
	rec, ok, err := h.Archive.GetResponse(c.Request().Context(), c.Param("id"), turn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no archived response for that turn")
	}
	return c.JSON(http.StatusOK, ResponseArchive{
		SessionID:   rec.SessionID,
		Turn:        rec.Turn,
		Partial:     rec.Partial,
		ListingURLs: rec.ListingURLs,
		Payload:     rec.Payload,
		CreatedAt:   rec.CreatedAt,
	})
}

func sessionResponse(s *session.State) SessionResponse {
	resp := SessionResponse{
		ID:        s.ID,
		Turn:      s.Turn,
		Stage:     stageOf(s),
		Finalized: s.Finalized,
		History:   len(s.History),
		Counters: StageCounters{
			ExpectedSearch:    s.ExpectedSearch,
			ArrivedSearch:     s.ArrivedSearch,
			ExpectedGeocode:   s.ExpectedGeocode,
			ArrivedGeocode:    s.ArrivedGeocode,
			ExpectedPoi:       s.ExpectedPoi,
			ArrivedPoi:        s.ArrivedPoi,
			ExpectedCommunity: s.ExpectedCommunity,
			ArrivedCommunity:  s.ArrivedCommunity,
			ExpectedQa:        s.ExpectedQa,
			ArrivedQa:         s.ArrivedQa,
		},
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		ExpiresAt: s.ExpiresAt,
	}
	if !s.Finalized && !s.Deadline.IsZero() {
		d := s.Deadline
		resp.Deadline = &d
	}
	return resp
}

// stageOf derives the coarse turn state from the aggregation counters.
func stageOf(s *session.State) string {
	switch {
	case s.Turn == 0:
		return "new"
	case s.Finalized:
		return "assembled"
	case !s.StagesStarted():
		return "scoping"
	case s.ArrivedQa < s.ExpectedQa:
		return "answering"
	case s.ArrivedSearch < s.ExpectedSearch:
		return "searching"
	case s.ArrivedGeocode < s.ExpectedGeocode:
		return "geocoding"
	case s.ArrivedPoi < s.ExpectedPoi:
		return "discovering"
	case s.ArrivedCommunity < s.ExpectedCommunity:
		return "community"
	default:
		return "assembling"
	}
}
