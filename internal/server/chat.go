package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
)

const (
	defaultReplyWait = 25 * time.Second
	maxReplyWait     = 60 * time.Second
)

// EventPublisher is the write side of the bus; *streams.Publisher satisfies it.
type EventPublisher interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// ChatHandler accepts user turns and serves the long-polled turn replies.
type ChatHandler struct {
	Sessions  session.Store
	Pub       EventPublisher
	Rdb       *redis.Client
	TTL       time.Duration
	ReplyWait time.Duration
	MaxLen    int64
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("", h.send)
	g.GET("/:session/reply", h.reply)
}

// send enqueues one user turn onto chat.incoming and acknowledges it. The
// reply is delivered asynchronously through the session's reply stream.
func (h *ChatHandler) send(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	ctx := c.Request().Context()
	snap, err := h.Sessions.Ensure(ctx, strings.TrimSpace(req.SessionID), h.TTL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	payload := streams.ChatIncomingPayload{
		SessionID:   snap.ID,
		Message:     msg,
		ReplyStream: streams.ReplyStream(snap.ID),
	}
	if _, err := h.Pub.PublishRaw(ctx, streams.StreamChatIncoming, streams.StreamChatIncoming, streams.PayloadV1, payload, streams.WithMaxLenApprox(h.MaxLen)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, ChatAccepted{SessionID: snap.ID, Turn: snap.Turn + 1})
}

// reply long-polls the session's reply stream with XREAD BLOCK and returns
// the first entry after the ?after= cursor, or 204 when the wait runs out.
func (h *ChatHandler) reply(c echo.Context) error {
	id := c.Param("session")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session required")
	}

	wait := h.ReplyWait
	if wait <= 0 {
		wait = defaultReplyWait
	}
	if raw := c.QueryParam("waitMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "waitMs must be a non-negative integer")
		}
		wait = time.Duration(ms) * time.Millisecond
	}
	if wait > maxReplyWait {
		wait = maxReplyWait
	}
	if wait == 0 {
		// go-redis only omits BLOCK for negative values; 0 would block forever.
		wait = -1
	}

	after := c.QueryParam("after")
	if after == "" {
		after = "0"
	}

	stream := streams.ReplyStream(id)
	res, err := h.Rdb.XRead(c.Request().Context(), &redis.XReadArgs{
		Streams: []string{stream, after},
		Count:   1,
		Block:   wait,
	}).Result()
	if err == redis.Nil {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return c.NoContent(http.StatusNoContent)
	}

	entry := res[0].Messages[0]
	raw, _ := entry.Values["envelope"].(string)
	env, err := streams.UnmarshalEnvelope([]byte(raw))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("malformed reply entry %s: %v", entry.ID, err))
	}
	var payload streams.ChatReplyPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("malformed reply payload %s: %v", entry.ID, err))
	}

	return c.JSON(http.StatusOK, ReplyResponse{
		ID:        entry.ID,
		SessionID: payload.SessionID,
		Turn:      payload.Turn,
		Message:   payload.Message,
		Partial:   payload.Partial,
	})
}
