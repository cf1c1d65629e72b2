package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/models"
)

// fallbackPrompt is relayed when scoping produced a classification the
// router cannot act on. The session survives; the user just gets asked again.
const fallbackPrompt = "Sorry, I had trouble understanding that. Could you tell me a bit more about what you're looking for, like a location or a budget?"

// dispatchKey marks that the current turn really fanned this sub-task out.
// SeenTags resets on BeginTurn, so an arrival without a dispatch mark
// belongs to an earlier turn (or to nothing at all) and is dropped.
func dispatchKey(stage string, index int) string {
	return "dispatch/" + session.TagKey(stage, index)
}

// arrivalKey dedupes redelivered sub-responses within a turn.
func arrivalKey(stage string, index int) string {
	return "arrival/" + session.TagKey(stage, index)
}

const (
	routeRelay  = "relay"
	routeQa     = "qa"
	routeSearch = "search"
)

// handleChatIncoming begins a fresh turn and hands the raw message to the
// scoping worker. The scope round-trip is tagged with the turn ordinal so a
// classification that comes back after the turn closed cannot steer a later
// one.
func (c *Coordinator) handleChatIncoming(ctx context.Context, env streams.Envelope) error {
	var payload streams.ChatIncomingPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal chat.incoming: %w", err)
	}
	if payload.SessionID == "" || strings.TrimSpace(payload.Message) == "" {
		return fmt.Errorf("chat.incoming requires a session id and a message")
	}

	replyStream := payload.ReplyStream
	if replyStream == "" {
		replyStream = streams.ReplyStream(payload.SessionID)
	}

	st, err := c.sessions.Update(ctx, payload.SessionID, c.ttl, func(s *session.State) error {
		s.BeginTurn(replyStream)
		s.AppendHistory(models.RoleUser, payload.Message)
		s.MarkSeen(dispatchKey(streams.StageScoping, s.Turn))
		s.ArmDeadline(c.deadline)
		return nil
	})
	if err != nil {
		return fmt.Errorf("begin turn: %w", err)
	}

	c.archiveTurn(ctx, st.ID, st.Turn, models.RoleUser, payload.Message)

	// The history snapshot excludes the message itself; scoping receives
	// that separately.
	history := st.History
	if n := len(history); n > 0 {
		history = history[:n-1]
	}

	tag := streams.Tag{SessionID: st.ID, Index: st.Turn}
	if _, err := c.publisher.PublishTagged(ctx, streams.StreamScopeRequest, streams.StreamScopeRequest, streams.PayloadV1, tag, streams.ScopeRequestPayload{
		SessionID: st.ID,
		Message:   payload.Message,
		History:   history,
	}, streams.WithMaxLenApprox(c.maxLen)); err != nil {
		return fmt.Errorf("publish scope.request: %w", err)
	}

	c.armDeadline(st.ID, st.Turn)
	c.logger.Printf("session %s turn %d: scoping dispatched", st.ID, st.Turn)
	return nil
}

// handleScopeResult is the intent router: a general question goes to the qa
// worker, a complete requirement set starts the search pipeline (plus a
// community analysis when scoping named a location), and anything else
// relays the scoping message back to the user and closes the turn.
func (c *Coordinator) handleScopeResult(ctx context.Context, env streams.Envelope) error {
	var payload streams.ScopeResultPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal scope.result: %w", err)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("scope.result missing session id")
	}

	result := payload.ScopingResult
	question := strings.TrimSpace(result.GeneralQuestion)
	location := ""
	if result.Requirements != nil {
		location = strings.TrimSpace(result.Requirements.Location)
	}
	community := strings.TrimSpace(result.CommunityName)
	relayText := strings.TrimSpace(result.AgentMessage)

	target := routeRelay
	switch {
	case result.IsGeneralQuestion && question != "":
		target = routeQa
	case result.IsComplete && location != "":
		target = routeSearch
	default:
		if relayText == "" {
			relayText = fallbackPrompt
		}
	}

	tag, hasTag := env.Tag()

	var (
		stale  bool
		closed bool
		fired  bool
		corpus []models.Listing
	)
	st, err := c.sessions.Update(ctx, payload.SessionID, c.ttl, func(s *session.State) error {
		if !hasTag || !s.SeenTags[dispatchKey(streams.StageScoping, tag.Index)] {
			stale = true
			return nil
		}
		if !s.MarkSeen(arrivalKey(streams.StageScoping, tag.Index)) {
			stale = true
			return nil
		}
		if result.Requirements != nil {
			s.Requirements = result.Requirements
		}
		if relayText != "" {
			s.AppendHistory(models.RoleAssistant, relayText)
		}
		if s.Finalized {
			// The deadline already replied for this turn; keep the merged
			// requirements but start no stages.
			closed = true
			return nil
		}
		switch target {
		case routeQa:
			s.ExpectedQa = 1
			s.MarkSeen(dispatchKey(streams.StageQa, 0))
			s.ArmDeadline(c.deadline)
			if s.Search != nil {
				corpus = s.Search.Listings
			}
		case routeSearch:
			s.Search = nil
			s.ExpectedSearch = 1
			s.MarkSeen(dispatchKey(streams.StageSearch, 0))
			s.ArmDeadline(c.deadline)
			if community != "" {
				s.ExpectedCommunity = 1
				s.MarkSeen(dispatchKey(streams.StageCommunity, 0))
			}
		case routeRelay:
			s.Finalized = true
			fired = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("route scope result: %w", err)
	}
	if stale {
		c.logger.Printf("session %s: dropping scope result that matches no open turn", payload.SessionID)
		return nil
	}
	if closed {
		c.logger.Printf("session %s turn %d: scope result after deadline, merged only", st.ID, st.Turn)
		return nil
	}

	switch target {
	case routeQa:
		if _, err := c.publisher.PublishRaw(ctx, streams.StreamQaRequest, streams.StreamQaRequest, streams.PayloadV1, streams.QaRequestPayload{
			SessionID: st.ID,
			Question:  question,
			Listings:  corpus,
		}, streams.WithMaxLenApprox(c.maxLen)); err != nil {
			return fmt.Errorf("publish qa.request: %w", err)
		}
		c.armDeadline(st.ID, st.Turn)
		c.logger.Printf("session %s turn %d: routed to qa", st.ID, st.Turn)

	case routeSearch:
		if _, err := c.publisher.PublishRaw(ctx, streams.StreamSearchRequest, streams.StreamSearchRequest, streams.PayloadV1, streams.SearchRequestPayload{
			SessionID:    st.ID,
			Requirements: *result.Requirements,
		}, streams.WithMaxLenApprox(c.maxLen)); err != nil {
			return fmt.Errorf("publish search.request: %w", err)
		}
		if community != "" {
			if _, err := c.publisher.PublishRaw(ctx, streams.StreamCommunityRequest, streams.StreamCommunityRequest, streams.PayloadV1, streams.CommunityRequestPayload{
				SessionID:    st.ID,
				LocationName: community,
			}, streams.WithMaxLenApprox(c.maxLen)); err != nil {
				return fmt.Errorf("publish community.request: %w", err)
			}
		}
		c.armDeadline(st.ID, st.Turn)
		c.logger.Printf("session %s turn %d: search dispatched (community=%t)", st.ID, st.Turn, community != "")

	case routeRelay:
		if fired {
			c.deliverReply(ctx, st, relayText, false, nil)
			c.logger.Printf("session %s turn %d: relayed scoping message", st.ID, st.Turn)
		}
	}
	return nil
}
