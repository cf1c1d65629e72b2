package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/internal/store"
	"github.com/homescout/homescout/internal/telemetry"
	"github.com/homescout/homescout/models"
)

// finalizeTurn runs the response assembler for a finalized turn: merge the
// per-index arrivals into one response, render it, deliver exactly one
// reply. The caller must have won the finalize flag inside a session update.
func (c *Coordinator) finalizeTurn(ctx context.Context, st *session.State, partial bool) {
	resp := c.assemble(st, partial)
	resp.Message = c.renderMessage(st, resp)
	c.deliverReply(ctx, st, resp.Message, partial, &resp)
}

// assemble merges the accumulated per-turn state into one response. Only the
// capped batch is walked, so an index outside it can never surface.
func (c *Coordinator) assemble(st *session.State, partial bool) models.FinalResponse {
	resp := models.FinalResponse{
		SessionID: st.ID,
		Turn:      st.Turn,
		Partial:   partial,
		Community: st.Community,
		Answer:    st.Answer,
	}
	if st.Search == nil {
		return resp
	}
	resp.SearchSummary = st.Search.SearchSummary
	resp.TotalFound = st.Search.TotalFound

	limit := len(st.Search.Listings)
	if c.fanoutCap > 0 && limit > c.fanoutCap {
		limit = c.fanoutCap
	}
	for i := 0; i < limit; i++ {
		merged := models.EnrichedListing{Index: i, Listing: st.Search.Listings[i], Pois: []models.PoiPoint{}}
		if rec, ok := st.Geocoded[i]; ok {
			g := rec
			merged.Geocode = &g
		}
		if img := st.Search.ImageFor(i); img != "" {
			merged.ImageURL = img
		}
		if set, ok := st.Pois[i]; ok && len(set.Points) > 0 {
			merged.Pois = set.Points
		}
		resp.Listings = append(resp.Listings, merged)
	}
	return resp
}

// deliverReply publishes the turn reply to the session's reply stream and
// archives it. Every finalize path funnels through here, so the deadline
// timer is also released here.
func (c *Coordinator) deliverReply(ctx context.Context, st *session.State, message string, partial bool, resp *models.FinalResponse) {
	c.cancelDeadline(st.ID)

	replyStream := st.ReplyStream
	if replyStream == "" {
		replyStream = streams.ReplyStream(st.ID)
	}
	if _, err := c.publisher.PublishRaw(ctx, replyStream, streams.EventTypeChatReply, streams.PayloadV1, streams.ChatReplyPayload{
		SessionID: st.ID,
		Turn:      st.Turn,
		Message:   message,
		Partial:   partial,
	}, streams.WithMaxLenApprox(c.maxLen)); err != nil {
		c.logger.Printf("error publishing reply for session %s turn %d: %v", st.ID, st.Turn, err)
	}

	c.archiveTurn(ctx, st.ID, st.Turn, models.RoleAssistant, message)
	if resp != nil {
		c.archiveResponse(ctx, *resp)
	}
	c.recordTurn(ctx, st, partial)
	c.logger.Printf("session %s turn %d: reply delivered (partial=%t)", st.ID, st.Turn, partial)
}

func (c *Coordinator) archiveTurn(ctx context.Context, sessionID string, turn int, role, content string) {
	if c.archive == nil {
		return
	}
	if err := c.archive.InsertTurn(ctx, store.TurnRecord{SessionID: sessionID, Turn: turn, Role: role, Content: content}); err != nil {
		c.logger.Printf("warn: failed to archive %s turn for session %s: %v", role, sessionID, err)
	}
}

func (c *Coordinator) archiveResponse(ctx context.Context, resp models.FinalResponse) {
	if c.archive == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		c.logger.Printf("warn: failed to marshal response for archive: %v", err)
		return
	}
	urls := make([]string, 0, len(resp.Listings))
	for _, l := range resp.Listings {
		if l.Listing.URL != "" {
			urls = append(urls, l.Listing.URL)
		}
	}
	if err := c.archive.InsertResponse(ctx, store.ResponseRecord{
		SessionID:   resp.SessionID,
		Turn:        resp.Turn,
		Partial:     resp.Partial,
		ListingURLs: urls,
		Payload:     raw,
	}); err != nil {
		c.logger.Printf("warn: failed to archive response for session %s: %v", resp.SessionID, err)
	}
}

func (c *Coordinator) recordTurn(ctx context.Context, st *session.State, partial bool) {
	if c.telemetry == nil {
		return
	}
	now := time.Now().UTC()
	stages := []string{streams.StageScoping}
	if st.ExpectedSearch > 0 {
		stages = append(stages, streams.StageSearch)
	}
	if st.ExpectedGeocode > 0 {
		stages = append(stages, streams.StageGeocode)
	}
	if st.ExpectedPoi > 0 {
		stages = append(stages, streams.StagePoi)
	}
	if st.ExpectedCommunity > 0 {
		stages = append(stages, streams.StageCommunity)
	}
	if st.ExpectedQa > 0 {
		stages = append(stages, streams.StageQa)
	}
	c.telemetry.RecordTurnEvent(ctx, telemetry.TurnEvent{
		SessionID:  st.ID,
		Turn:       st.Turn,
		StartTime:  st.TurnStartedAt,
		EndTime:    now,
		Duration:   now.Sub(st.TurnStartedAt),
		Success:    !partial,
		Partial:    partial,
		StagesUsed: stages,
	})
}

// recordStage reports one arrival; the duration is measured from turn start,
// which is when the coordinator last heard from the user.
func (c *Coordinator) recordStage(ctx context.Context, st *session.State, stage string, success bool, errText string) {
	if c.telemetry == nil {
		return
	}
	now := time.Now().UTC()
	c.telemetry.RecordStageEvent(ctx, telemetry.StageEvent{
		SessionID: st.ID,
		Stage:     stage,
		StartTime: st.TurnStartedAt,
		EndTime:   now,
		Duration:  now.Sub(st.TurnStartedAt),
		Success:   success,
		Error:     errText,
	})
}
