package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/models"
)

// tryFinalize flips the turn to finalized when the completion predicate
// first holds. Must run inside the store's Update closure so the flip and
// the counter reads are one atomic step.
func tryFinalize(s *session.State) bool {
	if s.Finalized || !s.TurnComplete() {
		return false
	}
	s.Finalized = true
	return true
}

// handleSearchResult stores the listing batch and fans the geocode stage out
// over the addressable listings, all under one session update. A batch with
// nothing to geocode completes the turn on the spot.
func (c *Coordinator) handleSearchResult(ctx context.Context, env streams.Envelope) error {
	var payload streams.SearchResultPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal search.result: %w", err)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("search.result missing session id")
	}

	var (
		stale bool
		fired bool
		batch []geocodeDispatch
	)
	st, err := c.sessions.Update(ctx, payload.SessionID, c.ttl, func(s *session.State) error {
		if !s.SeenTags[dispatchKey(streams.StageSearch, 0)] {
			stale = true
			return nil
		}
		if !s.MarkSeen(arrivalKey(streams.StageSearch, 0)) {
			stale = true
			return nil
		}
		s.ArrivedSearch++
		outcome := &models.SearchOutcome{
			Listings:      payload.Listings,
			SearchSummary: payload.SearchSummary,
			TotalFound:    payload.TotalFound,
			Images:        payload.Images,
		}
		if payload.Error != "" {
			// The error text doubles as the summary so the reply can say
			// what went wrong.
			outcome = &models.SearchOutcome{SearchSummary: payload.Error}
		}
		s.Search = outcome
		if !s.Finalized && payload.Error == "" {
			batch = planGeocodeBatch(s, outcome.Listings, c.fanoutCap)
			if len(batch) > 0 {
				s.ArmDeadline(c.deadline)
			}
		}
		fired = tryFinalize(s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("aggregate search result: %w", err)
	}
	if stale {
		c.logger.Printf("session %s: dropping search result that matches no open turn", payload.SessionID)
		return nil
	}
	if payload.Error != "" {
		c.logger.Printf("warn: search stage failed for session %s: %s", payload.SessionID, payload.Error)
	}
	c.recordStage(ctx, st, streams.StageSearch, payload.Error == "", payload.Error)

	if len(batch) > 0 {
		c.publishGeocodeBatch(ctx, st.ID, batch)
		c.armDeadline(st.ID, st.Turn)
		c.logger.Printf("session %s turn %d: geocode fan-out of %d dispatched", st.ID, st.Turn, len(batch))
	}
	if fired {
		c.finalizeTurn(ctx, st, false)
	}
	return nil
}

// handleGeocodeResult counts one tagged geocode arrival. Success stores the
// coordinates and cascades the POI lookup for the same index; an error still
// counts so the fan-out can drain.
func (c *Coordinator) handleGeocodeResult(ctx context.Context, env streams.Envelope) error {
	tag, ok := env.Tag()
	if !ok {
		return fmt.Errorf("geocode.result missing correlation tag")
	}
	var payload streams.GeocodeResultPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal geocode.result: %w", err)
	}

	var (
		stale   bool
		fired   bool
		cascade bool
	)
	st, err := c.sessions.Update(ctx, tag.SessionID, c.ttl, func(s *session.State) error {
		if !s.SeenTags[dispatchKey(streams.StageGeocode, tag.Index)] {
			stale = true
			return nil
		}
		if !s.MarkSeen(arrivalKey(streams.StageGeocode, tag.Index)) {
			stale = true
			return nil
		}
		s.ArrivedGeocode++
		if payload.Error == "" {
			if s.Geocoded == nil {
				s.Geocoded = make(map[int]models.GeocodeRecord)
			}
			s.Geocoded[tag.Index] = models.GeocodeRecord{
				Index:           tag.Index,
				Latitude:        payload.Latitude,
				Longitude:       payload.Longitude,
				ResolvedAddress: payload.ResolvedAddress,
			}
			if !s.Finalized {
				// Count the cascaded lookup before its request exists on the
				// bus; the arrival can never beat the expectation.
				s.ExpectedPoi++
				s.MarkSeen(dispatchKey(streams.StagePoi, tag.Index))
				s.ArmDeadline(c.deadline)
				cascade = true
			}
		}
		fired = tryFinalize(s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("aggregate geocode result: %w", err)
	}
	if stale {
		c.logger.Printf("session %s: dropping geocode result %d that matches no open turn", tag.SessionID, tag.Index)
		return nil
	}
	if payload.Error != "" {
		c.logger.Printf("warn: geocode failed for session %s listing %d: %s", tag.SessionID, tag.Index, payload.Error)
	}
	c.recordStage(ctx, st, streams.StageGeocode, payload.Error == "", payload.Error)

	if cascade {
		if err := c.publishPoiRequest(ctx, tag, payload); err != nil {
			return fmt.Errorf("publish poi.request for listing %d: %w", tag.Index, err)
		}
		c.armDeadline(st.ID, st.Turn)
	}
	if fired {
		c.finalizeTurn(ctx, st, false)
	}
	return nil
}

// handlePoiResult counts one tagged POI arrival and stores its points under
// the listing index.
func (c *Coordinator) handlePoiResult(ctx context.Context, env streams.Envelope) error {
	tag, ok := env.Tag()
	if !ok {
		return fmt.Errorf("poi.result missing correlation tag")
	}
	var payload streams.PoiResultPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal poi.result: %w", err)
	}

	var (
		stale bool
		fired bool
	)
	st, err := c.sessions.Update(ctx, tag.SessionID, c.ttl, func(s *session.State) error {
		if !s.SeenTags[dispatchKey(streams.StagePoi, tag.Index)] {
			stale = true
			return nil
		}
		if !s.MarkSeen(arrivalKey(streams.StagePoi, tag.Index)) {
			stale = true
			return nil
		}
		s.ArrivedPoi++
		if s.Pois == nil {
			s.Pois = make(map[int]models.PoiSet)
		}
		s.Pois[tag.Index] = models.PoiSet{ListingIndex: tag.Index, Points: payload.Points}
		fired = tryFinalize(s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("aggregate poi result: %w", err)
	}
	if stale {
		c.logger.Printf("session %s: dropping poi result %d that matches no open turn", tag.SessionID, tag.Index)
		return nil
	}
	if payload.Error != "" {
		c.logger.Printf("warn: poi lookup failed for session %s listing %d: %s", tag.SessionID, tag.Index, payload.Error)
	}
	c.recordStage(ctx, st, streams.StagePoi, payload.Error == "", payload.Error)

	if fired {
		c.finalizeTurn(ctx, st, false)
	}
	return nil
}

// handleCommunityResult stores the advisory report and counts the arrival.
// A failed analysis degrades the reply, never blocks it.
func (c *Coordinator) handleCommunityResult(ctx context.Context, env streams.Envelope) error {
	var payload streams.CommunityResultPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal community.result: %w", err)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("community.result missing session id")
	}

	var (
		stale bool
		fired bool
	)
	st, err := c.sessions.Update(ctx, payload.SessionID, c.ttl, func(s *session.State) error {
		if !s.SeenTags[dispatchKey(streams.StageCommunity, 0)] {
			stale = true
			return nil
		}
		if !s.MarkSeen(arrivalKey(streams.StageCommunity, 0)) {
			stale = true
			return nil
		}
		s.ArrivedCommunity++
		if payload.Report != nil {
			s.Community = payload.Report
		}
		fired = tryFinalize(s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("aggregate community result: %w", err)
	}
	if stale {
		c.logger.Printf("session %s: dropping community result that matches no open turn", payload.SessionID)
		return nil
	}
	if payload.Error != "" {
		c.logger.Printf("warn: community analysis failed for session %s: %s", payload.SessionID, payload.Error)
	}
	c.recordStage(ctx, st, streams.StageCommunity, payload.Error == "", payload.Error)

	if fired {
		c.finalizeTurn(ctx, st, false)
	}
	return nil
}

// handleQaResult stores the single-shot answer and counts the arrival.
func (c *Coordinator) handleQaResult(ctx context.Context, env streams.Envelope) error {
	var payload streams.QaResultPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal qa.result: %w", err)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("qa.result missing session id")
	}

	var (
		stale bool
		fired bool
	)
	st, err := c.sessions.Update(ctx, payload.SessionID, c.ttl, func(s *session.State) error {
		if !s.SeenTags[dispatchKey(streams.StageQa, 0)] {
			stale = true
			return nil
		}
		if !s.MarkSeen(arrivalKey(streams.StageQa, 0)) {
			stale = true
			return nil
		}
		s.ArrivedQa++
		s.Answer = payload.Answer
		fired = tryFinalize(s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("aggregate qa result: %w", err)
	}
	if stale {
		c.logger.Printf("session %s: dropping qa result that matches no open turn", payload.SessionID)
		return nil
	}
	if payload.Error != "" {
		c.logger.Printf("warn: qa stage failed for session %s: %s", payload.SessionID, payload.Error)
	}
	c.recordStage(ctx, st, streams.StageQa, payload.Error == "", payload.Error)

	if fired {
		c.finalizeTurn(ctx, st, false)
	}
	return nil
}
