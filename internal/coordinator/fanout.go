package coordinator

import (
	"context"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/models"
)

// geocodeDispatch is one planned geocode fan-out item.
type geocodeDispatch struct {
	index   int
	address string
}

// planGeocodeBatch books the geocode fan-out into the session while the
// store lock is held: the expected count covers exactly the addressable
// listings inside the capped batch, so addressless rows never inflate it and
// an index outside the cap is never dispatched. The returned items are
// published after the lock is released.
func planGeocodeBatch(s *session.State, listings []models.Listing, batchCap int) []geocodeDispatch {
	limit := len(listings)
	if batchCap > 0 && limit > batchCap {
		limit = batchCap
	}
	var batch []geocodeDispatch
	for i := 0; i < limit; i++ {
		if !listings[i].HasAddress() {
			continue
		}
		s.ExpectedGeocode++
		s.MarkSeen(dispatchKey(streams.StageGeocode, i))
		batch = append(batch, geocodeDispatch{index: i, address: listings[i].Address})
	}
	return batch
}

// publishGeocodeBatch puts the planned fan-out on the bus. A failed publish
// leaves its index to the stage deadline; the rest of the batch still goes
// out.
func (c *Coordinator) publishGeocodeBatch(ctx context.Context, sessionID string, batch []geocodeDispatch) {
	for _, item := range batch {
		tag := streams.Tag{SessionID: sessionID, Index: item.index}
		if _, err := c.publisher.PublishTagged(ctx, streams.StreamGeocodeRequest, streams.StreamGeocodeRequest, streams.PayloadV1, tag, streams.GeocodeRequestPayload{
			Address: item.address,
		}, streams.WithMaxLenApprox(c.maxLen)); err != nil {
			c.logger.Printf("error publishing geocode request for session %s listing %d: %v", sessionID, item.index, err)
		}
	}
}

// publishPoiRequest cascades one POI lookup for a freshly geocoded listing.
// The expected count was already incremented under the store lock, so the
// arrival can never beat its own expectation.
func (c *Coordinator) publishPoiRequest(ctx context.Context, tag streams.Tag, g streams.GeocodeResultPayload) error {
	_, err := c.publisher.PublishTagged(ctx, streams.StreamPoiRequest, streams.StreamPoiRequest, streams.PayloadV1, tag, streams.PoiRequestPayload{
		Latitude:     g.Latitude,
		Longitude:    g.Longitude,
		ListingIndex: tag.Index,
	}, streams.WithMaxLenApprox(c.maxLen))
	return err
}
