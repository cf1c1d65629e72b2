package streams

import (
	"fmt"
	"strings"
)

// Stream names double as event types: every stream carries exactly one event
// type at payload version v1, which keeps routing a direct string match.
const (
	StreamChatIncoming = "chat.incoming"

	StreamScopeRequest = "scope.request"
	StreamScopeResult  = "scope.result"

	StreamSearchRequest = "search.request"
	StreamSearchResult  = "search.result"

	StreamGeocodeRequest = "geocode.request"
	StreamGeocodeResult  = "geocode.result"

	StreamPoiRequest = "poi.request"
	StreamPoiResult  = "poi.result"

	StreamCommunityRequest = "community.request"
	StreamCommunityResult  = "community.result"

	StreamQaRequest = "qa.request"
	StreamQaResult  = "qa.result"

	replyStreamPrefix = "chat.reply"
)

// EventTypeChatReply is the event type published to per-session reply
// streams; the stream name varies, the event type does not.
const EventTypeChatReply = "chat.reply"

// PayloadV1 is the payload version every stream speaks today.
const PayloadV1 = "v1"

// Consumer group names. The coordinator group owns every result stream plus
// chat.incoming; the worker group owns the request streams.
const (
	GroupCoordinator = "coordinator"
	GroupWorkers     = "workers"
)

// Stage names used in tags, config and telemetry.
const (
	StageScoping   = "scoping"
	StageSearch    = "search"
	StageGeocode   = "geocode"
	StagePoi       = "poi"
	StageCommunity = "community"
	StageQa        = "qa"
)

// CoordinatorStreams lists every stream the coordinator consumes.
func CoordinatorStreams() []string {
	return []string{
		StreamChatIncoming,
		StreamScopeResult,
		StreamSearchResult,
		StreamGeocodeResult,
		StreamPoiResult,
		StreamCommunityResult,
		StreamQaResult,
	}
}

// StagePair maps a stage name to its request and result streams.
func StagePair(stage string) (request, result string, err error) {
	switch stage {
	case StageScoping:
		return StreamScopeRequest, StreamScopeResult, nil
	case StageSearch:
		return StreamSearchRequest, StreamSearchResult, nil
	case StageGeocode:
		return StreamGeocodeRequest, StreamGeocodeResult, nil
	case StagePoi:
		return StreamPoiRequest, StreamPoiResult, nil
	case StageCommunity:
		return StreamCommunityRequest, StreamCommunityResult, nil
	case StageQa:
		return StreamQaRequest, StreamQaResult, nil
	default:
		return "", "", fmt.Errorf("unknown stage %q", stage)
	}
}

// Stages lists every stage a worker process can host.
func Stages() []string {
	return []string{StageScoping, StageSearch, StageGeocode, StagePoi, StageCommunity, StageQa}
}

// ReplyStream names the per-session stream the final turn reply is published
// to. The gateway long-polls it with a plain XREAD (no group: a reply stream
// has exactly one logical reader).
func ReplyStream(sessionID string) string {
	return fmt.Sprintf("%s.%s", replyStreamPrefix, sessionID)
}

// IsReplyStream reports whether the stream is a per-session reply stream and
// returns the session id it belongs to.
func IsReplyStream(stream string) (string, bool) {
	if !strings.HasPrefix(stream, replyStreamPrefix+".") {
		return "", false
	}
	id := strings.TrimPrefix(stream, replyStreamPrefix+".")
	if id == "" {
		return "", false
	}
	return id, true
}
