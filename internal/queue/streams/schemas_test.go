package streams

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestStagePayloadSchemasValidate(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}

	scopePayload := map[string]interface{}{
		"session_id":          "sess-1",
		"is_complete":         true,
		"is_general_question": false,
		"agent_message":       "Searching now.",
		"community_name":      "Oakland",
		"requirements": map[string]interface{}{
			"location":   "Oakland, CA",
			"budget_max": 800000,
			"bedrooms":   3,
		},
	}
	data, err := json.Marshal(scopePayload)
	if err != nil {
		t.Fatalf("marshal scope payload: %v", err)
	}
	if err := reg.Validate(StreamScopeResult, PayloadV1, data); err != nil {
		t.Fatalf("expected scope.result payload to validate: %v", err)
	}

	searchPayload := map[string]interface{}{
		"session_id": "sess-1",
		"listings": []map[string]interface{}{
			{
				"title":    "3bd in Temescal",
				"address":  "123 Shafter Ave, Oakland, CA",
				"price":    780000,
				"bedrooms": 3,
				"url":      "https://www.zillow.com/homedetails/1",
			},
		},
		"search_summary": "Found one strong match.",
		"total_found":    1,
		"images": []map[string]interface{}{
			{"index": 0, "image_url": "https://photos.example.com/1.jpg"},
		},
	}
	data, err = json.Marshal(searchPayload)
	if err != nil {
		t.Fatalf("marshal search payload: %v", err)
	}
	if err := reg.Validate(StreamSearchResult, PayloadV1, data); err != nil {
		t.Fatalf("expected search.result payload to validate: %v", err)
	}

	replyPayload := map[string]interface{}{
		"session_id": "sess-1",
		"turn":       2,
		"message":    "Here is what I found.",
		"partial":    false,
	}
	data, err = json.Marshal(replyPayload)
	if err != nil {
		t.Fatalf("marshal reply payload: %v", err)
	}
	if err := reg.Validate(EventTypeChatReply, PayloadV1, data); err != nil {
		t.Fatalf("expected chat.reply payload to validate: %v", err)
	}
}

func TestValidateRejectsMalformedPayloads(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}

	cases := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
	}{
		{
			name:      "search result without listings",
			eventType: StreamSearchResult,
			payload: map[string]interface{}{
				"session_id":     "sess-1",
				"search_summary": "no batch",
				"total_found":    0,
			},
		},
		{
			name:      "reply with string turn",
			eventType: EventTypeChatReply,
			payload: map[string]interface{}{
				"session_id": "sess-1",
				"turn":       "two",
				"message":    "hi",
			},
		},
		{
			name:      "geocode request without address",
			eventType: StreamGeocodeRequest,
			payload:   map[string]interface{}{"address": ""},
		},
		{
			name:      "community report score out of range",
			eventType: StreamCommunityResult,
			payload: map[string]interface{}{
				"session_id": "sess-1",
				"report": map[string]interface{}{
					"location_name": "Oakland",
					"overall_score": 11.0,
					"safety_score":  5.0,
					"school_score":  5.0,
				},
			},
		},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.payload)
		if err != nil {
			t.Fatalf("%s: marshal: %v", tc.name, err)
		}
		if err := reg.Validate(tc.eventType, PayloadV1, data); err == nil {
			t.Fatalf("%s: expected validation to reject payload", tc.name)
		}
	}

	if err := reg.Validate("no.such.event", PayloadV1, []byte(`{}`)); err == nil {
		t.Fatal("expected unknown event type to be rejected")
	}
	if err := reg.Validate(StreamQaRequest, "v2", []byte(`{}`)); err == nil {
		t.Fatal("expected unknown payload version to be rejected")
	}
}

func TestEveryStreamHasRegisteredSchema(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}

	want := []string{StreamChatIncoming, EventTypeChatReply}
	for _, stage := range Stages() {
		request, result, err := StagePair(stage)
		if err != nil {
			t.Fatalf("stage pair for %s: %v", stage, err)
		}
		want = append(want, request, result)
	}
	for _, eventType := range want {
		if !reg.Known(eventType, PayloadV1) {
			t.Fatalf("no schema registered for %s %s", eventType, PayloadV1)
		}
	}
}

func TestPublishRejectsInvalidPayload(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}
	pub := NewPublisher(nil, reg)

	_, err := pub.PublishRaw(context.Background(), StreamSearchResult, StreamSearchResult, PayloadV1, map[string]interface{}{
		"session_id": "sess-1",
	})
	if err == nil {
		t.Fatal("expected publish of schema-violating payload to fail")
	}
	if !strings.Contains(err.Error(), "validation") {
		t.Fatalf("expected a validation error, got: %v", err)
	}

	_, err = pub.PublishTagged(context.Background(), StreamGeocodeRequest, StreamGeocodeRequest, PayloadV1, Tag{Index: 0}, GeocodeRequestPayload{Address: "somewhere"})
	if err == nil {
		t.Fatal("expected tagged publish without a session id to fail")
	}
}
