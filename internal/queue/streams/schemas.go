package streams

import "fmt"

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: StreamChatIncoming,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "message", "reply_stream"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "message": {"type": "string", "minLength": 1},
    "reply_stream": {"type": "string", "minLength": 1}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamScopeRequest,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "message"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "message": {"type": "string"},
    "history": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"type": "string"},
          "content": {"type": "string"}
        }
      }
    }
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamScopeResult,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "is_complete", "is_general_question", "agent_message"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "is_complete": {"type": "boolean"},
    "is_general_question": {"type": "boolean"},
    "general_question": {"type": "string"},
    "community_name": {"type": "string"},
    "agent_message": {"type": "string"},
    "requirements": {
      "type": "object",
      "required": ["location"],
      "properties": {
        "budget_min": {"type": "number"},
        "budget_max": {"type": "number"},
        "bedrooms": {"type": "integer"},
        "bathrooms": {"type": "integer"},
        "location": {"type": "string"},
        "additional_info": {"type": "string"}
      }
    }
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamSearchRequest,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "requirements"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "requirements": {"type": "object"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamSearchResult,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "listings", "search_summary", "total_found"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "listings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "address"],
        "properties": {
          "title": {"type": "string"},
          "address": {"type": "string"},
          "price": {"type": "number"},
          "bedrooms": {"type": "integer"},
          "bathrooms": {"type": "integer"},
          "url": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    },
    "search_summary": {"type": "string"},
    "total_found": {"type": "integer", "minimum": 0},
    "images": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "image_url"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "image_url": {"type": "string"}
        }
      }
    },
    "error": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamGeocodeRequest,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["address"],
  "properties": {
    "address": {"type": "string", "minLength": 1}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamGeocodeResult,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "latitude": {"type": "number", "minimum": -90, "maximum": 90},
    "longitude": {"type": "number", "minimum": -180, "maximum": 180},
    "resolved_address": {"type": "string"},
    "error": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamPoiRequest,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["latitude", "longitude", "listing_index"],
  "properties": {
    "latitude": {"type": "number"},
    "longitude": {"type": "number"},
    "listing_index": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamPoiResult,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["points", "listing_index"],
  "properties": {
    "points": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "category"],
        "properties": {
          "name": {"type": "string"},
          "category": {"type": "string"},
          "lat": {"type": "number"},
          "lon": {"type": "number"},
          "address": {"type": "string"},
          "distance_meters": {"type": "number"}
        }
      }
    },
    "listing_index": {"type": "integer", "minimum": 0},
    "error": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamCommunityRequest,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "location_name"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "location_name": {"type": "string", "minLength": 1}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamCommunityResult,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "report": {
      "type": "object",
      "required": ["location_name", "overall_score", "safety_score", "school_score"],
      "properties": {
        "location_name": {"type": "string"},
        "overall_score": {"type": "number", "minimum": 0, "maximum": 10},
        "safety_score": {"type": "number", "minimum": 0, "maximum": 10},
        "school_score": {"type": "number", "minimum": 0, "maximum": 10},
        "housing_price_per_sqft": {"type": "number"},
        "avg_house_size_sqft": {"type": "number"},
        "positive_stories": {"type": "array"},
        "negative_stories": {"type": "array"}
      }
    },
    "error": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamQaRequest,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "question"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "question": {"type": "string", "minLength": 1},
    "listings": {"type": "array"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: StreamQaResult,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "answer": {"type": "string"},
    "error": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventTypeChatReply,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "turn", "message"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "turn": {"type": "integer", "minimum": 1},
    "message": {"type": "string"},
    "partial": {"type": "boolean"}
  },
  "additionalProperties": true
}`),
	},
}

// RegisterBaseSchemas loads the v1 event schemas into the provided registry.
func RegisterBaseSchemas(registry *SchemaRegistry) error {
	if registry == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := registry.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// BaseDefinitions exposes the registered schema set for docs and tests.
func BaseDefinitions() []Definition {
	out := make([]Definition, len(baseDefinitions))
	copy(out, baseDefinitions)
	return out
}
