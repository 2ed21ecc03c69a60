package handler

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"chat-relay/internal/domain"
	"chat-relay/internal/usecase"
)

const maxBodyBytes = 1 << 20

const chatRequestSchema = `{
  "type": "object",
  "properties": {
    "messages": {
      "type": "array",
      "minItems": 1,
      "maxItems": 200,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"type": "string", "minLength": 1},
          "content": {"type": "string"}
        }
      }
    },
    "message": {"type": "string", "minLength": 1}
  },
  "oneOf": [
    {"required": ["messages"]},
    {"required": ["message"]}
  ]
}`

var chatSchema = mustSchema(chatRequestSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic("handler: invalid request schema: " + err.Error())
	}
	return schema
}

type chatRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
	Message  string               `json:"message"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	RequestID string `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// decodeChatRequest validates body against the request schema and returns the
// conversation turn. The {"message": "..."} shorthand becomes one user entry.
func decodeChatRequest(body []byte) ([]domain.ChatMessage, error) {
	if len(body) > maxBodyBytes {
		return nil, &usecase.Error{Code: usecase.ErrorValidation, Reason: "body_too_large"}
	}
	if !json.Valid(body) {
		return nil, &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_json"}
	}

	result, err := chatSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_json", Err: err}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return nil, &usecase.Error{
			Code:   usecase.ErrorValidation,
			Reason: "schema_violation",
			Detail: strings.Join(problems, "; "),
		}
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_json", Err: err}
	}
	if len(req.Messages) == 0 {
		return []domain.ChatMessage{{Role: domain.RoleUser, Content: req.Message}}, nil
	}
	return req.Messages, nil
}
