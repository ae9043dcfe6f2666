package backend

import (
	"context"
	"net/http"

	"trading-portfolio/internal/model"
)

type parseRequest struct {
	XMLContent string `json:"xmlContent"`
}

type validateRequest struct {
	XMLContent  string `json:"xmlContent"`
	MessageType string `json:"messageType,omitempty"`
}

// ParseMessage forwards a raw trade message to the backend parser.
func (c *Client) ParseMessage(ctx context.Context, raw string) (model.ParsedMessage, error) {
	var out model.ParsedMessage
	err := c.do(ctx, http.MethodPost, "/api/xml/parse", parseRequest{XMLContent: raw}, &out)
	return out, err
}

// ValidateMessage asks the backend to validate raw as messageType.
func (c *Client) ValidateMessage(ctx context.Context, raw, messageType string) (model.ValidationResult, error) {
	var out model.ValidationResult
	err := c.do(ctx, http.MethodPost, "/api/xml/validate", validateRequest{XMLContent: raw, MessageType: messageType}, &out)
	return out, err
}
