// Package client talks to the WhatsApp Cloud messaging API. A Client
// satisfies update.Replier, so dispatchers can bind it onto incoming
// updates for in-handler replies.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultBaseURL = "https://graph.facebook.com/v20.0"
const defaultTimeout = 30 * time.Second

// APIError is a structured error returned by the platform API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Client sends messages on behalf of one business phone number.
type Client struct {
	baseURL       string
	token         string
	phoneNumberID string
	httpClient    *http.Client
	log           *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the Graph API endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log.With("component", "client") }
}

// New validates credentials and constructs a Client.
func New(token, phoneNumberID string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("access token is required")
	}
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("phone number id is required")
	}

	c := &Client{
		baseURL:       defaultBaseURL,
		token:         token,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		log:           slog.Default().With("component", "client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type textBody struct {
	Body string `json:"body"`
}

type reactionBody struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type sendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type,omitempty"`
	To               string        `json:"to,omitempty"`
	Type             string        `json:"type,omitempty"`
	Text             *textBody     `json:"text,omitempty"`
	Reaction         *reactionBody `json:"reaction,omitempty"`
	Status           string        `json:"status,omitempty"`
	MessageID        string        `json:"message_id,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText delivers a plain text message and returns the platform message id.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", errors.New("recipient is required")
	}

	req := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: text},
	}

	var resp sendResponse
	if err := c.post(ctx, "/messages", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", errors.New("send response carried no message id")
	}

	c.log.Debug("Sent text message", "to", to, "message_id", resp.Messages[0].ID)
	return resp.Messages[0].ID, nil
}

// React attaches an emoji reaction to a previously received message.
// An empty emoji removes an existing reaction.
func (c *Client) React(ctx context.Context, to, messageID, emoji string) error {
	req := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "reaction",
		Reaction:         &reactionBody{MessageID: messageID, Emoji: emoji},
	}

	return c.post(ctx, "/messages", req, nil)
}

// MarkRead flags an incoming message as read, which clears the sender's
// unread indicator.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	req := sendRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}

	return c.post(ctx, "/messages", req, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	url := c.baseURL + "/" + c.phoneNumberID + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("platform request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return decodeAPIError(httpResp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// decodeAPIError parses the platform's {"error": {...}} envelope, falling
// back to the raw body when the envelope is absent.
func decodeAPIError(status int, raw []byte) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		envelope.Error.StatusCode = status
		return &envelope.Error
	}

	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
}
