package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ReZill392/Thesit-sub000/config"
)

const (
	defaultGraphAPIURL = "https://graph.facebook.com/v18.0"

	conversationFields = "participants,updated_time,id,messages.limit(%d){created_time,from,message,id,attachments}"
	messageFields      = "created_time,from,message,attachments"
	profileFields      = "name,first_name,last_name,profile_pic"
	roleFields         = "id,name,role,picture{url}"

	messagingType = "MESSAGE_TAG"
	messageTag    = "CONFIRMED_EVENT_UPDATE"
)

// GraphClient is a thin request/response wrapper over the Facebook Graph HTTP API.
// It does not retry; call sites wrap calls with a RetryPolicy.
type GraphClient struct {
	baseURL   string
	appSecret string
	client    *http.Client
}

// NewGraphClient creates a Graph client from the facebook configuration
func NewGraphClient(cfg config.FacebookConfig) *GraphClient {
	base := strings.TrimRight(cfg.GraphAPIURL, "/")
	if base == "" {
		base = defaultGraphAPIURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GraphClient{
		baseURL:   base,
		appSecret: cfg.AppSecret,
		client:    &http.Client{Timeout: timeout},
	}
}

// Get performs GET {endpoint} and returns the raw JSON body
func (c *GraphClient) Get(ctx context.Context, endpoint string, params url.Values, token string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL(endpoint, params, token), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Post performs POST {endpoint} with a JSON payload
func (c *GraphClient) Post(ctx context.Context, endpoint string, payload any, token string) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(endpoint, nil, token), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// ListConversations fetches one page of a page's conversations with their latest messages
func (c *GraphClient) ListConversations(ctx context.Context, pageID, token string, limit, messageLimit int, after string) (*ConversationPage, error) {
	params := url.Values{}
	params.Set("fields", fmt.Sprintf(conversationFields, messageLimit))
	params.Set("limit", strconv.Itoa(limit))
	if after != "" {
		params.Set("after", after)
	}

	raw, err := c.Get(ctx, pageID+"/conversations", params, token)
	if err != nil {
		return nil, err
	}

	var page ConversationPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return &page, nil
}

// ConversationMessages fetches one page (newest first) of a conversation's messages
func (c *GraphClient) ConversationMessages(ctx context.Context, conversationID, token, after string) (*MessagePage, error) {
	params := url.Values{}
	params.Set("fields", messageFields)
	params.Set("limit", "50")
	if after != "" {
		params.Set("after", after)
	}

	raw, err := c.Get(ctx, conversationID+"/messages", params, token)
	if err != nil {
		return nil, err
	}

	var page MessagePage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return &page, nil
}

// UserProfile fetches the public profile of a PSID
func (c *GraphClient) UserProfile(ctx context.Context, psid, token string) (*Profile, error) {
	params := url.Values{}
	params.Set("fields", profileFields)

	raw, err := c.Get(ctx, psid, params, token)
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}

// PageRoles lists the people with a role on the page
func (c *GraphClient) PageRoles(ctx context.Context, pageID, token string) ([]PageRole, error) {
	params := url.Values{}
	params.Set("fields", roleFields)

	raw, err := c.Get(ctx, pageID+"/roles", params, token)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []PageRole `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode page roles: %w", err)
	}
	return out.Data, nil
}

// SendText sends a tagged text message to a PSID
func (c *GraphClient) SendText(ctx context.Context, token, psid, text string) (*SendResult, error) {
	payload := map[string]any{
		"messaging_type": messagingType,
		"recipient":      map[string]string{"id": psid},
		"message":        map[string]string{"text": text},
		"tag":            messageTag,
	}

	raw, err := c.Post(ctx, "me/messages", payload, token)
	if err != nil {
		return nil, err
	}
	return decodeSendResult(raw)
}

// SendAttachment uploads an image or video as multipart filedata and sends it to a PSID
func (c *GraphClient) SendAttachment(ctx context.Context, token, psid, kind, filename string, content io.Reader) (*SendResult, error) {
	if kind != "image" && kind != "video" {
		return nil, fmt.Errorf("unsupported attachment kind %q", kind)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	recipient, _ := json.Marshal(map[string]string{"id": psid})
	message, _ := json.Marshal(map[string]any{
		"attachment": map[string]any{"type": kind, "payload": map[string]any{}},
	})
	fields := [][2]string{
		{"messaging_type", messagingType},
		{"tag", messageTag},
		{"recipient", string(recipient)},
		{"message", string(message)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}

	part, err := w.CreateFormFile("filedata", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to buffer attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL("me/messages", nil, token), bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeSendResult(raw)
}

func decodeSendResult(raw json.RawMessage) (*SendResult, error) {
	var res SendResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode send result: %w", err)
	}
	return &res, nil
}

func (c *GraphClient) endpointURL(endpoint string, params url.Values, token string) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if token != "" {
		q.Set("access_token", token)
		if c.appSecret != "" {
			q.Set("appsecret_proof", AppSecretProof(c.appSecret, token))
		}
	}

	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *GraphClient) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &GraphError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GraphError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response body: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error *GraphError `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
			envelope.Error.StatusCode = resp.StatusCode
			return nil, envelope.Error
		}
		return nil, &GraphError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	return body, nil
}

// AppSecretProof returns hex(HMAC-SHA256(appSecret, token))
func AppSecretProof(appSecret, token string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// WalkConversationMessages pages a conversation's messages from newest to oldest,
// calling visit for each page until it returns false or no pages remain.
func (c *GraphClient) WalkConversationMessages(ctx context.Context, conversationID, token string, visit func([]Message) bool) error {
	after := ""
	for {
		page, err := c.ConversationMessages(ctx, conversationID, token, after)
		if err != nil {
			return err
		}
		if !visit(page.Data) || !page.Paging.HasNext() {
			return nil
		}
		after = page.Paging.Cursors.After
	}
}
