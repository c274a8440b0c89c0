package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"golang.org/x/time/rate"
)

// ErrNoAnswer is returned when the model produced no usable completion
// (no candidates, or a finish reason other than a normal stop)
var ErrNoAnswer = errors.New("llm returned no usable answer")

// LLMClient is the narrow surface the classifier needs from a model provider
type LLMClient interface {
	// Complete sends a text prompt to the text model
	Complete(ctx context.Context, prompt string) (string, error)
	// Describe sends an image plus instruction to the vision model and returns its caption
	Describe(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// LLMError carries the HTTP status of a failed provider call
type LLMError struct {
	StatusCode int
	Message    string
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm provider error (status %d): %s", e.StatusCode, e.Message)
}

func (e *LLMError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// NewLLMClient builds the configured provider
func NewLLMClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(cfg), nil
	case "bedrock":
		return NewBedrockClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
}

// GeminiClient calls the Gemini generateContent REST endpoint
type GeminiClient struct {
	baseURL     string
	apiKey      string
	textModel   string
	visionModel string
	maxTokens   int
	client      *http.Client
	limiter     *rate.Limiter
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		FinishReason string `json:"finishReason"`
		Content      struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func NewGeminiClient(cfg config.LLMConfig) *GeminiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	vision := cfg.VisionModel
	if vision == "" {
		vision = cfg.TextModel
	}
	return &GeminiClient{
		baseURL:     strings.TrimRight(cfg.GeminiAPIURL, "/"),
		apiKey:      cfg.GeminiAPIKey,
		textModel:   cfg.TextModel,
		visionModel: vision,
		maxTokens:   cfg.MaxOutputTokens,
		client:      &http.Client{Timeout: timeout},
		limiter:     newLimiter(cfg.RequestsPerMinute),
	}
}

func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, g.textModel, g.maxTokens, []geminiPart{{Text: prompt}})
}

// Describe asks for a caption; captions get a larger output budget than ids
func (g *GeminiClient) Describe(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	parts := []geminiPart{
		{Text: prompt},
		{InlineData: &geminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
	}
	return g.generate(ctx, g.visionModel, max(g.maxTokens, 200), parts)
}

func (g *GeminiClient) generate(ctx context.Context, model string, maxTokens int, parts []geminiPart) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var reqBody geminiRequest
	reqBody.Contents = append(reqBody.Contents, struct {
		Parts []geminiPart `json:"parts"`
	}{Parts: parts})
	reqBody.GenerationConfig.Temperature = 0
	reqBody.GenerationConfig.MaxOutputTokens = maxTokens

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &LLMError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", ErrNoAnswer
	}
	cand := out.Candidates[0]
	if cand.FinishReason != "" && cand.FinishReason != "STOP" {
		return "", ErrNoAnswer
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", ErrNoAnswer
	}
	return sb.String(), nil
}

// BedrockInvoker is the subset of the bedrockruntime client used here
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient calls an Anthropic model through AWS Bedrock
type BedrockClient struct {
	client    BedrockInvoker
	modelID   string
	maxTokens int
	limiter   *rate.Limiter
}

type bedrockContentBlock struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Source *bedrockSource `json:"source,omitempty"`
}

type bedrockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// NewBedrockClient loads the default AWS credential chain for the configured region
func NewBedrockClient(ctx context.Context, cfg config.LLMConfig) (*BedrockClient, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewBedrockClientWithInvoker(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func NewBedrockClientWithInvoker(invoker BedrockInvoker, cfg config.LLMConfig) *BedrockClient {
	modelID := cfg.BedrockModelID
	if modelID == "" {
		modelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	return &BedrockClient{
		client:    invoker,
		modelID:   modelID,
		maxTokens: cfg.MaxOutputTokens,
		limiter:   newLimiter(cfg.RequestsPerMinute),
	}
}

func (b *BedrockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return b.invoke(ctx, b.maxTokens, []bedrockContentBlock{{Type: "text", Text: prompt}})
}

func (b *BedrockClient) Describe(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	blocks := []bedrockContentBlock{
		{Type: "image", Source: &bedrockSource{Type: "base64", MediaType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
		{Type: "text", Text: prompt},
	}
	return b.invoke(ctx, max(b.maxTokens, 200), blocks)
}

func (b *BedrockClient) invoke(ctx context.Context, maxTokens int, blocks []bedrockContentBlock) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         []bedrockMessage{{Role: "user", Content: blocks}},
		Temperature:      0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal bedrock request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke failed: %w", err)
	}

	var out bedrockResponse
	if err := json.Unmarshal(output.Body, &out); err != nil {
		return "", fmt.Errorf("failed to decode bedrock response: %w", err)
	}
	if out.StopReason != "" && out.StopReason != "end_turn" && out.StopReason != "stop_sequence" {
		return "", ErrNoAnswer
	}

	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrNoAnswer
	}
	return sb.String(), nil
}
