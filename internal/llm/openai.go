package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Roles understood by the completion service.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is a minimal chat message used by the core chat service.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client opens a streamed completion.  The instruction is sent as the leading
// system message, followed by the conversation.  Stream never returns an
// error: failures surface as a single error fragment inside the stream.
type Client interface {
	Stream(ctx context.Context, instruction string, messages []Message) *Stream
}

// Config holds the connection settings of an OpenAI-compatible endpoint.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float32
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// OpenAIClient streams chat completions from any server that speaks the
// OpenAI chat completion protocol (hosted providers, vLLM, Ollama).
type OpenAIClient struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float32
	readTimeout time.Duration
	log         zerolog.Logger
}

// NewOpenAIClient constructs a streaming client.  The connect timeout bounds
// dialing and waiting for response headers; the read timeout bounds the
// silence between two frames once streaming has started.
func NewOpenAIClient(cfg Config, log zerolog.Logger) *OpenAIClient {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
	return &OpenAIClient{
		httpClient:  &http.Client{Transport: transport},
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		readTimeout: cfg.ReadTimeout,
		log:         log.With().Str("component", "upstream").Logger(),
	}
}

// Stream sends the conversation with streaming enabled and returns the
// fragment sequence.  Cancelling ctx stops the relay and releases the
// upstream connection.
func (c *OpenAIClient) Stream(ctx context.Context, instruction string, messages []Message) *Stream {
	body, err := json.Marshal(c.buildRequest(instruction, messages))
	if err != nil {
		return c.failed(fmt.Errorf("encode request: %w", err))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return c.failed(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return c.failed(fmt.Errorf("connect: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return c.failed(fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return newFrameStream(streamCtx, cancel, resp.Body, c.readTimeout, c.log)
}

func (c *OpenAIClient) buildRequest(instruction string, messages []Message) openai.ChatCompletionRequest {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: RoleSystem, Content: instruction})
	for _, m := range messages {
		role := m.Role
		if role != RoleSystem && role != RoleUser && role != RoleAssistant {
			// coerce anything unknown to user
			role = RoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		Temperature: c.temperature,
		Stream:      true,
	}
}

func (c *OpenAIClient) failed(err error) *Stream {
	c.log.Warn().Err(err).Msg("upstream stream failed")
	return NewStaticStream(ErrorFragment(err))
}

// ErrorFragment is the text relayed to the patient in place of a reply when
// the completion service cannot be reached or breaks off.
func ErrorFragment(err error) string {
	return fmt.Sprintf("Maaf, terjadi kesalahan saat menghubungi layanan AI: %v", err)
}
