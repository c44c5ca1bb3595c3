package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/hazyhaar/livepage/horosafe"
)

// openaiClient streams from an OpenAI-compatible /v1/chat/completions API.
// This covers OpenAI, vLLM and Ollama.
type openaiClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	cfg      Config
}

func newOpenAIClient(cfg Config, apiKey string) *openaiClient {
	return &openaiClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
	}
}

func (c *openaiClient) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) Stream(ctx context.Context, r Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]chatMessage, 0, 2)
		if r.SystemInstruction != "" {
			msgs = append(msgs, chatMessage{Role: "system", Content: r.SystemInstruction})
		}
		msgs = append(msgs, chatMessage{Role: "user", Content: r.Prompt})

		body, err := json.Marshal(chatRequest{
			Model:       r.Model,
			Messages:    msgs,
			Stream:      true,
			Temperature: r.Temperature,
			TopP:        r.TopP,
		})
		if err != nil {
			yield("", fmt.Errorf("llm: marshal request: %w", err))
			return
		}

		u := c.endpoint + "/v1/chat/completions"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			yield("", &RequestError{Message: "new request", Err: err})
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			yield("", &RequestError{Message: "POST " + u, Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := horosafe.ReadPrefix(resp.Body, c.cfg.MaxErrorBody)
			msg := strings.TrimSpace(string(raw))
			var env chatChunk
			if json.Unmarshal(raw, &env) == nil && env.Error != nil && env.Error.Message != "" {
				msg = env.Error.Message
			}
			c.cfg.Logger.Warn("llm: openai request failed", "status", resp.StatusCode, "message", msg)
			yield("", &RequestError{Status: resp.StatusCode, Message: msg})
			return
		}

		var streamErr error
		stopped := false
		err = readEvents(resp.Body, func(data []byte) bool {
			if string(data) == "[DONE]" {
				return false
			}
			var chunk chatChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				streamErr = &RequestError{Message: "decode stream chunk", Err: err}
				return false
			}
			if chunk.Error != nil {
				streamErr = &RequestError{Message: chunk.Error.Message}
				return false
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				return true
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
		if streamErr == nil && err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			streamErr = &RequestError{Message: "read stream", Err: err}
		}
		if streamErr != nil {
			yield("", streamErr)
		}
	}
}
