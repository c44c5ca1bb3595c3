package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/hazyhaar/livepage/horosafe"
)

// geminiClient streams from the Gemini API through the genai SDK.
type geminiClient struct {
	client *genai.Client
	cfg    Config
}

func newGeminiClient(cfg Config, apiKey string) (*geminiClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(cfg.Endpoint, "/") + "/",
			APIVersion: "v1beta",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini client: %w", err)
	}
	return &geminiClient{client: client, cfg: cfg}, nil
}

func (c *geminiClient) Name() string { return "gemini" }

func (c *geminiClient) Stream(ctx context.Context, r Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := horosafe.ValidateIdentifier(r.Model); err != nil {
			yield("", &RequestError{Message: "invalid model " + strconv.Quote(r.Model), Err: err})
			return
		}

		contents := []*genai.Content{genai.NewContentFromText(r.Prompt, genai.RoleUser)}
		for resp, err := range c.client.Models.GenerateContentStream(ctx, r.Model, contents, generateConfig(r)) {
			if err != nil {
				yield("", c.requestError(err))
				return
			}
			if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				yield("", &RequestError{Message: "prompt blocked: " + string(resp.PromptFeedback.BlockReason)})
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, p := range resp.Candidates[0].Content.Parts {
				if p == nil || p.Thought || p.Text == "" {
					continue
				}
				if !yield(p.Text, nil) {
					return
				}
			}
		}
	}
}

// generateConfig maps sampling settings; zero values keep the model defaults.
func generateConfig(r Request) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if r.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(r.SystemInstruction, genai.RoleUser)
	}
	if r.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(r.Temperature))
	}
	if r.TopP > 0 {
		gc.TopP = genai.Ptr(float32(r.TopP))
	}
	if r.TopK > 0 {
		gc.TopK = genai.Ptr(float32(r.TopK))
	}
	return gc
}

// requestError converts SDK failures into RequestError so auth problems stay
// recognisable. API messages are clipped to MaxErrorBody.
func (c *geminiClient) requestError(err error) error {
	var (
		ae  genai.APIError
		pae *genai.APIError
	)
	switch {
	case errors.As(err, &ae):
	case errors.As(err, &pae) && pae != nil:
		ae = *pae
	default:
		return &RequestError{Message: "gemini stream", Err: err}
	}
	msg := strings.TrimSpace(ae.Message)
	if int64(len(msg)) > c.cfg.MaxErrorBody {
		msg = msg[:c.cfg.MaxErrorBody]
	}
	c.cfg.Logger.Warn("llm: gemini request failed", "status", ae.Code, "message", msg)
	return &RequestError{Status: ae.Code, Message: msg}
}
