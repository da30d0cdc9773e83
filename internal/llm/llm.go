// Package llm abstracts the language model behind a synchronous
// invoke(messages) → text contract. The runtime never sees vendor SDK types.
package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"weave/internal/errors"
	"weave/internal/shared/jsonx"
	"weave/internal/shared/logging"
)

// Role tags one chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation handed to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Client is the synchronous model contract. Invoke blocks until the model
// answers or ctx fires; it is the orchestrator's only suspension point
// besides node execution.
type Client interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// Env variable names for the default client.
const (
	EnvAPIKey  = "WEAVE_LLM_API_KEY"
	EnvBaseURL = "WEAVE_LLM_BASE_URL"
	EnvModel   = "WEAVE_LLM_MODEL"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// Config holds the HTTP client settings. Zero values fall back to the
// environment and vendor defaults.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	config Config
	client *http.Client
	logger logging.Logger
}

// NewHTTPClient builds a client from config, filling gaps from the
// environment. The API key is required.
func NewHTTPClient(config Config, logger logging.Logger) (*HTTPClient, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv(EnvAPIKey)
	}
	if config.APIKey == "" {
		return nil, errors.New(errors.KindInvalidContext,
			"model API key missing: set %s", EnvAPIKey)
	}
	if config.BaseURL == "" {
		config.BaseURL = os.Getenv(EnvBaseURL)
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = os.Getenv(EnvModel)
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	return &HTTPClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logging.OrNop(logger),
	}, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke sends the messages and returns the first choice's content.
func (c *HTTPClient) Invoke(ctx context.Context, messages []Message) (string, error) {
	body, err := jsonx.Marshal(chatRequest{Model: c.config.Model, Messages: messages})
	if err != nil {
		return "", errors.Wrap(err, errors.KindInvalidRequest, "chat request does not marshal")
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, errors.KindInvalidRequest, "cannot build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return "", errors.Wrap(err, errors.KindTimeout, "model call exceeded its deadline")
		case context.Canceled:
			return "", errors.Wrap(err, errors.KindCancelled, "model call cancelled")
		}
		return "", errors.Wrap(err, errors.KindRepositoryUnavailable, "model endpoint unreachable")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", errors.Wrap(err, errors.KindRepositoryUnavailable, "cannot read model response")
	}

	var decoded chatResponse
	if err := jsonx.Unmarshal(payload, &decoded); err != nil {
		return "", errors.Wrap(err, errors.KindParse, "model response is not valid JSON")
	}
	if decoded.Error != nil {
		modelErr := errors.New(errors.KindRepositoryUnavailable,
			"model error: %s", decoded.Error.Message).
			WithMeta("error_type", decoded.Error.Type)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			modelErr = modelErr.AsRetryable()
		}
		return "", modelErr
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New(errors.KindParse, "model returned no choices")
	}

	c.logger.Debug("model answered in %s", time.Since(started))
	return decoded.Choices[0].Message.Content, nil
}

// Scripted is a test double that replays canned responses in order.
type Scripted struct {
	Responses []string
	Calls     [][]Message
	next      int
}

// Invoke returns the next scripted response; exhausted scripts fail.
func (s *Scripted) Invoke(_ context.Context, messages []Message) (string, error) {
	s.Calls = append(s.Calls, messages)
	if s.next >= len(s.Responses) {
		return "", errors.New(errors.KindRepositoryUnavailable, "script exhausted after %d calls", s.next)
	}
	response := s.Responses[s.next]
	s.next++
	return response, nil
}
