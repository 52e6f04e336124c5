package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hybridcore/core/internal/model"
)

// Default remote intent provider configuration.
const (
	DefaultRemoteHost  = "http://localhost:11434"
	DefaultRemoteModel = "qwen3:0.6b"
	DefaultTimeout     = 2 * time.Second
)

// RemoteConfig configures RemoteProvider.
type RemoteConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// DefaultRemoteConfig returns the default provider endpoint, model, and
// timeout.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{Host: DefaultRemoteHost, Model: DefaultRemoteModel, Timeout: DefaultTimeout}
}

// RemoteProvider calls a local LLM's generate endpoint, asking it to
// return the structured intent as JSON, and parses the model's response
// body directly into a model.ParsedIntent.
type RemoteProvider struct {
	client *http.Client
	config RemoteConfig
}

// NewRemoteProvider builds a RemoteProvider, applying defaults for zero
// fields.
func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	if cfg.Host == "" {
		cfg.Host = DefaultRemoteHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRemoteModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &RemoteProvider{client: &http.Client{Timeout: cfg.Timeout}, config: cfg}
}

const intentPrompt = `Extract moods, themes, and referenced titles from this media search query. Respond with ONLY a JSON object of the form {"moods":[...],"themes":[...],"references":[{"title":"...","type":"..."}],"confidence":0.0-1.0}.

Query: %s

JSON:`

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// parsedIntentPayload is the wire shape the model is prompted to emit;
// Filters and FallbackQuery are filled in by the caller, not the model.
type parsedIntentPayload struct {
	Moods      []string         `json:"moods"`
	Themes     []string         `json:"themes"`
	References []model.Reference `json:"references"`
	Confidence float64          `json:"confidence"`
}

// Parse sends text to the remote model and maps its JSON response onto a
// model.ParsedIntent. Any transport, status, or decode failure is returned
// as an error so IntentParser can fall through to the pattern provider.
func (r *RemoteProvider) Parse(ctx context.Context, text string) (model.ParsedIntent, error) {
	reqBody := generateRequest{
		Model:  r.config.Model,
		Prompt: fmt.Sprintf(intentPrompt, text),
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return model.ParsedIntent{}, fmt.Errorf("marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return model.ParsedIntent{}, fmt.Errorf("build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return model.ParsedIntent{}, fmt.Errorf("call intent provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.ParsedIntent{}, fmt.Errorf("intent provider status %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return model.ParsedIntent{}, fmt.Errorf("decode intent envelope: %w", err)
	}

	var payload parsedIntentPayload
	if err := json.Unmarshal([]byte(gen.Response), &payload); err != nil {
		return model.ParsedIntent{}, fmt.Errorf("decode intent payload: %w", err)
	}

	if payload.Moods == nil {
		payload.Moods = []string{}
	}
	if payload.Themes == nil {
		payload.Themes = []string{}
	}
	if payload.References == nil {
		payload.References = []model.Reference{}
	}

	return model.ParsedIntent{
		Moods:         payload.Moods,
		Themes:        payload.Themes,
		References:    payload.References,
		Filters:       model.Filters{},
		FallbackQuery: text,
		Confidence:    payload.Confidence,
	}, nil
}
