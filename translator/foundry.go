package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ============================================================================
// FOUNDRY LOCAL CLIENT — OpenAI-compatible chat on a local runtime
// ============================================================================
// Endpoint discovery, first call only:
//   1. Config.Endpoint (FOUNDRY_LOCAL_ENDPOINT) when set
//   2. `foundry service status` → first http://host:port in the output,
//      confirmed live by GET <base>/openai/status → <base>/v1
// Model resolution, first call only: GET <endpoint>/models, then the id that
// equals the alias or starts with it, else the first loaded model, else
// the alias itself.
// ============================================================================

// ErrNoEndpoint is returned when no Foundry Local endpoint could be found.
var ErrNoEndpoint = errors.New("no Foundry Local endpoint found")

var serviceURL = regexp.MustCompile(`http://[\d.]+:\d+`)

// Devices reported in ModelInfo.
const (
	DeviceNPU     = "NPU"
	DeviceCUDAGPU = "CUDA GPU"
	DeviceGPU     = "GPU"
	DeviceCPU     = "CPU"
	DeviceUnknown = "Unknown"
)

// ModelInfo describes the model a client talks to.
type ModelInfo struct {
	Alias     string `json:"alias"`
	ModelID   string `json:"model_id"`
	Device    string `json:"device"`
	Endpoint  string `json:"endpoint"`
	Connected bool   `json:"connected"`
}

// Foundry implements Client against Foundry Local.
type Foundry struct {
	alias    string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
	status   func(ctx context.Context) (string, error) // `foundry service status` output
	explicit string

	endpointOnce sync.Once
	endpoint     string

	modelOnce sync.Once
	modelID   string
}

// NewFoundry creates a Foundry Local client. Discovery is deferred to the
// first call.
func NewFoundry(cfg Config, logger *slog.Logger) *Foundry {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "foundry-local"
	}
	return &Foundry{
		alias:    cfg.Model,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		status:   serviceStatus,
		explicit: strings.TrimRight(cfg.Endpoint, "/"),
	}
}

// Name identifies the client.
func (f *Foundry) Name() string { return ProviderFoundry }

// ── Discovery ───────────────────────────────────────────────────────────

// Endpoint returns the discovered endpoint, or "" when none was found.
func (f *Foundry) Endpoint(ctx context.Context) string {
	f.endpointOnce.Do(func() {
		f.endpoint = f.discover(ctx)
		if f.endpoint == "" {
			f.logger.Warn("⚠️ Foundry: no endpoint found")
		} else {
			f.logger.Info("🔧 Foundry: endpoint", "url", f.endpoint)
		}
	})
	return f.endpoint
}

func (f *Foundry) discover(ctx context.Context) string {
	if f.explicit != "" {
		return f.explicit
	}

	out, err := f.status(ctx)
	if err != nil {
		f.logger.Debug("Foundry: service status failed", "error", err)
		return ""
	}
	base := serviceURL.FindString(out)
	if base == "" {
		return ""
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, base+"/openai/status", nil)
	if err != nil {
		return ""
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return ""
	}
	resp.Body.Close()
	return base + "/v1"
}

func serviceStatus(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "foundry", "service", "status").CombinedOutput()
	return string(out), err
}

// ── Models ──────────────────────────────────────────────────────────────

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (f *Foundry) listModels(ctx context.Context, endpoint string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: status %d", resp.StatusCode)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	ids := make([]string, len(list.Data))
	for i, m := range list.Data {
		ids[i] = m.ID
	}
	return ids, nil
}

// matchModel picks the id for alias: exact or prefix match, else the first id.
func matchModel(alias string, ids []string) (string, bool) {
	lower := strings.ToLower(alias)
	for _, id := range ids {
		if id == alias || strings.HasPrefix(strings.ToLower(id), lower) {
			return id, true
		}
	}
	if len(ids) > 0 {
		return ids[0], true
	}
	return "", false
}

// ModelID resolves the configured alias to the full id Foundry expects.
func (f *Foundry) ModelID(ctx context.Context) string {
	f.modelOnce.Do(func() {
		f.modelID = f.alias
		endpoint := f.Endpoint(ctx)
		if endpoint == "" {
			return
		}
		ids, err := f.listModels(ctx, endpoint)
		if err != nil {
			f.logger.Debug("Foundry: model resolution failed", "error", err)
			return
		}
		if id, ok := matchModel(f.alias, ids); ok {
			f.modelID = id
		}
		f.logger.Debug("🔧 Foundry: model resolved", "alias", f.alias, "model_id", f.modelID)
	})
	return f.modelID
}

// Info reports the alias, resolved model, device and endpoint. Connected is
// true only when the endpoint answered with model data.
func (f *Foundry) Info(ctx context.Context) ModelInfo {
	info := ModelInfo{Alias: f.alias}

	endpoint := f.Endpoint(ctx)
	if endpoint == "" {
		return info
	}
	info.Endpoint = endpoint

	ids, err := f.listModels(ctx, endpoint)
	if err != nil {
		return info
	}
	if id, ok := matchModel(f.alias, ids); ok {
		info.ModelID = id
		info.Device = DeviceFromModelID(id)
		info.Connected = true
	}
	return info
}

// DeviceFromModelID infers the execution device from a Foundry model id.
func DeviceFromModelID(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "npu"):
		return DeviceNPU
	case strings.Contains(lower, "cuda-gpu"):
		return DeviceCUDAGPU
	case strings.Contains(lower, "gpu"):
		return DeviceGPU
	case strings.Contains(lower, "cpu"):
		return DeviceCPU
	}
	return DeviceUnknown
}

// ── Chat ────────────────────────────────────────────────────────────────

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate posts the conversation to /chat/completions. A missing
// endpoint and 4xx answers are permanent; retrying cannot fix them.
func (f *Foundry) Generate(ctx context.Context, msgs []Message, temperature float64, maxTokens int) (string, error) {
	endpoint := f.Endpoint(ctx)
	if endpoint == "" {
		return "", backoff.Permanent(ErrNoEndpoint)
	}

	body, err := json.Marshal(chatRequest{
		Model:       f.ModelID(ctx),
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	start := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("foundry request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("foundry returned status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse foundry response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	f.logger.Debug("✅ Foundry: response", "model", f.modelID, "took", time.Since(start))
	return parsed.Choices[0].Message.Content, nil
}
