package translator

import (
	"context"
	"fmt"
	"log/slog"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

// DeviceCloud is reported for hosted providers.
const DeviceCloud = "cloud"

// NewClient builds the Client for cfg.Provider.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (Client, error) {
	cfg = cfg.withDefaults()
	switch cfg.Provider {
	case ProviderMock:
		return NewMock(), nil
	case ProviderFoundry:
		return NewFoundry(cfg, logger), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg, logger)
	case ProviderAnthropic:
		return NewAnthropic(cfg, logger)
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// Info reports which model a client talks to. Hosted providers are asked
// for the model's metadata; Connected reflects whether that succeeded.
func Info(ctx context.Context, c Client) ModelInfo {
	switch cl := c.(type) {
	case *Foundry:
		return cl.Info(ctx)
	case *Gemini:
		info := ModelInfo{Alias: cl.model, Device: DeviceCloud, Endpoint: "generativelanguage.googleapis.com"}
		if m, err := cl.client.Models.Get(ctx, cl.model, nil); err == nil {
			info.ModelID, info.Connected = m.Name, true
		}
		return info
	case *Anthropic:
		info := ModelInfo{Alias: string(cl.model), Device: DeviceCloud, Endpoint: "api.anthropic.com"}
		if m, err := cl.client.Models.Get(ctx, string(cl.model), anthropic.ModelGetParams{}); err == nil {
			info.ModelID, info.Connected = m.ID, true
		}
		return info
	}
	return ModelInfo{Alias: c.Name()}
}
