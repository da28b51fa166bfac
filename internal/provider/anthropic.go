package provider

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/config"
	"github.com/roadmind/strategy-engine/internal/model"
)

// messageCreator is the slice of the Anthropic SDK the adapter uses.
type messageCreator interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic adapts the reasoning-oriented backend. It is stateless:
// each Invoke is one outbound call with its own timeout budget.
type Anthropic struct {
	cfg      config.AnthropicConfig
	messages messageCreator
}

// NewAnthropic creates the adapter backed by the official SDK.
func NewAnthropic(cfg config.AnthropicConfig) *Anthropic {
	client := sdk.NewClient(option.WithAPIKey(cfg.Key))
	return &Anthropic{cfg: cfg, messages: &client.Messages}
}

// newAnthropicWith injects a message creator for tests.
func newAnthropicWith(cfg config.AnthropicConfig, mc messageCreator) *Anthropic {
	return &Anthropic{cfg: cfg, messages: mc}
}

// Name implements Adapter.
func (a *Anthropic) Name() string { return "anthropic" }

// Invoke implements Adapter. All failure modes land in the result's
// outcome; it never returns an error or panics to the caller.
func (a *Anthropic) Invoke(ctx context.Context, req Request) (res model.ProviderResult) {
	res, start := begin(a.Name(), req.ContentType)
	defer func() { finish(&res, start, recover()) }()

	budget := req.Budget
	if budget <= 0 {
		budget = time.Duration(a.cfg.TimeoutSecs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	msg, err := a.messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.MaxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		classify(&res, err)
		zap.L().Warn("provider call failed",
			zap.String("provider", a.Name()),
			zap.String("content_type", string(req.ContentType)),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(err),
		)
		return res
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	accept(&res, req.ContentType, text.String())
	return res
}
