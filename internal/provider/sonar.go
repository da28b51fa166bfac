package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/config"
	"github.com/roadmind/strategy-engine/internal/model"
	"github.com/roadmind/strategy-engine/pkg/perplexity"
)

// Sonar adapts the search-augmented backend. Its value over the
// reasoning provider is web recency, so the recency filter is chosen
// per content type.
type Sonar struct {
	cfg    config.SonarConfig
	client perplexity.Client
}

// NewSonar creates the adapter on an existing perplexity client.
func NewSonar(cfg config.SonarConfig, client perplexity.Client) *Sonar {
	return &Sonar{cfg: cfg, client: client}
}

// Name implements Adapter.
func (s *Sonar) Name() string { return "sonar" }

// Invoke implements Adapter.
func (s *Sonar) Invoke(ctx context.Context, req Request) (res model.ProviderResult) {
	res, start := begin(s.Name(), req.ContentType)
	defer func() { finish(&res, start, recover()) }()

	budget := req.Budget
	if budget <= 0 {
		budget = time.Duration(s.cfg.TimeoutSecs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	resp, err := s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []perplexity.Message{
			{Role: "user", Content: req.Prompt},
		},
		SearchRecencyFilter: recencyFor(req.ContentType),
	})
	if err != nil {
		classify(&res, err)
		zap.L().Warn("provider call failed",
			zap.String("provider", s.Name()),
			zap.String("content_type", string(req.ContentType)),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(err),
		)
		return res
	}
	if len(resp.Choices) == 0 {
		res.Outcome = model.OutcomeError
		res.Diagnostic = "empty completion"
		return res
	}

	accept(&res, req.ContentType, resp.Choices[0].Message.Content)
	return res
}

// recencyFor narrows the web search window: news must be fresh, venue
// and strategy context can look further back.
func recencyFor(ct model.ContentType) string {
	switch ct {
	case model.ContentNews:
		return "day"
	case model.ContentVenues:
		return "week"
	default:
		return "month"
	}
}
