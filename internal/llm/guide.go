package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
	"github.com/tripmate/tripmate-sync/pkg/metrics"
)

const guidePrompt = `You are a friendly local travel guide. The traveller is near latitude %.5f, longitude %.5f.
Answer briefly, recommend concrete places and mention opening hours or tickets when you know them.`

// GuideResponder answers guide conversations with an LLM.
type GuideResponder struct {
	client Client
	model  string
	logger *logger.Logger
}

// NewGuideResponder creates a guide responder backed by client.
func NewGuideResponder(client Client, modelName string, log *logger.Logger) *GuideResponder {
	return &GuideResponder{
		client: client,
		model:  modelName,
		logger: log.With(zap.String("llm_provider", client.Name())),
	}
}

// Name returns the responder name used in metrics.
func (g *GuideResponder) Name() string {
	return "llm:" + g.client.Name()
}

// Reply completes the conversation in req.History followed by req.Message.
func (g *GuideResponder) Reply(ctx context.Context, req *model.GuideRequest) (*model.GuideReply, error) {
	msgs := make([]ChatMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		if text := messageText(m); text != "" {
			msgs = append(msgs, ChatMessage{Role: role(m.Role), Content: text})
		}
	}
	msgs = append(msgs, ChatMessage{Role: RoleUser, Content: req.Message})

	resp, err := g.client.Complete(ctx, &CompletionRequest{
		Model:    g.model,
		System:   fmt.Sprintf(guidePrompt, req.Location.Latitude, req.Location.Longitude),
		Messages: msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion failed: %w", g.client.Name(), err)
	}

	metrics.RecordLLM(resp.Model, resp.TokensIn, resp.TokensOut)
	g.logger.Debug("guide completion",
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	return &model.GuideReply{Text: strings.TrimSpace(resp.Content)}, nil
}

func role(r model.Role) string {
	if r == model.RoleBot {
		return RoleAssistant
	}
	return RoleUser
}

// messageText flattens rich messages into something a model can read.
func messageText(m model.ChatMessage) string {
	switch {
	case m.Text != "":
		return m.Text
	case m.Card != nil:
		return strings.TrimSpace(m.Card.Title + "\n" + m.Card.Description)
	case len(m.MapItems) > 0:
		names := make([]string, 0, len(m.MapItems))
		for _, item := range m.MapItems {
			names = append(names, item.LandmarkName)
		}
		return "Places: " + strings.Join(names, ", ")
	}
	return ""
}
