package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
)

type stubClient struct {
	resp *CompletionResponse
	err  error
	got  *CompletionRequest
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	s.got = req
	return s.resp, s.err
}

func TestAlternate(t *testing.T) {
	got := alternate([]ChatMessage{
		{Role: RoleAssistant, Content: "leading bot turn"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "  "},
		{Role: RoleAssistant, Content: "c"},
	})
	want := []ChatMessage{
		{Role: RoleUser, Content: "a\n\nb"},
		{Role: RoleAssistant, Content: "c"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGuideResponderReply(t *testing.T) {
	client := &stubClient{resp: &CompletionResponse{Content: "  Visit the fortress hill.  ", Model: "stub-1"}}
	g := NewGuideResponder(client, "stub-1", logger.Nop())

	reply, err := g.Reply(context.Background(), &model.GuideRequest{
		Message:  "Sunset spot?",
		Location: model.Coords{Latitude: 46.77, Longitude: 23.59},
		History: []model.ChatMessage{
			{Role: model.RoleUser, Text: "Hi"},
			{Role: model.RoleBot, Type: model.MessageTypeMap, MapItems: []model.MapItem{{LandmarkName: "Cetatuia"}}},
		},
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.Text != "Visit the fortress hill." {
		t.Errorf("Text = %q", reply.Text)
	}

	req := client.got
	if req.Model != "stub-1" || !strings.Contains(req.System, "46.77000") {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 3 || req.Messages[1].Role != RoleAssistant || req.Messages[1].Content != "Places: Cetatuia" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if last := req.Messages[2]; last.Role != RoleUser || last.Content != "Sunset spot?" {
		t.Errorf("last message = %+v", last)
	}
	if g.Name() != "llm:stub" {
		t.Errorf("Name = %q", g.Name())
	}
}

func TestGuideResponderError(t *testing.T) {
	boom := errors.New("rate limited")
	g := NewGuideResponder(&stubClient{err: boom}, "", logger.Nop())

	if _, err := g.Reply(context.Background(), &model.GuideRequest{Message: "hi"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(ProviderAnthropic, ""); err == nil {
		t.Error("anthropic without key should fail")
	}
	if _, err := NewClient(ProviderOpenAI, ""); err == nil {
		t.Error("openai without key should fail")
	}
	if _, err := NewClient("mystery", "key"); err == nil {
		t.Error("unknown provider should fail")
	}
}
