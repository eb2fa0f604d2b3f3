package recognition

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/processors"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChat answers by inspecting the request text. reply returns the content
// for a request, or an error.
type fakeChat struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	reply    func(text string, hasImage bool) (string, error)
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	msg := req.Messages[0]
	text, hasImage := msg.Content, false
	for _, part := range msg.MultiContent {
		switch part.Type {
		case openai.ChatMessagePartTypeText:
			text = part.Text
		case openai.ChatMessagePartTypeImageURL:
			hasImage = true
		}
	}

	content, err := f.reply(text, hasImage)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
		Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

const pageJSON = "```json\n" + `{
	"elements": [
		{"id": "e1", "type": "heading", "text": "Title", "bbox": [0, 0, 10, 2], "confidence": 0.9},
		{"id": "e2", "type": "chart", "text": "Revenue", "is_chart": true, "metadata": {"chart_type": "bar"}},
		{"id": "e3", "type": "chart", "text": "Costs", "is_chart": true}
	],
	"relationships": [{"from": "e1", "to": "e2", "type": "above"}],
	"chart_count": 2
}` + "\n```"

func newTestClient(chat *fakeChat, chartDetails bool) *Client {
	logger, _ := test.NewNullLogger()
	return NewClient(chat, Options{Model: "vision", ChartDetails: chartDetails, Concurrency: 2}, logger)
}

func TestRecognizePage(t *testing.T) {
	chat := &fakeChat{reply: func(string, bool) (string, error) { return pageJSON, nil }}

	page := newTestClient(chat, false).RecognizePage(context.Background(), processors.PageInput{
		PageNumber: 2,
		ImageURL:   "data:image/png;base64,AAAA",
	})

	assert.Equal(t, 2, page.PageNumber)
	assert.Empty(t, page.Error)
	require.Len(t, page.Layout.Elements, 3)
	assert.Equal(t, 2, page.Layout.Elements[0].Page)
	require.Len(t, page.Layout.Relationships, 1)
	assert.Nil(t, page.ChartDetails)

	require.Len(t, chat.requests, 1)
	req := chat.requests[0]
	assert.Equal(t, "vision", req.Model)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	assert.Equal(t, 3000, req.MaxTokens)
	require.Len(t, req.Messages[0].MultiContent, 2)
	assert.Equal(t, "data:image/png;base64,AAAA", req.Messages[0].MultiContent[1].ImageURL.URL)
}

func TestRecognizePage_TextFallback(t *testing.T) {
	chat := &fakeChat{reply: func(text string, hasImage bool) (string, error) {
		assert.False(t, hasImage)
		assert.Contains(t, text, "embedded page text")
		return `{"elements": [], "relationships": []}`, nil
	}}

	page := newTestClient(chat, false).RecognizePage(context.Background(), processors.PageInput{
		PageNumber: 1,
		Text:       "embedded page text",
	})
	assert.Empty(t, page.Error)
	assert.Empty(t, page.Layout.Elements)
}

func TestRecognizePage_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply func(string, bool) (string, error)
	}{
		{"request error", func(string, bool) (string, error) { return "", errors.New("rate limited") }},
		{"not json", func(string, bool) (string, error) { return "I cannot read this page", nil }},
		{"elements not array", func(string, bool) (string, error) { return `{"elements": 3}`, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newTestClient(&fakeChat{reply: tt.reply}, false).RecognizePage(context.Background(), processors.PageInput{PageNumber: 4})
			assert.Equal(t, 4, page.PageNumber)
			assert.True(t, strings.HasPrefix(page.Error, "Vision extraction failed: "), page.Error)
			assert.NotNil(t, page.Layout.Elements)
			assert.Empty(t, page.Layout.Elements)
		})
	}
}

func TestRecognizePage_ChartDetails(t *testing.T) {
	chat := &fakeChat{reply: func(text string, _ bool) (string, error) {
		switch {
		case strings.Contains(text, "chart number 1"):
			return `{"chart_type": "bar", "series": []}`, nil
		case strings.Contains(text, "chart number 2"):
			return "", errors.New("timeout")
		default:
			return pageJSON, nil
		}
	}}

	page := newTestClient(chat, true).RecognizePage(context.Background(), processors.PageInput{PageNumber: 1, ImageURL: "data:x"})
	require.Len(t, page.ChartDetails, 2)

	assert.Equal(t, "bar", page.ChartDetails[0]["chart_type"])
	assert.Equal(t, 0, page.ChartDetails[0]["chart_index"])
	assert.Equal(t, "unknown", page.ChartDetails[1]["chart_type"])
	assert.Contains(t, page.ChartDetails[1]["error"], "Chart extraction failed")

	revenue := page.Layout.Elements[1]
	require.NotNil(t, revenue.Chart)
	assert.Equal(t, "bar", revenue.Chart.ChartType)
	assert.Equal(t, "bar", revenue.Chart.Details["chart_type"])
	require.NotNil(t, page.Layout.Elements[2].Chart)

	var chartTemps []float32
	for _, req := range chat.requests[1:] {
		chartTemps = append(chartTemps, req.Temperature)
	}
	assert.Equal(t, []float32{0.1, 0.1}, chartTemps)
}

func TestRecognize_SortsAndIsolatesPages(t *testing.T) {
	chat := &fakeChat{reply: func(text string, _ bool) (string, error) {
		if strings.Contains(text, "page three") {
			return "", errors.New("boom")
		}
		return `{"elements": [{"id": "x", "type": "paragraph", "text": "t"}]}`, nil
	}}

	pages, err := newTestClient(chat, false).Recognize(context.Background(), []processors.PageInput{
		{PageNumber: 3, Text: "page three"},
		{PageNumber: 1, Text: "page one"},
		{PageNumber: 2, Text: "page two"},
	})
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
	}
	assert.Len(t, pages[0].Layout.Elements, 1)
	assert.NotEmpty(t, pages[2].Error)
	assert.Equal(t, graph.EmptyPage(3, pages[2].Error), pages[2])
}

func TestRecognize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chat := &fakeChat{reply: func(string, bool) (string, error) { return `{}`, nil }}
	_, err := newTestClient(chat, false).Recognize(ctx, []processors.PageInput{{PageNumber: 1}})
	assert.ErrorIs(t, err, context.Canceled)
}
