package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/embedding"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	content string
	err     error
	last    openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

func wireGraph(t *testing.T, paragraphs int) *graph.WireGraph {
	t.Helper()
	logger, _ := test.NewNullLogger()

	elements := make([]graph.Element, 0, paragraphs)
	for i := 0; i < paragraphs; i++ {
		elements = append(elements, graph.Element{
			ID:         fmt.Sprintf("e%d", i),
			Type:       graph.ElementParagraph,
			Text:       strings.Repeat(fmt.Sprintf("paragraph %d text ", i), 10),
			Confidence: 1,
		})
	}
	g, err := graph.NewBuilder(embedding.NewHashEmbedder(32), logger).Build(context.Background(), []graph.PageLayout{{
		PageNumber: 1,
		Layout:     graph.Layout{Elements: elements},
	}}, "doc-1")
	require.NoError(t, err)
	return graph.ToWireFormat(g)
}

func newTestClient(chat *fakeChat, budget int) *Client {
	logger, _ := test.NewNullLogger()
	return NewClient(chat, Options{Model: "processor", TokenBudget: budget, Counter: ApproxTokens}, logger)
}

func TestSummarize(t *testing.T) {
	chat := &fakeChat{content: "```json\n{\"summary\": \"A report\", \"key_topics\": [\"sales\"]}\n```"}

	out, err := newTestClient(chat, 0).Summarize(context.Background(), wireGraph(t, 3))
	require.NoError(t, err)
	assert.Equal(t, "A report", out["summary"])
	assert.Equal(t, []any{"sales"}, out["key_topics"])

	require.Len(t, chat.last.Messages, 2)
	assert.Equal(t, summarySystem, chat.last.Messages[0].Content)
	assert.Contains(t, chat.last.Messages[1].Content, `"p1_e2"`)
	assert.InDelta(t, 0.3, chat.last.Temperature, 1e-6)
	assert.Equal(t, "processor", chat.last.Model)
}

func TestSummarize_Errors(t *testing.T) {
	_, err := newTestClient(&fakeChat{}, 0).Summarize(context.Background(), &graph.WireGraph{DocumentID: "empty"})
	assert.ErrorIs(t, err, ErrEmptyGraph)

	_, err = newTestClient(&fakeChat{err: errors.New("upstream down")}, 0).Summarize(context.Background(), wireGraph(t, 1))
	assert.ErrorContains(t, err, "upstream down")

	_, err = newTestClient(&fakeChat{content: "not json"}, 0).Summarize(context.Background(), wireGraph(t, 1))
	assert.Error(t, err)

	_, err = newTestClient(&fakeChat{content: "[1, 2]"}, 0).Summarize(context.Background(), wireGraph(t, 1))
	assert.Error(t, err)
}

func TestFit_CompactsOverBudget(t *testing.T) {
	g := wireGraph(t, 40)
	c := newTestClient(&fakeChat{}, 0)

	full, err := c.fit(g)
	require.NoError(t, err)
	assert.Contains(t, full, `"edges"`)
	assert.NotContains(t, full, `"truncated"`)

	c.opts.TokenBudget = ApproxTokens(full) / 4
	small, err := c.fit(g)
	require.NoError(t, err)
	assert.Contains(t, small, `"truncated":true`)
	assert.NotContains(t, small, `"edges"`)
	assert.Contains(t, small, `"p1_e0"`)
	assert.LessOrEqual(t, ApproxTokens(small), c.opts.TokenBudget)

	c.opts.TokenBudget = 1
	tiny, err := c.fit(g)
	require.NoError(t, err)
	assert.Contains(t, tiny, `"p1_e0"`)
	assert.NotContains(t, tiny, `"p1_e2"`)
}

func TestAnswer(t *testing.T) {
	chat := &fakeChat{content: `{"relevant_elements": ["p1_e0"], "answer": "Yes", "supporting_text": "paragraph 0", "confidence": 0.8}`}

	out, err := newTestClient(chat, 0).Answer(context.Background(), "Is there a paragraph?", wireGraph(t, 2))
	require.NoError(t, err)
	assert.Equal(t, "Yes", out["answer"])
	assert.Contains(t, chat.last.Messages[1].Content, "Is there a paragraph?")
	assert.Equal(t, answerSystem, chat.last.Messages[0].Content)

	_, err = newTestClient(&fakeChat{err: errors.New("nope")}, 0).Answer(context.Background(), "q", wireGraph(t, 1))
	assert.ErrorContains(t, err, "context retrieval failed")
}

func TestDegraded(t *testing.T) {
	d := Degraded("timeout")
	assert.Equal(t, "Processing failed: timeout", d["summary"])
	for _, key := range []string{"key_topics", "main_points", "data_insights", "semantic_relationships"} {
		assert.Equal(t, []any{}, d[key], key)
	}
	assert.Equal(t, map[string]any{"error": "timeout"}, d["metadata"])
}

func TestAnnotate(t *testing.T) {
	d := map[string]any{}
	Annotate(d, 1234567*time.Microsecond, time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)))
	assert.Equal(t, 1.23, d["generation_time_seconds"])
	assert.Equal(t, "2024-03-01T11:00:00Z", d["generated_at"])
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 1, ApproxTokens("abc"))
	assert.Equal(t, 2, ApproxTokens("abcde"))
}
