// Package summarize asks an LLM for a structured summary of a document
// graph and answers questions against it.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/metrics"
	"github.com/athapong/docgraph/services"
	"github.com/athapong/docgraph/util"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// ErrEmptyGraph is returned when there is nothing to summarize.
var ErrEmptyGraph = errors.New("graph has no nodes")

const (
	summarySystem = "You are a document analysis expert. Always return valid JSON."
	answerSystem  = "You are a document Q&A assistant. Return valid JSON."

	summaryTemperature = 0.3
	answerTemperature  = 0.2
	summaryMaxTokens   = 3000
	answerMaxTokens    = 1500
)

// Options configures a Client.
type Options struct {
	Model string
	// TokenBudget caps the prompt size of the graph payload; 0 means no cap.
	TokenBudget int
	// Counter measures prompt size. Defaults to a cl100k_base tokenizer.
	Counter TokenCounter
}

// Client talks to the processing model.
type Client struct {
	chat    services.ChatCompleter
	opts    Options
	logger  *logrus.Logger
	counter TokenCounter
}

func NewClient(chat services.ChatCompleter, opts Options, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	counter := opts.Counter
	if counter == nil {
		counter = NewTiktokenCounter(logger)
	}
	return &Client{chat: chat, opts: opts, logger: logger, counter: counter}
}

// Summarize returns the model's JSON summary of g. Callers substitute
// Degraded when it fails.
func (c *Client) Summarize(ctx context.Context, g *graph.WireGraph) (map[string]any, error) {
	if g == nil || len(g.Nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	payload, err := c.fit(g)
	if err != nil {
		return nil, err
	}

	out, err := c.ask(ctx, "summary", summarySystem, fmt.Sprintf(summaryPrompt, payload), summaryTemperature, summaryMaxTokens)
	if err != nil {
		return nil, errors.Wrap(err, "summarize")
	}
	return out, nil
}

// Answer answers query from the graph. The result carries
// relevant_elements, answer, supporting_text and confidence.
func (c *Client) Answer(ctx context.Context, query string, g *graph.WireGraph) (map[string]any, error) {
	if g == nil || len(g.Nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	payload, err := c.fit(g)
	if err != nil {
		return nil, err
	}

	out, err := c.ask(ctx, "answer", answerSystem, fmt.Sprintf(answerPrompt, query, payload), answerTemperature, answerMaxTokens)
	if err != nil {
		return nil, errors.Wrap(err, "context retrieval failed")
	}
	return out, nil
}

func (c *Client) ask(ctx context.Context, purpose, system, prompt string, temperature float32, maxTokens int) (map[string]any, error) {
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}

	usage := services.UsageOf(resp)
	metrics.LLMTokens.WithLabelValues(purpose, "prompt").Add(float64(usage.Prompt))
	metrics.LLMTokens.WithLabelValues(purpose, "completion").Add(float64(usage.Completion))
	c.logger.WithFields(logrus.Fields{
		"purpose":           purpose,
		"model":             c.opts.Model,
		"prompt_tokens":     usage.Prompt,
		"completion_tokens": usage.Completion,
		"total_tokens":      usage.Total,
	}).Info("Processing usage")

	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response from processing model")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(util.ExtractJSON(resp.Choices[0].Message.Content)), &out); err != nil {
		return nil, errors.Wrap(err, "decode model response")
	}
	if out == nil {
		return nil, errors.New("model response is not a JSON object")
	}
	return out, nil
}

// Degraded is the summary used when summarization fails. It has the same
// keys as a model summary with empty lists.
func Degraded(reason string) map[string]any {
	return map[string]any{
		"summary":                "Processing failed: " + reason,
		"key_topics":             []any{},
		"main_points":            []any{},
		"data_insights":          []any{},
		"semantic_relationships": []any{},
		"metadata":               map[string]any{"error": reason},
	}
}

// Annotate stamps a summary with how long generation took and when it
// finished.
func Annotate(summary map[string]any, elapsed time.Duration, now time.Time) {
	summary["generation_time_seconds"] = math.Round(elapsed.Seconds()*100) / 100
	summary["generated_at"] = now.UTC().Format(time.RFC3339)
}
