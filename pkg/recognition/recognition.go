// Package recognition sends document pages to a vision model and turns its
// answers into page layouts.
package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/metrics"
	"github.com/athapong/docgraph/pkg/graph/processors"
	"github.com/athapong/docgraph/services"
	"github.com/athapong/docgraph/util"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	layoutTemperature = 0.2
	chartTemperature  = 0.1
	maxTokens         = 3000
)

// Options configures a Client.
type Options struct {
	Model        string
	ChartDetails bool
	// Concurrency bounds simultaneous page requests.
	Concurrency int
}

// Client runs layout recognition against an OpenAI compatible chat API.
type Client struct {
	chat   services.ChatCompleter
	opts   Options
	logger *logrus.Logger
}

func NewClient(chat services.ChatCompleter, opts Options, logger *logrus.Logger) *Client {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Client{chat: chat, opts: opts, logger: logger}
}

// Recognize processes pages concurrently and returns their layouts sorted by
// page number. A page that fails is returned empty with its Error set; only
// cancellation of ctx fails the whole call.
func (c *Client) Recognize(ctx context.Context, pages []processors.PageInput) ([]graph.PageLayout, error) {
	results := make([]graph.PageLayout, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.RecognizePage(gctx, page)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].PageNumber < results[j].PageNumber
	})
	return results, nil
}

// RecognizePage extracts the layout of one page. It never fails: errors are
// recorded on the returned page, which then has no elements.
func (c *Client) RecognizePage(ctx context.Context, page processors.PageInput) graph.PageLayout {
	start := time.Now()
	log := c.logger.WithField("page", page.PageNumber)

	content, err := c.complete(ctx, "recognition", layoutTemperature, c.pageMessage(layoutPrompt, page))
	if err != nil {
		return c.failed(log, page.PageNumber, err)
	}

	raw := util.ExtractJSON(content)
	layout, err := graph.ParseLayout(page.PageNumber, []byte(raw))
	if err != nil {
		return c.failed(log, page.PageNumber, err)
	}

	result := graph.PageLayout{PageNumber: page.PageNumber, Layout: layout}
	if c.opts.ChartDetails {
		result.ChartDetails = c.chartDetails(ctx, page, &result.Layout, int(gjson.Get(raw, "chart_count").Int()))
	}

	metrics.RecognitionPages.WithLabelValues("ok").Inc()
	log.WithFields(logrus.Fields{
		"elements": len(layout.Elements),
		"duration": time.Since(start).String(),
	}).Debug("Page recognized")
	return result
}

func (c *Client) failed(log *logrus.Entry, pageNumber int, err error) graph.PageLayout {
	metrics.RecognitionPages.WithLabelValues("failed").Inc()
	log.WithError(err).Warn("Vision extraction failed")
	return graph.EmptyPage(pageNumber, fmt.Sprintf("Vision extraction failed: %v", err))
}

// chartDetails asks for the data behind each chart on the page, up to
// chartCount when the model reported one. Results are attached to the chart
// elements and also returned in page order.
func (c *Client) chartDetails(ctx context.Context, page processors.PageInput, layout *graph.Layout, chartCount int) []map[string]any {
	var charts []int
	for i, el := range layout.Elements {
		if el.IsChart || el.Type == graph.ElementChart {
			charts = append(charts, i)
		}
	}
	if chartCount > 0 && chartCount < len(charts) {
		charts = charts[:chartCount]
	}

	var details []map[string]any
	for n, idx := range charts {
		if ctx.Err() != nil {
			break
		}
		d := c.chartDetail(ctx, page, n+1)
		d["chart_index"] = n

		el := &layout.Elements[idx]
		if el.Chart == nil {
			el.Chart = &graph.ChartMetadata{}
		}
		el.Chart.Details = d
		details = append(details, d)
	}
	return details
}

func (c *Client) chartDetail(ctx context.Context, page processors.PageInput, number int) map[string]any {
	content, err := c.complete(ctx, "chart", chartTemperature, c.pageMessage(fmt.Sprintf(chartPrompt, number), page))
	if err == nil {
		var d map[string]any
		if err = json.Unmarshal([]byte(util.ExtractJSON(content)), &d); err == nil && d != nil {
			return d
		}
		if err == nil {
			err = errors.New("chart response is not an object")
		}
	}

	c.logger.WithError(err).WithFields(logrus.Fields{
		"page":  page.PageNumber,
		"chart": number,
	}).Warn("Chart extraction failed")
	return map[string]any{
		"error":      fmt.Sprintf("Chart extraction failed: %v", err),
		"chart_type": "unknown",
	}
}

// pageMessage attaches the page image when there is one and falls back to
// the page's extracted text otherwise.
func (c *Client) pageMessage(prompt string, page processors.PageInput) openai.ChatCompletionMessage {
	if page.ImageURL == "" {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt + "\n\n" + textPagePrompt + "\n\n" + page.Text,
		}
	}

	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    page.ImageURL,
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	}
}

func (c *Client) complete(ctx context.Context, purpose string, temperature float32, msg openai.ChatCompletionMessage) (string, error) {
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    []openai.ChatCompletionMessage{msg},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", errors.Wrap(err, "vision request")
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
	}).Info("Vision usage")

	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from vision model")
	}
	return resp.Choices[0].Message.Content, nil
}
