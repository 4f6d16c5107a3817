package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/metrics"
	"github.com/becomeliminal/nim-recall/tools"
)

const analyzePrompt = `You decide what a shopping assistant should remember about its users.
Score the user's message by calling the tool. Greetings, thanks and small talk score below 0.3.
Preferences, personal facts and recurring needs score between 0.4 and 0.7.
Complaints, problems with orders and explicit requests to remember something score above 0.7.`

const patternsPrompt = `You study a user's message history, oldest first, and record recurring behaviour by calling the tool.
Only report labels that appear in more than one message.`

// DefaultModel is used when ClaudeConfig.Model is empty.
const DefaultModel = "claude-haiku-4-5"

// ClaudeConfig configures the Claude analyzer.
type ClaudeConfig struct {
	Model     string        `yaml:"model"`
	MaxTokens int64         `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Claude classifies text with the Anthropic Messages API. The model is
// forced to answer through a tool whose input schema defines the result.
type Claude struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClaude creates a Claude analyzer.
func NewClaude(client *anthropic.Client, cfg ClaudeConfig, m *metrics.Metrics) *Claude {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Claude{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		metrics:   m,
		logger:    logging.Module("analysis"),
	}
}

// Analyze implements Analyzer.
func (c *Claude) Analyze(ctx context.Context, text string) (Analysis, error) {
	var out Analysis
	if err := c.call(ctx, "analyze", tools.MessageAnalysisDefinition(), analyzePrompt, text, &out); err != nil {
		return Analysis{}, err
	}
	out.Normalize()
	return out, nil
}

// ExtractPatterns implements Analyzer.
func (c *Claude) ExtractPatterns(ctx context.Context, messages []string) (Patterns, error) {
	if len(messages) == 0 {
		return Patterns{}, nil
	}

	var b strings.Builder
	for i, m := range messages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m)
	}

	var out struct {
		Topics      map[string]float64 `json:"topics"`
		ActiveHours map[string]float64 `json:"active_hours"`
		Style       map[string]float64 `json:"style"`
		Interests   map[string]float64 `json:"interests"`
	}
	if err := c.call(ctx, "patterns", tools.BehaviorPatternsDefinition(), patternsPrompt, b.String(), &out); err != nil {
		return nil, err
	}

	return Patterns{
		CategoryTopics:      out.Topics,
		CategoryActiveHours: out.ActiveHours,
		CategoryStyle:       out.Style,
		CategoryInterests:   out.Interests,
	}.Normalize(), nil
}

// call sends text with def as the only allowed tool and decodes the tool
// input into out.
func (c *Claude) call(ctx context.Context, kind string, def tools.Definition, system, text string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
		Tools:      []anthropic.ToolUnionParam{def.ToAPITool()},
		ToolChoice: def.ForcedChoice(),
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.metrics.Classification(kind, "error")
		return errors.Join(core.ErrClassificationUnavailable, fmt.Errorf("claude API error: %w", err))
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != def.Name {
			continue
		}
		if err := json.Unmarshal(block.Input, out); err != nil {
			c.metrics.Classification(kind, "invalid")
			c.logger.Warn("[ANALYSIS] Invalid tool input", "tool", def.Name, "error", err)
			return fmt.Errorf("%w: invalid %s input: %v", core.ErrClassificationUnavailable, def.Name, err)
		}
		c.metrics.Classification(kind, "ok")
		return nil
	}

	c.metrics.Classification(kind, "invalid")
	return fmt.Errorf("%w: model did not call %s", core.ErrClassificationUnavailable, def.Name)
}
