// Package explain produces a natural-language explanation of an analyzed
// interaction using the Anthropic Messages API.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/pkg/anthropic"
)

const (
	defaultModel     = "claude-haiku-4-5"
	defaultMaxTokens = 1024
)

const systemPrompt = `You explain blockchain interactions to end users before they sign or after they broadcast.
You receive structured facts produced by a decoder: the input kind, the decoded call or typed-data message,
a detected behavior, risk flags, and predicted asset movements.

Reply with a single JSON object and nothing else:
{
  "summary": "one or two plain sentences describing what happens",
  "risk_level": "critical | high | medium | low",
  "risk_reasons": ["short reason", "..."],
  "actions": [
    {"type": "transfer | approve | swap | wrap | unwrap | sign | call", "description": "...",
     "assets": [{"token": "address or native", "amount": "decimal string", "direction": "in | out"}]}
  ]
}

Rules:
- Use only the facts given. Do not invent tokens, amounts or counterparties.
- Copy token addresses and amounts exactly as they appear in the facts.
- Direction is relative to the account that signs or sends.
- Omit risk_reasons when nothing is risky.`

// Request carries the facts the explanation is built from.
type Request struct {
	ChainID   int64
	Kind      model.InputKind
	Tx        *model.TxContext
	Decoded   *model.DecodedCall
	TypedData *model.DecodedTypedData
	Behavior  *model.Behavior
	Risk      model.RiskFlags
	Assets    model.PredictedAssets
	Language  string
}

// Config tunes the explanation call.
type Config struct {
	Model     string
	MaxTokens int64
	// CacheTTL is the prompt cache lifetime for the system prompt ("5m" or "1h").
	CacheTTL string
}

// Explainer turns analysis facts into an Explanation.
type Explainer struct {
	client anthropic.Client
	cfg    Config
}

// New creates an Explainer. Zero config fields fall back to defaults.
func New(client anthropic.Client, cfg Config) *Explainer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Explainer{client: client, cfg: cfg}
}

// ParseLanguage validates a BCP 47 language tag. Empty means English.
func ParseLanguage(s string) (language.Tag, error) {
	if strings.TrimSpace(s) == "" {
		return language.English, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, eris.Wrapf(err, "explain: invalid language %q", s)
	}
	return tag, nil
}

// LanguageName returns the English name of a language tag, e.g. "French".
func LanguageName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

// Explain asks the model for an explanation of req.
func (e *Explainer) Explain(ctx context.Context, req Request) (*model.Explanation, error) {
	tag, err := ParseLanguage(req.Language)
	if err != nil {
		return nil, err
	}

	prompt, err := buildPrompt(req, tag)
	if err != nil {
		return nil, err
	}

	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      anthropic.CachedSystem(systemPrompt, e.cfg.CacheTTL),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "explain: create message")
	}
	resp.Usage.LogCost(e.cfg.Model, "explain")

	out, err := parseExplanation(resp.Text())
	if err != nil {
		zap.L().Warn("explain: unparseable response",
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, err
	}

	out.Language = tag.String()
	out.Model = resp.Model
	if out.Model == "" {
		out.Model = e.cfg.Model
	}
	out.CostUSD = resp.Usage.EstimateCost(out.Model)
	return out, nil
}

type facts struct {
	ChainID   int64                   `json:"chain_id"`
	Kind      model.InputKind         `json:"kind"`
	Tx        *model.TxContext        `json:"transaction,omitempty"`
	Decoded   *model.DecodedCall      `json:"decoded_call,omitempty"`
	TypedData *model.DecodedTypedData `json:"typed_data,omitempty"`
	Behavior  *model.Behavior         `json:"behavior,omitempty"`
	Risk      model.RiskFlags         `json:"risk_flags,omitempty"`
	Assets    model.PredictedAssets   `json:"predicted_assets,omitempty"`
}

func buildPrompt(req Request, tag language.Tag) (string, error) {
	body, err := json.MarshalIndent(facts{
		ChainID:   req.ChainID,
		Kind:      req.Kind,
		Tx:        req.Tx,
		Decoded:   req.Decoded,
		TypedData: req.TypedData,
		Behavior:  req.Behavior,
		Risk:      req.Risk,
		Assets:    req.Assets,
	}, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "explain: marshal facts")
	}

	var b strings.Builder
	b.WriteString("Facts:\n")
	b.Write(body)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Write summary, risk_reasons and action descriptions in %s (%s). Keep JSON keys and enum values in English.",
		LanguageName(tag), tag.String())
	return b.String(), nil
}

// parseExplanation extracts the JSON object from a model reply.
func parseExplanation(text string) (*model.Explanation, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("explain: empty response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.UseNumber()
	var out model.Explanation
	if err := dec.Decode(&out); err != nil {
		return nil, eris.Wrap(err, "explain: parse response json")
	}
	if strings.TrimSpace(out.Summary) == "" {
		return nil, eris.New("explain: response has no summary")
	}
	return &out, nil
}

// cleanJSON strips markdown code fences and surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}
