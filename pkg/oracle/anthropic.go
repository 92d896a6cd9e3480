package oracle

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/resilience"
)

// Config tunes the Anthropic-backed oracle.
type Config struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	TimeoutMS int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Retries   int     `yaml:"retries" mapstructure:"retries"`
	RPS       float64 `yaml:"rps" mapstructure:"rps"`
}

// DefaultConfig returns the standard oracle tuning.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-haiku-4-5-20251001",
		TimeoutMS: 30_000,
		Retries:   2,
		RPS:       2,
	}
}

// modelPricing holds per-million-token pricing (input, output USD).
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

const systemPrompt = `你是建设工程造价审计助手。根据给出的材料名称、规格型号、计量单位、地区和价格期，
估计该材料的市场单价区间（人民币，含税）。只输出一个 JSON 对象，不要输出其他文字：
{"min": <下限>, "avg": <平均>, "max": <上限>, "confidence": <0到1的置信度>}`

// AnthropicOracle implements PriceOracle on the official SDK with a rate
// limiter, per-call timeout, bounded retries, and a circuit breaker.
type AnthropicOracle struct {
	cfg     Config
	client  sdk.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

var _ PriceOracle = (*AnthropicOracle)(nil)

// NewAnthropic creates an oracle backed by the Anthropic API.
func NewAnthropic(cfg Config) *AnthropicOracle {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = def.TimeoutMS
	}
	if cfg.Retries < 0 {
		cfg.Retries = def.Retries
	}
	if cfg.RPS <= 0 {
		cfg.RPS = def.RPS
	}
	return &AnthropicOracle{
		cfg:     cfg,
		client:  sdk.NewClient(option.WithAPIKey(cfg.Key)),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

// Predict asks the model for a price band. Errors carry KindOracle so the
// evaluator can fall back to reference-price-only reasonability.
func (o *AnthropicOracle) Predict(ctx context.Context, q Query) (*Prediction, error) {
	started := time.Now()

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    o.cfg.Retries + 1,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     4.0,
		ShouldRetry:    func(err error) bool { return !eris.Is(err, resilience.ErrCircuitOpen) },
		OnRetry:        resilience.RetryLogger("oracle", "predict"),
	}

	pred, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Prediction, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var p *Prediction
		err := o.breaker.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			p, callErr = o.callOnce(ctx, q)
			return callErr
		})
		return p, err
	})
	if err != nil {
		return nil, model.NewError(model.KindOracle, eris.Wrap(err, "oracle: predict"))
	}

	pred.Elapsed = time.Since(started)
	zap.L().Debug("oracle: prediction",
		zap.String("material", q.Name),
		zap.String("model", pred.ModelID),
		zap.Float64("confidence", pred.Confidence),
		zap.Duration("elapsed", pred.Elapsed),
	)
	return pred, nil
}

func (o *AnthropicOracle) callOnce(ctx context.Context, q Query) (*Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	msg, err := o.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(o.cfg.Model),
		MaxTokens: 256,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt(q))),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "oracle: create message")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	pred, err := parseBand(text)
	if err != nil {
		return nil, err
	}
	pred.ModelID = o.cfg.Model
	pred.CostUSD = estimateCost(o.cfg.Model, msg.Usage.InputTokens, msg.Usage.OutputTokens)
	return pred, nil
}

func userPrompt(q Query) string {
	var b strings.Builder
	b.WriteString("材料名称: " + q.Name + "\n")
	b.WriteString("规格型号: " + q.Specification + "\n")
	b.WriteString("计量单位: " + q.Unit + "\n")
	b.WriteString("地区: " + q.RegionLabel + "\n")
	b.WriteString("价格期: " + q.PriceDate + "\n")
	return b.String()
}

// parseBand extracts the JSON band object from a model reply, tolerating
// surrounding prose or markdown fences.
func parseBand(text string) (*Prediction, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("oracle: no JSON object in reply: %.80s", text)
	}

	var raw struct {
		Min        float64 `json:"min"`
		Avg        float64 `json:"avg"`
		Max        float64 `json:"max"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "oracle: parse band")
	}
	if raw.Min <= 0 || raw.Max < raw.Min {
		return nil, eris.Errorf("oracle: malformed band [%v, %v, %v]", raw.Min, raw.Avg, raw.Max)
	}
	if raw.Avg <= 0 {
		raw.Avg = (raw.Min + raw.Max) / 2
	}
	if raw.Confidence < 0 {
		raw.Confidence = 0
	}
	if raw.Confidence > 1 {
		raw.Confidence = 1
	}

	return &Prediction{
		Band: model.PriceBand{
			Min: decimal.NewFromFloat(raw.Min),
			Avg: decimal.NewFromFloat(raw.Avg),
			Max: decimal.NewFromFloat(raw.Max),
		},
		Confidence: raw.Confidence,
	}, nil
}

func estimateCost(modelID string, in, out int64) float64 {
	pricing, ok := modelPricing[modelID]
	if !ok {
		return 0
	}
	return float64(in)/1e6*pricing[0] + float64(out)/1e6*pricing[1]
}
