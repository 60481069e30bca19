// Package predictor estimates the remaining lifespan of a device by asking a
// vision-capable chat model about its photo.
package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ecosort/apiserver/types"
	"go.uber.org/zap"
)

// Fallback values returned whenever the model call cannot produce a usable answer.
const (
	FallbackLifespan = "Unknown"
	FallbackAnalysis = "Unable to analyze the device properly. Please try again with a clearer image."
)

const (
	DefaultMaxTokens = 500
	DefaultTimeout   = 60 * time.Second

	systemPrompt = "You are an expert in electronic devices who can analyze images to predict remaining lifespan."
)

var dataURIPrefix = regexp.MustCompile(`^data:image/[\w.+-]+;base64,`)

// ErrMalformedReply is returned when the model reply is not the expected JSON object.
var ErrMalformedReply = errors.New("malformed model reply")

// Request is a single multimodal prompt.
type Request struct {
	SystemPrompt string
	Prompt       string
	// ImageBase64 is the raw base64 payload without a data URI prefix.
	ImageBase64 string
	ImageMIME   string
	MaxTokens   int
}

// Model sends a prompt with one image and returns the text of the reply.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

// Prediction is the outcome of a lifespan prediction. When Fallback is set the
// text fields hold the fixed fallback values and Err records why.
type Prediction struct {
	RemainingLifespan string
	Analysis          string
	Fallback          bool
	Err               error
}

// Predictor estimates device lifespan. It never returns an error: upstream
// failures are folded into a fallback Prediction.
type Predictor interface {
	Predict(ctx context.Context, image string, classification types.Classification) Prediction
}

// LifespanPredictor builds the lifespan prompt and interprets the model reply.
type LifespanPredictor struct {
	model     Model
	logger    *zap.Logger
	maxTokens int
	timeout   time.Duration
}

// NewLifespanPredictor constructs a LifespanPredictor backed by model.
func NewLifespanPredictor(model Model, logger *zap.Logger, maxTokens int, timeout time.Duration) *LifespanPredictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTokens < 1 {
		maxTokens = DefaultMaxTokens
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LifespanPredictor{
		model:     model,
		logger:    logger,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

func (p *LifespanPredictor) Predict(ctx context.Context, image string, classification types.Classification) Prediction {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := p.model.Generate(ctx, Request{
		SystemPrompt: systemPrompt,
		Prompt:       BuildPrompt(classification),
		ImageBase64:  StripDataURI(image),
		ImageMIME:    "image/jpeg",
		MaxTokens:    p.maxTokens,
	})
	if err != nil {
		return p.fallback(fmt.Errorf("%s: %w", p.model.Name(), err), start)
	}

	prediction, err := parseReply(reply)
	if err != nil {
		return p.fallback(fmt.Errorf("%s: %w", p.model.Name(), err), start)
	}

	p.logger.Debug("lifespan predicted",
		zap.String("model", p.model.Name()),
		zap.Duration("duration", time.Since(start)))
	return prediction
}

func (p *LifespanPredictor) fallback(err error, start time.Time) Prediction {
	p.logger.Warn("lifespan prediction failed, using fallback",
		zap.Error(err),
		zap.Duration("duration", time.Since(start)))
	return Fallback(err)
}

// Fallback returns the fixed fallback prediction tagged with err.
func Fallback(err error) Prediction {
	return Prediction{
		RemainingLifespan: FallbackLifespan,
		Analysis:          FallbackAnalysis,
		Fallback:          true,
		Err:               err,
	}
}

// StripDataURI removes a leading "data:image/<type>;base64," prefix.
func StripDataURI(image string) string {
	return dataURIPrefix.ReplaceAllString(strings.TrimSpace(image), "")
}

// BuildPrompt renders the user prompt for a classification.
func BuildPrompt(c types.Classification) string {
	return fmt.Sprintf(`Analyze this electronic device image and provide:
1. Remaining lifespan estimate (in years/months)
2. Detailed analysis of its condition and reasons for the lifespan prediction

Device information:
- Type: %s
- Category: %s
- Observed condition: %s

Response format:
{
  "remainingLifespan": "X-Y years/months",
  "analysis": "Detailed explanation of condition assessment and lifespan prediction..."
}`, c.DeviceType, c.DeviceCategory, c.Condition)
}

type lifespanReply struct {
	RemainingLifespan string `json:"remainingLifespan"`
	Analysis          string `json:"analysis"`
}

func parseReply(reply string) (Prediction, error) {
	var parsed lifespanReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &parsed); err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	lifespan := strings.TrimSpace(parsed.RemainingLifespan)
	analysis := strings.TrimSpace(parsed.Analysis)
	if lifespan == "" || analysis == "" {
		return Prediction{}, fmt.Errorf("%w: missing remainingLifespan or analysis", ErrMalformedReply)
	}

	return Prediction{
		RemainingLifespan: lifespan,
		Analysis:          analysis,
	}, nil
}
