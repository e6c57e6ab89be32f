package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/monitoring"
)

// Failure causes, used as log fields and metric labels.
const (
	CauseNoAPIKey     = "no_api_key"
	CauseRateLimited  = "rate_limited"
	CauseBreakerOpen  = "breaker_open"
	CauseTransport    = "transport"
	CauseEmptyText    = "empty_response"
	CauseMalformed    = "malformed_response"
	CauseIncomplete   = "incomplete_response"
	CauseUnclassified = "unknown"
)

var (
	errEmptyResponse      = errors.New("no response text from model")
	errMalformedResponse  = errors.New("response is not valid insight JSON")
	errIncompleteResponse = errors.New("response is missing insight fields")
)

// InsightClient asks a generative-language model for a narrative summary of a gene's alteration
// profile. It never fails: every error collapses into domain.PlaceholderInsight.
type InsightClient struct {
	generator ContentGenerator
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	timeout   time.Duration
	metrics   *monitoring.Metrics
	logger    *logrus.Logger
}

// NewInsightClient creates a new insight client. A nil generator yields a client that always
// returns the placeholder, which is how a missing API key degrades.
func NewInsightClient(config domain.InsightConfig, generator ContentGenerator, metrics *monitoring.Metrics, logger *logrus.Logger) *InsightClient {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	breakerCfg := config.Breaker
	settings := gobreaker.Settings{
		Name:        "GenerativeLanguage",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerCfg.MinRequests || counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= breakerCfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
			metrics.SetBreakerState(float64(to))
		},
	}

	return &InsightClient{
		generator: generator,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   config.Timeout,
		metrics:   metrics,
		logger:    logger,
	}
}

// GetGeneInsight implements domain.InsightProvider. One request is issued per call; there is no
// retry and no caching.
func (c *InsightClient) GetGeneInsight(ctx context.Context, req domain.InsightRequest) domain.AIAnalysisResult {
	start := time.Now()
	result, err := c.fetch(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		cause := classifyFailure(err)
		c.logger.WithFields(logrus.Fields{
			"gene":        req.GeneSymbol,
			"cancer_type": req.CancerType,
			"cause":       cause,
			"duration_ms": elapsed.Milliseconds(),
		}).WithError(err).Warn("Insight unavailable, returning placeholder")
		c.metrics.ObserveInsight(monitoring.OutcomePlaceholder, cause, elapsed)
		return domain.PlaceholderInsight()
	}

	c.logger.WithFields(logrus.Fields{
		"gene":        req.GeneSymbol,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Insight generated")
	c.metrics.ObserveInsight(monitoring.OutcomeSuccess, "", elapsed)
	return result
}

func (c *InsightClient) fetch(ctx context.Context, req domain.InsightRequest) (domain.AIAnalysisResult, error) {
	if c.generator == nil {
		return domain.AIAnalysisResult{}, ErrMissingAPIKey
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.AIAnalysisResult{}, &rateLimitError{err: err}
	}

	prompt := BuildInsightPrompt(req)
	out, err := c.breaker.Execute(func() (interface{}, error) {
		text, err := c.generator.GenerateJSON(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return ParseInsight(text)
	})
	if err != nil {
		return domain.AIAnalysisResult{}, err
	}
	return out.(domain.AIAnalysisResult), nil
}

// ParseInsight decodes the model's JSON reply. All three fields must carry text.
func ParseInsight(text string) (domain.AIAnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.AIAnalysisResult{}, errEmptyResponse
	}
	var result domain.AIAnalysisResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return domain.AIAnalysisResult{}, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if !result.Complete() {
		return domain.AIAnalysisResult{}, errIncompleteResponse
	}
	return result, nil
}

// BuildInsightPrompt assembles the natural-language prompt for a gene.
func BuildInsightPrompt(req domain.InsightRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze the clinical significance of the expression profile of the gene %s in the context of %s.\n\n",
		req.GeneSymbol, req.CancerType)

	if len(req.Samples) > 0 {
		b.WriteString("Patient samples:\n")
		for _, s := range req.Samples {
			label := s.SampleID
			if s.SampleType != "" {
				label = fmt.Sprintf("%s (%s)", s.SampleID, s.SampleType)
			}
			mutation := s.Mutation
			if mutation == "" {
				mutation = "wild-type"
			}
			cna := s.CNA
			if cna == "" {
				cna = domain.DIPLOID
			}
			fmt.Fprintf(&b, "- %s: %s expression (Z-score: %.2f), mutation: %s, copy number: %s",
				label, domain.ExpressionLevel(s.ZScore), s.ZScore, mutation, cna)
			if s.StructuralVariant != "" {
				fmt.Fprintf(&b, ", structural variant: %s", s.StructuralVariant)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if req.NormalTissueContext != "" {
		fmt.Fprintf(&b, "Normal tissue context: %s\n\n", req.NormalTissueContext)
	}

	b.WriteString("Provide the response in structured JSON with the following fields:\n")
	b.WriteString("- summary: A brief explanation of the gene's function and what this alteration profile implies biologically, including any change between samples.\n")
	b.WriteString("- therapeuticImplications: Potential targeted therapies or drug sensitivities/resistance associated with this profile.\n")
	b.WriteString("- prognosticValue: Is this typically associated with good or poor prognosis?\n")
	return b.String()
}

type rateLimitError struct {
	err error
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limit wait aborted: %v", e.err)
}

func (e *rateLimitError) Unwrap() error {
	return e.err
}

func classifyFailure(err error) string {
	var rl *rateLimitError
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return CauseNoAPIKey
	case errors.As(err, &rl):
		return CauseRateLimited
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return CauseBreakerOpen
	case errors.Is(err, errEmptyResponse):
		return CauseEmptyText
	case errors.Is(err, errMalformedResponse):
		return CauseMalformed
	case errors.Is(err, errIncompleteResponse):
		return CauseIncomplete
	case err != nil:
		return CauseTransport
	default:
		return CauseUnclassified
	}
}
