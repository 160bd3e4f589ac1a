package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/policypulse/policy-pulse/internal/config"
	errs "github.com/policypulse/policy-pulse/internal/core/errors"
	"github.com/policypulse/policy-pulse/internal/observability"
)

const (
	// Azure signals a content-policy rejection with this inner error code on
	// an HTTP 400.
	policyViolationCode = "ResponsibleAIPolicyViolation"

	// Used when a 429 carries no parseable retry-after hint.
	defaultRetryAfter = 60 * time.Second

	rateBurst = 5

	statusOK          = "ok"
	statusError       = "error"
	statusFiltered    = "filtered"
	statusRateLimited = "rate_limited"
)

// Azure embeds the hint in the error message body rather than a header.
var retryAfterPattern = regexp.MustCompile(`retry after (\d+) seconds`)

type azureClient struct {
	client  *openai.Client
	cfg     *config.Config
	limiter *rate.Limiter
	logger  *zerolog.Logger

	// Injectable so tests can observe backoff and rate-limit waits without
	// sleeping for real.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAzure builds the production client against an Azure OpenAI deployment.
func NewAzure(cfg *config.Config, logger *zerolog.Logger) Client {
	clientCfg := openai.DefaultAzureConfig(cfg.AzureOpenAIAPIKey, cfg.AzureOpenAIEndpoint)
	clientCfg.APIVersion = cfg.AzureOpenAIAPIVersion

	deployment := cfg.DeploymentName
	clientCfg.AzureModelMapperFunc = func(string) string {
		return deployment
	}

	return &azureClient{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), rateBurst),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Complete performs one chat-completion call with bounded retry: up to
// MaxRetries attempts, exponential backoff between attempts, an extra
// provider-advertised sleep on rate limits, and a terminal Filtered outcome
// on policy rejection. Exhaustion surfaces as an error for this call only.
func (c *azureClient) Complete(ctx context.Context, req Request) (Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxOutputTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	timer := prometheus.NewTimer(observability.LLMRequestDuration)
	defer timer.ObserveDuration()

	backoff := c.cfg.MinRetryWait

	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			observability.LLMRetries.Inc()

			if err := c.sleep(ctx, backoff); err != nil {
				return Result{}, err
			}

			backoff *= 2
			if backoff > c.cfg.MaxRetryWait {
				backoff = c.cfg.MaxRetryWait
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.cfg.DeploymentName,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
		})
		if err == nil {
			observability.LLMRequests.WithLabelValues(statusOK).Inc()

			if len(resp.Choices) == 0 {
				return Result{}, fmt.Errorf("chat completion: %w", errs.ErrEmptyResponse)
			}

			return Result{Content: resp.Choices[0].Message.Content}, nil
		}

		if isPolicyViolation(err) {
			observability.LLMRequests.WithLabelValues(statusFiltered).Inc()
			c.logger.Info().Msg("content filtered by provider policy, skipping")

			return Result{Filtered: true}, nil
		}

		if wait, ok := retryAfterHint(err); ok {
			observability.LLMRequests.WithLabelValues(statusRateLimited).Inc()
			observability.LLMRateLimitWaitSeconds.Add(wait.Seconds())
			c.logger.Warn().Dur("retry_after", wait).Msg("rate limit hit, waiting")

			if serr := c.sleep(ctx, wait); serr != nil {
				return Result{}, serr
			}

			lastErr = err

			continue
		}

		observability.LLMRequests.WithLabelValues(statusError).Inc()
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("chat completion attempt failed")

		lastErr = err
	}

	return Result{}, fmt.Errorf("chat completion failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func isPolicyViolation(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.HTTPStatusCode == http.StatusBadRequest &&
		apiErr.InnerError != nil &&
		apiErr.InnerError.Code == policyViolationCode
}

func retryAfterHint(err error) (time.Duration, bool) {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode != http.StatusTooManyRequests {
		return 0, false
	}

	wait := defaultRetryAfter

	if match := retryAfterPattern.FindStringSubmatch(apiErr.Message); match != nil {
		if secs, convErr := strconv.Atoi(match[1]); convErr == nil {
			wait = time.Duration(secs) * time.Second
		}
	}

	return wait, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
