package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"tocanan.ai/geo/core/config"
	"tocanan.ai/geo/internal/model"
)

// Verdict is the outcome of one verification call. A false Verified
// with a nil error means the fact could not be corroborated; a non-nil
// error means the verification call itself failed.
type Verdict struct {
	Verified           bool   `json:"verified"`
	VerificationSource string `json:"verification_source,omitempty"`
	SourceURL          string `json:"source_url,omitempty"`
}

// Verifier corroborates a candidate fact against external sources.
type Verifier interface {
	Verify(ctx context.Context, candidate model.EvidenceCandidate) (Verdict, error)
	Source() string
}

type perplexityVerifier struct {
	apiKey      string
	baseURL     string
	model       string
	client      *http.Client
	maxAttempts uint
	minWait     time.Duration
	maxWait     time.Duration
}

// NewPerplexityVerifier returns a Verifier backed by Perplexity's
// grounded online model.
func NewPerplexityVerifier(cfg config.PerplexityConfig) Verifier {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &perplexityVerifier{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		client:      &http.Client{Timeout: cfg.Timeout},
		maxAttempts: uint(attempts),
		minWait:     cfg.MinWait,
		maxWait:     cfg.MaxWait,
	}
}

func (v *perplexityVerifier) Source() string {
	return "perplexity"
}

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

const verifierSystemPrompt = "You are a fact verification assistant. " +
	"Given a claimed fact and its attribution, determine whether it is real and citable. " +
	"Never confirm a fact you cannot ground in a source. " +
	`Respond with a single JSON object: {"verified": true|false, "source_url": "..."} and nothing else.`

func (v *perplexityVerifier) Verify(ctx context.Context, candidate model.EvidenceCandidate) (Verdict, error) {
	prompt := fmt.Sprintf("Verify this %s: %q", candidate.Kind, candidate.Text)
	if candidate.Attribution != "" {
		prompt += fmt.Sprintf("\nClaimed attribution: %s", candidate.Attribution)
	}
	if candidate.SourceRef != "" {
		prompt += fmt.Sprintf("\nClaimed source: %s", candidate.SourceRef)
	}

	payload, err := json.Marshal(perplexityRequest{
		Model: v.model,
		Messages: []perplexityMessage{
			{Role: "system", Content: verifierSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal verification request: %w", err)
	}

	var parsed perplexityResponse
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/chat/completions", bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+v.apiKey)
			req.Header.Set("Content-Type", "application/json")

			resp, err := v.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("verification API status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("verification API status %d: %s", resp.StatusCode, body))
			}
			return json.Unmarshal(body, &parsed)
		},
		retry.Attempts(v.maxAttempts),
		retry.Context(ctx),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(v.minWait),
		retry.MaxDelay(v.maxWait),
		retry.OnRetry(func(n uint, err error) {
			slog.WarnContext(ctx, "verification retry", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return Verdict{}, fmt.Errorf("perplexity verify: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return Verdict{}, fmt.Errorf("perplexity verify: empty response")
	}

	verdict, err := parseVerdict(parsed.Choices[0].Message.Content)
	if err != nil {
		// Unparseable output is treated as not corroborated, not as a
		// call failure. The candidate is simply discarded.
		slog.WarnContext(ctx, "unparseable verification response", "error", err)
		return Verdict{}, nil
	}
	if verdict.Verified {
		verdict.VerificationSource = v.Source()
		if verdict.SourceURL == "" && len(parsed.Citations) > 0 {
			verdict.SourceURL = parsed.Citations[0]
		}
		// A verdict without a citable source does not count as verified.
		if verdict.SourceURL == "" {
			return Verdict{}, nil
		}
	}
	return verdict, nil
}

// parseVerdict extracts the verdict JSON from model output that may be
// wrapped in prose or a markdown fence.
func parseVerdict(content string) (Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Verdict{}, fmt.Errorf("no JSON object in %q", content)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return Verdict{}, err
	}
	return v, nil
}
