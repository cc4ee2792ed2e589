// Package resolve extracts the company name a news article is about.
//
// The primary path asks a text-completion service. Two deterministic
// fallbacks exist and are deliberately distinct: when no completion service
// is configured the first three title words (or the whole title) are used;
// when a configured service fails only the first title word is used.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/leadwatch/internal/lead"
)

const (
	// UnknownCompany is returned when no title is available.
	UnknownCompany = "Unknown Company"

	// SystemPrompt is the fixed completion instruction.
	SystemPrompt = "Extract the company name from the following news article. Return only the company name, nothing else."

	// ExcerptLimit is how many runes of the excerpt are sent.
	ExcerptLimit = 200

	// Temperature is the completion sampling temperature.
	Temperature = 0.3

	// MaxTokens is the completion output ceiling.
	MaxTokens = 50

	// fallbackWords is how many title words the unconfigured fallback keeps.
	fallbackWords = 3

	// fallbackTitleRunes caps the full-title fallback.
	fallbackTitleRunes = 50
)

// ErrEmptyCompletion is returned when the completion service answers with
// blank text.
var ErrEmptyCompletion = errors.New("completion returned empty text")

// CompletionRequest is a single-turn completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer is any text-completion backend.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

// Resolver resolves company names. A nil completer selects the offline
// fallback for every call.
type Resolver struct {
	completer Completer
	limiter   *rate.Limiter
	logger    log.Logger
}

// New returns a Resolver. limiter may be nil for unlimited completion calls.
func New(completer Completer, limiter *rate.Limiter, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{
		completer: completer,
		limiter:   limiter,
		logger:    logger,
	}
}

// Configured reports whether a completion service is available.
func (r *Resolver) Configured() bool {
	return r.completer != nil
}

// Resolve returns the company name for an article and the path that
// produced it. It never fails.
func (r *Resolver) Resolve(ctx context.Context, title, excerpt string) (string, lead.Resolution) {
	if r.completer == nil {
		return UnconfiguredFallback(title), lead.ResolvedFallbackUnconfigured
	}

	name, err := r.complete(ctx, title, excerpt)
	if err != nil {
		r.logger.Warn(ctx, "company name completion failed, using first title word",
			"error", err,
			"title", title,
		)
		return ErrorFallback(title), lead.ResolvedFallbackError
	}
	return name, lead.ResolvedByCompletion
}

func (r *Resolver) complete(ctx context.Context, title, excerpt string) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	out, err := r.completer.Complete(ctx, BuildRequest(title, excerpt))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(out)
	if name == "" {
		return "", ErrEmptyCompletion
	}
	return name, nil
}

// BuildRequest builds the completion call for an article.
func BuildRequest(title, excerpt string) *CompletionRequest {
	return &CompletionRequest{
		System:      SystemPrompt,
		Prompt:      fmt.Sprintf("Title: %s\n\nExcerpt: %s", title, truncateRunes(excerpt, ExcerptLimit)),
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	}
}

// UnconfiguredFallback is used when no completion service is configured:
// the first three words of a longer title, otherwise the title itself
// capped at 50 runes.
func UnconfiguredFallback(title string) string {
	words := strings.Fields(title)
	if len(words) == 0 {
		return UnknownCompany
	}
	if len(words) > fallbackWords {
		return strings.Join(words[:fallbackWords], " ")
	}
	return truncateRunes(strings.TrimSpace(title), fallbackTitleRunes)
}

// ErrorFallback is used when the completion call fails: the first word of
// the title.
func ErrorFallback(title string) string {
	words := strings.Fields(title)
	if len(words) == 0 {
		return UnknownCompany
	}
	return words[0]
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
