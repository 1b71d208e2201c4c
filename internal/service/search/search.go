// Package search runs the first step of a web-search turn: it turns the user's
// question into a summary of current web results.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"llmchat/internal/logging"
)

// Searcher produces a plain-text summary of web results for query.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) (string, error)
}

// ErrNoSearcher is returned by an empty chain.
var ErrNoSearcher = errors.New("no web search backend available")

// Chain tries searchers in order; the first non-empty result wins.
type Chain struct {
	searchers []Searcher
	logger    zerolog.Logger
}

func NewChain(searchers ...Searcher) *Chain {
	c := &Chain{logger: logging.Component("search")}
	for _, s := range searchers {
		if s != nil {
			c.searchers = append(c.searchers, s)
		}
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// Len reports how many searchers are configured.
func (c *Chain) Len() int { return len(c.searchers) }

func (c *Chain) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if len(c.searchers) == 0 {
		return "", ErrNoSearcher
	}
	var errs []error
	for _, s := range c.searchers {
		summary, err := s.Search(ctx, query)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary, nil
		}
		if err == nil {
			err = errors.New("empty result")
		}
		c.logger.Warn().Err(err).Str("searcher", s.Name()).Msg("web search backend failed")
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

// Augment wraps the original question with the search summary.
func Augment(summary, query string) string {
	return "Web search results:\n\n" + summary +
		"\n\n---\n\nUsing the above search results as context, please answer: " + query
}
