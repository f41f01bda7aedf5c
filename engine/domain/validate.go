package domain

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Subreddit names: 2-21 characters, letters, digits and underscores, not
// starting with an underscore.
var subredditRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_]{1,20}$`)

// Injection patterns: fragments that should never reach the document store
// through a free-text query.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
	regexp.MustCompile(`(?i)\$where\b`),
}

const (
	// MaxQueryLength bounds free-text similarity queries, in characters.
	MaxQueryLength = 512
	// MaxPostLimit bounds posts fetched per listing.
	MaxPostLimit = 1000
	// DefaultPostLimit is used when a request leaves the post limit unset.
	DefaultPostLimit = 100
	// DefaultCommentLimit is the number of comment trees expanded per post.
	DefaultCommentLimit = 10
)

// ValidateQuery validates a free-text similarity query.
func ValidateQuery(q string) error {
	text := strings.TrimSpace(q)
	if text == "" {
		return NewValidationError("query", q, ErrEmptyQuery)
	}
	if utf8.RuneCountInString(text) > MaxQueryLength {
		return NewValidationError("query", truncate(text, 32), ErrQueryTooLong)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("query", text, ErrQueryInjection)
		}
	}
	return nil
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}

// ValidateSubreddit validates a subreddit name (without the r/ prefix).
func ValidateSubreddit(name string) error {
	if !subredditRegex.MatchString(name) {
		return NewValidationError("subreddit", name, ErrInvalidSubreddit)
	}
	return nil
}

// NormalizeSubreddit strips whitespace and an optional r/ prefix.
func NormalizeSubreddit(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	name = strings.TrimPrefix(name, "r/")
	return name
}

// ValidateScrapeParams checks a scrape request and fills in defaults.
func ValidateScrapeParams(p ScrapeParams) (ScrapeParams, error) {
	if len(p.Subreddits) == 0 {
		return p, NewValidationError("subreddits", "", ErrInvalidSubreddit)
	}
	subs := make([]string, 0, len(p.Subreddits))
	for _, s := range p.Subreddits {
		s = NormalizeSubreddit(s)
		if err := ValidateSubreddit(s); err != nil {
			return p, err
		}
		subs = append(subs, s)
	}
	p.Subreddits = subs

	if len(p.Sorts) == 0 {
		p.Sorts = append([]SortType(nil), DefaultSorts...)
	}
	for _, s := range p.Sorts {
		if !ValidSorts[s] {
			return p, NewValidationError("sort", string(s), ErrInvalidSort)
		}
	}

	switch {
	case p.PostLimit == 0:
		p.PostLimit = DefaultPostLimit
	case p.PostLimit < 0 || p.PostLimit > MaxPostLimit:
		return p, NewValidationError("post_limit", strconv.Itoa(p.PostLimit), ErrInvalidLimit)
	}

	if !p.IncludeComments {
		p.CommentLimit = 0
	} else if p.CommentLimit <= 0 {
		p.CommentLimit = DefaultCommentLimit
	}

	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return p, NewValidationError("to", p.To.String(), ErrInvalidTimeRange)
	}
	return p, nil
}
