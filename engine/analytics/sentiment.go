package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/fn"
	"github.com/WessleyAI/reddit-etl/pkg/sentiment"
)

// PostSentiment holds the labels for one post and its comments.
// PositiveShare is the fraction of comments labelled positive, or 0 when
// there are no comments.
type PostSentiment struct {
	PostID        string            `json:"post_id"`
	Post          sentiment.Label   `json:"title_sentiment"`
	Comments      []sentiment.Label `json:"comment_sentiments"`
	PositiveShare float64           `json:"average_comment_sentiment"`
}

// Sentiment classifies each post's title and body, then each comment body.
// Comments with an empty body are skipped. Posts are classified by up to
// workers goroutines (at least one); results keep input order. Any failure
// fails the call, reporting the earliest failed post.
func Sentiment(ctx context.Context, c sentiment.Classifier, posts []domain.Post, workers int) ([]PostSentiment, error) {
	if len(posts) == 0 {
		return nil, ErrNoData
	}
	workers = max(workers, 1)
	results := fn.ParMapResult(posts, workers, func(p domain.Post) fn.Result[PostSentiment] {
		if err := ctx.Err(); err != nil {
			return fn.Err[PostSentiment](err)
		}
		ps, err := classifyPost(ctx, c, p)
		if err != nil {
			return fn.Err[PostSentiment](fmt.Errorf("analytics: sentiment %s: %w", p.ID, err))
		}
		return fn.Ok(ps)
	})
	out, _, err := fn.CollectIndexed(results)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func classifyPost(ctx context.Context, c sentiment.Classifier, p domain.Post) (PostSentiment, error) {
	ps := PostSentiment{PostID: p.ID, Comments: []sentiment.Label{}}
	l, err := c.Classify(ctx, strings.TrimSpace(p.Title+" "+p.SelfText))
	if err != nil {
		return ps, err
	}
	ps.Post = l

	positive := 0
	for _, cm := range p.Comments {
		if strings.TrimSpace(cm.Body) == "" {
			continue
		}
		l, err := c.Classify(ctx, cm.Body)
		if err != nil {
			return ps, err
		}
		ps.Comments = append(ps.Comments, l)
		if l.Positive() {
			positive++
		}
	}
	if n := len(ps.Comments); n > 0 {
		ps.PositiveShare = float64(positive) / float64(n)
	}
	return ps, nil
}
