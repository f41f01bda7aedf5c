// Package analytics computes descriptive statistics over stored posts.
package analytics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/fn"
)

// ErrNoData is returned when there are no posts to analyse.
var ErrNoData = errors.New("analytics: no posts")

// topN bounds the author rankings.
const topN = 10

// Comment-count buckets for EngagementMetrics.
const (
	lowCommentsBelow   = 10
	highCommentsFrom   = 50
	controversialBelow = 0.5
)

// BasicStats summarises the corpus.
type BasicStats struct {
	TotalPosts      int            `json:"total_posts"`
	UniqueAuthors   int            `json:"unique_authors"`
	TotalComments   int            `json:"total_comments"`
	AvgScore        float64        `json:"avg_score"`
	AvgUpvoteRatio  float64        `json:"avg_upvote_ratio"`
	Subreddits      map[string]int `json:"subreddit_distribution"`
	PostsPerDay     map[string]int `json:"posts_over_time"`
	Videos          int            `json:"videos"`
	OriginalContent int            `json:"original_content"`
}

// AuthorScore pairs an author with a value.
type AuthorScore struct {
	Author string  `json:"author"`
	Value  float64 `json:"value"`
}

// AuthorStats ranks authors.
type AuthorStats struct {
	TopByScore           []AuthorScore `json:"top_authors"`
	MostActive           []AuthorScore `json:"most_active"`
	AvgCommentsPerAuthor float64       `json:"avg_comments_per_author"`
}

// CommentBuckets splits posts by comment count.
type CommentBuckets struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Engagement describes how posts were received.
type Engagement struct {
	HighEngagementPosts int            `json:"high_engagement_posts"`
	Comments            CommentBuckets `json:"comment_distribution"`
	AvgUpvoteRatio      float64        `json:"avg_upvote_ratio"`
	ControversialPosts  int            `json:"controversial_posts"`
}

// Report bundles every analysis. Sentiment is only filled in when a
// classifier is configured.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Stats       BasicStats      `json:"basic_stats"`
	Authors     AuthorStats     `json:"author_analysis"`
	Engagement  Engagement      `json:"engagement_metrics"`
	Segments    UserSegments    `json:"user_segmentation"`
	Posts       []PostStats     `json:"engagement_analysis"`
	Sentiment   []PostSentiment `json:"sentiment_analysis,omitempty"`
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Basic computes corpus-wide counts and averages.
func Basic(posts []domain.Post) (BasicStats, error) {
	if len(posts) == 0 {
		return BasicStats{}, ErrNoData
	}
	s := BasicStats{
		TotalPosts:  len(posts),
		Subreddits:  make(map[string]int),
		PostsPerDay: make(map[string]int),
	}
	authors := make(map[string]bool)
	var scores, ratios []float64
	for _, p := range posts {
		authors[p.Author] = true
		s.TotalComments += p.NumComments
		scores = append(scores, float64(p.Score))
		ratios = append(ratios, p.UpvoteRatio)
		s.Subreddits[p.Subreddit]++
		s.PostsPerDay[p.CreatedUTC.UTC().Format(time.DateOnly)]++
		if p.IsVideo {
			s.Videos++
		}
		if p.IsOriginalContent {
			s.OriginalContent++
		}
	}
	s.UniqueAuthors = len(authors)
	s.AvgScore = mean(scores)
	s.AvgUpvoteRatio = mean(ratios)
	return s, nil
}

// Authors ranks authors by mean score and by post count. Ties are broken by
// author name.
func Authors(posts []domain.Post) (AuthorStats, error) {
	if len(posts) == 0 {
		return AuthorStats{}, ErrNoData
	}
	byAuthor := fn.GroupBy(posts, func(p domain.Post) string { return p.Author })

	var byScore, byCount []AuthorScore
	var commentMeans []float64
	for author, ps := range byAuthor {
		scores := fn.Map(ps, func(p domain.Post) float64 { return float64(p.Score) })
		comments := fn.Map(ps, func(p domain.Post) float64 { return float64(p.NumComments) })
		byScore = append(byScore, AuthorScore{Author: author, Value: mean(scores)})
		byCount = append(byCount, AuthorScore{Author: author, Value: float64(len(ps))})
		commentMeans = append(commentMeans, mean(comments))
	}
	return AuthorStats{
		TopByScore:           top(byScore, topN),
		MostActive:           top(byCount, topN),
		AvgCommentsPerAuthor: mean(commentMeans),
	}, nil
}

func top(xs []AuthorScore, n int) []AuthorScore {
	sort.Slice(xs, func(i, j int) bool {
		if xs[i].Value != xs[j].Value {
			return xs[i].Value > xs[j].Value
		}
		return xs[i].Author < xs[j].Author
	})
	return xs[:min(n, len(xs))]
}

// EngagementMetrics counts above-average, controversial and per-bucket posts.
func EngagementMetrics(posts []domain.Post) (Engagement, error) {
	if len(posts) == 0 {
		return Engagement{}, ErrNoData
	}
	avgScore := mean(fn.Map(posts, func(p domain.Post) float64 { return float64(p.Score) }))

	var e Engagement
	var ratios []float64
	for _, p := range posts {
		if float64(p.Score) > avgScore {
			e.HighEngagementPosts++
		}
		switch {
		case p.NumComments < lowCommentsBelow:
			e.Comments.Low++
		case p.NumComments < highCommentsFrom:
			e.Comments.Medium++
		default:
			e.Comments.High++
		}
		if p.UpvoteRatio < controversialBelow {
			e.ControversialPosts++
		}
		ratios = append(ratios, p.UpvoteRatio)
	}
	e.AvgUpvoteRatio = mean(ratios)
	return e, nil
}

// Analyze runs every analysis except sentiment over posts.
func Analyze(posts []domain.Post, now time.Time) (Report, error) {
	stats, err := Basic(posts)
	if err != nil {
		return Report{}, err
	}
	authors, err := Authors(posts)
	if err != nil {
		return Report{}, err
	}
	eng, err := EngagementMetrics(posts)
	if err != nil {
		return Report{}, err
	}
	segs, err := Segments(posts)
	if err != nil {
		return Report{}, err
	}
	perPost, err := PostEngagement(posts)
	if err != nil {
		return Report{}, err
	}
	return Report{
		GeneratedAt: now,
		Stats:       stats,
		Authors:     authors,
		Engagement:  eng,
		Segments:    segs,
		Posts:       perPost,
	}, nil
}

// Text renders r as a plain-text report.
func (r Report) Text() string {
	var b strings.Builder
	b.WriteString("Reddit Data Analysis Report\n")
	b.WriteString("===========================\n")
	fmt.Fprintf(&b, "Generated on: %s\n\n", r.GeneratedAt.Format(time.DateTime))

	b.WriteString("Overview\n--------\n")
	fmt.Fprintf(&b, "Total Posts Analyzed: %d\n", r.Stats.TotalPosts)
	fmt.Fprintf(&b, "Unique Authors: %d\n", r.Stats.UniqueAuthors)
	fmt.Fprintf(&b, "Total Comments: %d\n\n", r.Stats.TotalComments)

	b.WriteString("Engagement Metrics\n------------------\n")
	fmt.Fprintf(&b, "Average Score: %.2f\n", r.Stats.AvgScore)
	fmt.Fprintf(&b, "Average Upvote Ratio: %.2f\n", r.Stats.AvgUpvoteRatio)
	fmt.Fprintf(&b, "High Engagement Posts: %d\n", r.Engagement.HighEngagementPosts)
	fmt.Fprintf(&b, "Controversial Posts: %d\n\n", r.Engagement.ControversialPosts)

	b.WriteString("Top Authors\n-----------\n")
	for _, a := range r.Authors.TopByScore {
		fmt.Fprintf(&b, "%s: %.2f avg score\n", a.Author, a.Value)
	}

	b.WriteString("\nUser Segments\n-------------\n")
	fmt.Fprintf(&b, "Power Users: %d\n", len(r.Segments.PowerUsers))
	fmt.Fprintf(&b, "Regular Contributors: %d\n", len(r.Segments.RegularContributors))
	fmt.Fprintf(&b, "Occasional Participants: %d\n", len(r.Segments.OccasionalParticipants))
	fmt.Fprintf(&b, "Lurkers: %d\n", len(r.Segments.Lurkers))

	if len(r.Sentiment) > 0 {
		positive := 0
		for _, s := range r.Sentiment {
			if s.Post.Positive() {
				positive++
			}
		}
		b.WriteString("\nSentiment\n---------\n")
		fmt.Fprintf(&b, "Positive Posts: %d of %d\n", positive, len(r.Sentiment))
	}
	return b.String()
}
