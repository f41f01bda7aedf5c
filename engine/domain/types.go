// Package domain defines the core types, errors and validation shared by the
// catalog, ranking, extraction and loading engines. It acts as the validation
// gate at pipeline entry points.
package domain

import (
	"strings"
	"time"
)

// SubredditRecord is one entry of the subreddit catalog. The embedding never
// leaves the process as JSON.
type SubredditRecord struct {
	Name        string    `json:"subreddit"`
	Subscribers int64     `json:"subscribers"`
	Embedding   []float32 `json:"-"`
}

// Match is a catalog record scored against a query embedding.
type Match struct {
	SubredditRecord
	Score float64 `json:"score"`
}

// SortType is a Reddit listing order.
type SortType string

const (
	SortHot SortType = "hot"
	SortNew SortType = "new"
	SortTop SortType = "top"
)

// DefaultSorts is the listing set scraped when none is requested.
var DefaultSorts = []SortType{SortHot, SortNew, SortTop}

// ValidSorts is the set of recognised listing orders.
var ValidSorts = map[SortType]bool{SortHot: true, SortNew: true, SortTop: true}

// DeletedAuthor replaces the author of posts and comments whose account is gone.
const DeletedAuthor = "[deleted]"

// Post is a scraped Reddit submission as stored in the posts collection.
type Post struct {
	ID                string    `json:"id" bson:"id"`
	Title             string    `json:"title" bson:"title"`
	Author            string    `json:"author" bson:"author"`
	CreatedUTC        time.Time `json:"created_utc" bson:"created_utc"`
	Score             int       `json:"score" bson:"score"`
	UpvoteRatio       float64   `json:"upvote_ratio" bson:"upvote_ratio"`
	NumComments       int       `json:"num_comments" bson:"num_comments"`
	URL               string    `json:"url" bson:"url"`
	SelfText          string    `json:"selftext" bson:"selftext"`
	Permalink         string    `json:"permalink" bson:"permalink"`
	Subreddit         string    `json:"subreddit" bson:"subreddit"`
	IsVideo           bool      `json:"is_video" bson:"is_video"`
	IsOriginalContent bool      `json:"is_original_content" bson:"is_original_content"`
	Over18            bool      `json:"over_18" bson:"over_18"`
	Spoiler           bool      `json:"spoiler" bson:"spoiler"`
	Stickied          bool      `json:"stickied" bson:"stickied"`
	Locked            bool      `json:"locked" bson:"locked"`
	LinkFlairText     string    `json:"link_flair_text,omitempty" bson:"link_flair_text,omitempty"`
	ScrapedAt         time.Time `json:"scraped_at" bson:"scraped_at"`
	LastUpdated       time.Time `json:"last_updated" bson:"last_updated"`
	Comments          []Comment `json:"comments,omitempty" bson:"comments,omitempty"`
}

// Comment is a single comment attached to a Post.
type Comment struct {
	ID          string    `json:"id" bson:"id"`
	Author      string    `json:"author" bson:"author"`
	Body        string    `json:"body" bson:"body"`
	CreatedUTC  time.Time `json:"created_utc" bson:"created_utc"`
	Score       int       `json:"score" bson:"score"`
	IsSubmitter bool      `json:"is_submitter" bson:"is_submitter"`
	ParentID    string    `json:"parent_id" bson:"parent_id"`
	Edited      bool      `json:"edited" bson:"edited"`
	Depth       int       `json:"depth" bson:"depth"`
}

// ScrapeParams describes one extraction run.
type ScrapeParams struct {
	Subreddits      []string   `json:"subreddits" bson:"subreddits"`
	Sorts           []SortType `json:"sorts" bson:"sorts"`
	PostLimit       int        `json:"post_limit" bson:"post_limit"`
	IncludeComments bool       `json:"include_comments" bson:"include_comments"`
	CommentLimit    int        `json:"comment_limit" bson:"comment_limit"`
	From            time.Time  `json:"from,omitempty" bson:"from,omitempty"`
	To              time.Time  `json:"to,omitempty" bson:"to,omitempty"`
	Query           string     `json:"query,omitempty" bson:"query,omitempty"`
	// SearchText keeps only posts whose title or body contains it,
	// case-insensitively.
	SearchText string `json:"search_text,omitempty" bson:"search_text,omitempty"`
}

// InWindow reports whether t falls inside the optional [From, To] window.
func (p ScrapeParams) InWindow(t time.Time) bool {
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && t.After(p.To) {
		return false
	}
	return true
}

// MatchesText reports whether title or body contains SearchText. An empty
// SearchText matches everything.
func (p ScrapeParams) MatchesText(title, body string) bool {
	if p.SearchText == "" {
		return true
	}
	needle := strings.ToLower(p.SearchText)
	return strings.Contains(strings.ToLower(title), needle) || strings.Contains(strings.ToLower(body), needle)
}

// SearchRecord links one ETL run to the posts it stored.
type SearchRecord struct {
	SearchID   string       `json:"search_id" bson:"search_id"`
	Timestamp  time.Time    `json:"timestamp" bson:"timestamp"`
	Parameters ScrapeParams `json:"parameters" bson:"parameters"`
	PostIDs    []string     `json:"post_ids" bson:"post_ids"`
	TotalPosts int          `json:"total_posts" bson:"total_posts"`
}
