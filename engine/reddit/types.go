package reddit

import (
	"encoding/json"
	"time"

	"github.com/WessleyAI/reddit-etl/engine/domain"
)

// Reddit JSON API response types.

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []thing `json:"children"`
		After    string  `json:"after"`
	} `json:"data"`
}

type thing struct {
	Kind string    `json:"kind"`
	Data thingData `json:"data"`
}

type thingData struct {
	ID                string          `json:"id"`
	Subreddit         string          `json:"subreddit"`
	Title             string          `json:"title"`
	Author            string          `json:"author"`
	SelfText          string          `json:"selftext"`
	Body              string          `json:"body"`
	URL               string          `json:"url"`
	Permalink         string          `json:"permalink"`
	Score             int             `json:"score"`
	UpvoteRatio       float64         `json:"upvote_ratio"`
	NumComments       int             `json:"num_comments"`
	CreatedUTC        float64         `json:"created_utc"`
	IsVideo           bool            `json:"is_video"`
	IsOriginalContent bool            `json:"is_original_content"`
	Over18            bool            `json:"over_18"`
	Spoiler           bool            `json:"spoiler"`
	Stickied          bool            `json:"stickied"`
	Locked            bool            `json:"locked"`
	LinkFlairText     string          `json:"link_flair_text"`
	IsSubmitter       bool            `json:"is_submitter"`
	ParentID          string          `json:"parent_id"`
	Depth             int             `json:"depth"`
	Edited            json.RawMessage `json:"edited"`  // false or an edit timestamp
	Replies           json.RawMessage `json:"replies"` // "" or a listing
}

func author(name string) string {
	if name == "" || name == domain.DeletedAuthor {
		return domain.DeletedAuthor
	}
	return name
}

func unixTime(ts float64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}

func (d thingData) post(scrapedAt time.Time) domain.Post {
	return domain.Post{
		ID:                d.ID,
		Title:             d.Title,
		Author:            author(d.Author),
		CreatedUTC:        unixTime(d.CreatedUTC),
		Score:             d.Score,
		UpvoteRatio:       d.UpvoteRatio,
		NumComments:       d.NumComments,
		URL:               d.URL,
		SelfText:          d.SelfText,
		Permalink:         d.Permalink,
		Subreddit:         d.Subreddit,
		IsVideo:           d.IsVideo,
		IsOriginalContent: d.IsOriginalContent,
		Over18:            d.Over18,
		Spoiler:           d.Spoiler,
		Stickied:          d.Stickied,
		Locked:            d.Locked,
		LinkFlairText:     d.LinkFlairText,
		ScrapedAt:         scrapedAt,
		LastUpdated:       scrapedAt,
	}
}

func (d thingData) comment() domain.Comment {
	edited := len(d.Edited) > 0 && string(d.Edited) != "false" && string(d.Edited) != "null"
	return domain.Comment{
		ID:          d.ID,
		Author:      author(d.Author),
		Body:        d.Body,
		CreatedUTC:  unixTime(d.CreatedUTC),
		Score:       d.Score,
		IsSubmitter: d.IsSubmitter,
		ParentID:    d.ParentID,
		Edited:      edited,
		Depth:       d.Depth,
	}
}

// flatten walks a comment listing depth first, keeping only comments (t1).
// "more" stubs are dropped.
func flatten(children []thing, out []domain.Comment) []domain.Comment {
	for _, c := range children {
		if c.Kind != "t1" {
			continue
		}
		out = append(out, c.Data.comment())
		if len(c.Data.Replies) == 0 || c.Data.Replies[0] != '{' {
			continue
		}
		var replies listing
		if err := json.Unmarshal(c.Data.Replies, &replies); err != nil {
			continue
		}
		out = flatten(replies.Data.Children, out)
	}
	return out
}
