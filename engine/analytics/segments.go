package analytics

import (
	"sort"
	"time"

	"github.com/WessleyAI/reddit-etl/engine/domain"
)

// Segment thresholds. Activity counts posts plus comments.
const (
	powerUserActivity = 10
	powerUserScore    = 100
	regularActivity   = 5
	occasionalFrom    = 1
)

// UserSegments groups the authors of posts and comments by how active they
// are.
type UserSegments struct {
	PowerUsers             []string `json:"power_users"`
	RegularContributors    []string `json:"regular_contributors"`
	OccasionalParticipants []string `json:"occasional_participants"`
	Lurkers                []string `json:"lurkers"`
}

type activity struct {
	items  int
	scores float64
}

// Segments buckets every post and comment author. A power user has more than
// 10 posts and comments with a mean score above 100; a regular contributor
// more than 5; an occasional participant more than 1; everyone else lurks.
// Deleted authors are ignored. Names are sorted within each bucket.
func Segments(posts []domain.Post) (UserSegments, error) {
	if len(posts) == 0 {
		return UserSegments{}, ErrNoData
	}
	users := make(map[string]*activity)
	add := func(author string, score int) {
		if author == "" || author == domain.DeletedAuthor {
			return
		}
		a := users[author]
		if a == nil {
			a = &activity{}
			users[author] = a
		}
		a.items++
		a.scores += float64(score)
	}
	for _, p := range posts {
		add(p.Author, p.Score)
		for _, c := range p.Comments {
			add(c.Author, c.Score)
		}
	}

	s := UserSegments{
		PowerUsers:             []string{},
		RegularContributors:    []string{},
		OccasionalParticipants: []string{},
		Lurkers:                []string{},
	}
	for user, a := range users {
		avg := a.scores / float64(a.items)
		switch {
		case a.items > powerUserActivity && avg > powerUserScore:
			s.PowerUsers = append(s.PowerUsers, user)
		case a.items > regularActivity:
			s.RegularContributors = append(s.RegularContributors, user)
		case a.items > occasionalFrom:
			s.OccasionalParticipants = append(s.OccasionalParticipants, user)
		default:
			s.Lurkers = append(s.Lurkers, user)
		}
	}
	for _, names := range [][]string{s.PowerUsers, s.RegularContributors, s.OccasionalParticipants, s.Lurkers} {
		sort.Strings(names)
	}
	return s, nil
}

// PostStats describes how a single post was received. HourUTC is the hour of
// day the post was created.
type PostStats struct {
	PostID           string  `json:"post_id"`
	HourUTC          int     `json:"time_of_day"`
	EngagementRate   float64 `json:"engagement_rate"`
	CommentsPerScore float64 `json:"comments_to_score_ratio"`
	Controversy      float64 `json:"controversy_score"`
}

// PostEngagement computes per-post engagement, in input order.
// EngagementRate is (comments + score) / (1 + upvote ratio),
// CommentsPerScore is comments / (score + 1), or 0 when the score is -1, and
// Controversy is 1 - upvote ratio.
func PostEngagement(posts []domain.Post) ([]PostStats, error) {
	if len(posts) == 0 {
		return nil, ErrNoData
	}
	out := make([]PostStats, len(posts))
	for i, p := range posts {
		st := PostStats{
			PostID:         p.ID,
			HourUTC:        p.CreatedUTC.In(time.UTC).Hour(),
			EngagementRate: float64(p.NumComments+p.Score) / (1 + p.UpvoteRatio),
			Controversy:    1 - p.UpvoteRatio,
		}
		if d := p.Score + 1; d != 0 {
			st.CommentsPerScore = float64(p.NumComments) / float64(d)
		}
		out[i] = st
	}
	return out, nil
}
