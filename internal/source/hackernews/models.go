package hackernews

import (
	"time"

	"news_enricher/internal/domain"
)

// Item is the subset of a Hacker News item the enricher reads.
type Item struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Descendants int    `json:"descendants"`
	Deleted     bool   `json:"deleted"`
	Dead        bool   `json:"dead"`
}

func (i Item) candidate() domain.Candidate {
	c := domain.Candidate{
		ItemID:    i.ID,
		Title:     i.Title,
		Score:     i.Score,
		Author:    i.By,
		Timestamp: time.Unix(i.Time, 0).UTC(),
	}
	if i.URL != "" {
		url := i.URL
		c.SourceURL = &url
	}
	return c
}

func listPath(kind domain.StoryKind) string {
	return "/" + string(kind) + "stories.json"
}
