package domain

import "time"

type StoryKind string

const (
	StoryKindTop  StoryKind = "top"
	StoryKindBest StoryKind = "best"
	StoryKindNew  StoryKind = "new"
)

func (k StoryKind) IsValid() bool {
	switch k {
	case StoryKindTop, StoryKindBest, StoryKindNew:
		return true
	}
	return false
}

// Room is the broadcast room readers of this list join.
func (k StoryKind) Room() string {
	return string(k) + "-stories"
}

// Priority ranks trending lists ahead of the backlog.
func (k StoryKind) Priority() int {
	if k == StoryKindTop {
		return PriorityTop
	}
	return PriorityDefault
}

// Candidate is one item reported by the discovery source.
type Candidate struct {
	ItemID    int64     `json:"itemId"`
	Title     string    `json:"title"`
	SourceURL *string   `json:"sourceUrl,omitempty"`
	Score     int       `json:"score"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

func (c Candidate) HasURL() bool {
	return c.SourceURL != nil && *c.SourceURL != ""
}
