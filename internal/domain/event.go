package domain

import "time"

const (
	EventStoryUpdated = "story-updated"
	EventBatchUpdated = "batch-updated"
)

// UpdateEvent announces that an item has a fresh cache entry. It is never persisted.
type UpdateEvent struct {
	ItemID           int64     `json:"itemId"`
	Title            string    `json:"title"`
	TranslatedTitle  string    `json:"translatedTitle"`
	Summary          string    `json:"summary"`
	UpdatedAt        time.Time `json:"updatedAt"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
}

type BatchUpdateEvent struct {
	Updates []UpdateEvent `json:"updates"`
	Count   int           `json:"count"`
}

func NewUpdateEvent(entry *CacheEntry) UpdateEvent {
	return UpdateEvent{
		ItemID:           entry.ItemID,
		Title:            entry.Title,
		TranslatedTitle:  entry.TranslatedTitle,
		Summary:          entry.Summary,
		UpdatedAt:        entry.UpdatedAt,
		ProcessingTimeMs: entry.ProcessingTimeMs,
	}
}
