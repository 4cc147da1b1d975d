package domain

import "time"

const DefaultCacheTTL = 24 * time.Hour

// CacheEntry is the durable, user-visible enrichment result for one item.
type CacheEntry struct {
	ItemID           int64     `db:"item_id" json:"itemId"`
	Title            string    `db:"title" json:"title"`
	SourceURL        *string   `db:"source_url" json:"sourceUrl,omitempty"`
	TranslatedTitle  string    `db:"translated_title" json:"translatedTitle"`
	Summary          string    `db:"summary" json:"summary"`
	Category         *string   `db:"category" json:"category,omitempty"`
	Tags             []string  `db:"-" json:"tags,omitempty"`
	BodyContent      *string   `db:"body_content" json:"bodyContent,omitempty"`
	ProcessingTimeMs int64     `db:"processing_time_ms" json:"processingTimeMs"`
	ModelUsed        string    `db:"model_used" json:"modelUsed"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
	ExpiresAt        time.Time `db:"expires_at" json:"expiresAt"`
}

// ValidAt reports whether the entry may be served at the given instant.
func (e *CacheEntry) ValidAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// NewCacheEntry builds the entry a worker writes after a successful task.
func NewCacheEntry(task *Task, result EnrichmentResult, processingTime time.Duration, model string) *CacheEntry {
	return &CacheEntry{
		ItemID:           task.ItemID,
		Title:            task.Title,
		SourceURL:        task.SourceURL,
		TranslatedTitle:  result.TranslatedTitle,
		Summary:          result.Summary,
		Category:         result.Category,
		Tags:             NormalizeTags(result.Tags),
		BodyContent:      result.BodyContent,
		ProcessingTimeMs: processingTime.Milliseconds(),
		ModelUsed:        model,
	}
}
