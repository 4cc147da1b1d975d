package domain

// SummaryProcessing marks a story whose enrichment has not finished yet.
const SummaryProcessing = "processing"

// Story is one discovered item as shown to readers: enriched when a valid cache entry exists,
// otherwise a placeholder that carries the original title.
type Story struct {
	Candidate
	TranslatedTitle  string   `json:"translatedTitle"`
	Summary          string   `json:"summary"`
	Category         *string  `json:"category,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Cached           bool     `json:"cached"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
}

func NewStory(c Candidate, entry *CacheEntry) Story {
	if entry == nil {
		return Story{
			Candidate:       c,
			TranslatedTitle: c.Title,
			Summary:         SummaryProcessing,
		}
	}
	return Story{
		Candidate:        c,
		TranslatedTitle:  entry.TranslatedTitle,
		Summary:          entry.Summary,
		Category:         entry.Category,
		Tags:             entry.Tags,
		Cached:           true,
		ProcessingTimeMs: entry.ProcessingTimeMs,
	}
}
