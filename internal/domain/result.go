package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"slices"
	"strings"
)

// EnrichmentResult is what the translation capability produces for one item.
type EnrichmentResult struct {
	TranslatedTitle string   `json:"translatedTitle"`
	Summary         string   `json:"summary"`
	Category        *string  `json:"category,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	BodyContent     *string  `json:"bodyContent,omitempty"`
}

// Value stores the result as JSONB.
func (r EnrichmentResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *EnrichmentResult) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("enrichment result: unsupported scan type")
	}
	return json.Unmarshal(data, r)
}

// NormalizeTags trims, drops empty values and removes duplicates while keeping first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
