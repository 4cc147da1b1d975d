package domain

import "time"

type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (c *StatusCounts) Set(status TaskStatus, n int) {
	switch status {
	case TaskStatusPending:
		c.Pending = n
	case TaskStatusProcessing:
		c.Processing = n
	case TaskStatusCompleted:
		c.Completed = n
	case TaskStatusFailed:
		c.Failed = n
	}
}

type QueueStatus struct {
	StatusCounts
	ActiveWorkers  int `json:"activeWorkers"`
	MaxConcurrency int `json:"maxConcurrency"`
}

// IngestResult holds statistics about one ingestion batch.
type IngestResult struct {
	Received      int
	Resolved      map[int64]CacheEntry
	Queued        int
	AlreadyQueued int
	Failed        int
	Duration      time.Duration
}

// MaintenanceStats holds statistics about one janitor sweep.
type MaintenanceStats struct {
	PurgedEntries int64
	DeletedTasks  int64
	RequeuedTasks int64
	Duration      time.Duration
}
