package sqlite

import "time"

// SegmentRecord represents a confirmed segment persisted for a session
type SegmentRecord struct {
	ID            int64     `json:"id"`
	SegmentID     string    `json:"segment_id"` // engine-assigned UUID
	SessionID     string    `json:"session_id"`
	Text          string    `json:"text"`
	TextProcessed string    `json:"text_processed,omitempty"`
	StartSeconds  float64   `json:"start_seconds"`
	EndSeconds    float64   `json:"end_seconds"`
	AvgLogProb    float64   `json:"avg_logprob"`
	WordsJSON     string    `json:"words_json,omitempty"`
	IsProcessed   bool      `json:"is_processed"`
	CreatedAt     time.Time `json:"created_at"`
}
