package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/audioloop/livescribe/pkg/logger"
)

// SegmentStorage handles storage of confirmed segment records
type SegmentStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSegmentStorage creates a new SQLite segment storage
func NewSegmentStorage(db *sql.DB, log *logger.Logger) (*SegmentStorage, error) {
	storage := &SegmentStorage{
		db:     db,
		logger: log.Named("sqlite-segments"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize segment storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *SegmentStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			segment_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			text TEXT NOT NULL,
			text_processed TEXT NOT NULL DEFAULT '',
			start_seconds REAL NOT NULL,
			end_seconds REAL NOT NULL,
			avg_logprob REAL NOT NULL,
			words_json TEXT NOT NULL DEFAULT '',
			is_processed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create segments table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_segments_session ON segments(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_created_at ON segments(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_is_processed ON segments(is_processed)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create segment index: %w", err)
		}
	}

	return nil
}

// StoreSegment stores a confirmed segment record
func (s *SegmentStorage) StoreSegment(record *SegmentRecord) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO segments
		(segment_id, session_id, text, text_processed, start_seconds, end_seconds, avg_logprob, words_json, is_processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SegmentID,
		record.SessionID,
		record.Text,
		record.TextProcessed,
		record.StartSeconds,
		record.EndSeconds,
		record.AvgLogProb,
		record.WordsJSON,
		record.IsProcessed,
		record.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert segment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetSegmentsBySession returns segments for a session in confirmation order
func (s *SegmentStorage) GetSegmentsBySession(sessionID string, limit int) ([]*SegmentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, segment_id, session_id, text, text_processed, start_seconds, end_seconds, avg_logprob, words_json, is_processed, created_at
		FROM segments
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments by session: %w", err)
	}
	defer rows.Close()

	return s.scanSegmentRows(rows)
}

// GetSegmentsByTimeRange returns segments confirmed within a wall-clock range
func (s *SegmentStorage) GetSegmentsByTimeRange(startTime, endTime time.Time) ([]*SegmentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, segment_id, session_id, text, text_processed, start_seconds, end_seconds, avg_logprob, words_json, is_processed, created_at
		FROM segments
		WHERE created_at BETWEEN ? AND ?
		ORDER BY id ASC`,
		startTime.Format(time.RFC3339Nano), endTime.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments by time range: %w", err)
	}
	defer rows.Close()

	return s.scanSegmentRows(rows)
}

// GetRecentSegments returns the most recently confirmed segments across
// all sessions, oldest first
func (s *SegmentStorage) GetRecentSegments(limit int) ([]*SegmentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, segment_id, session_id, text, text_processed, start_seconds, end_seconds, avg_logprob, words_json, is_processed, created_at
		FROM segments
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent segments: %w", err)
	}
	defer rows.Close()

	records, err := s.scanSegmentRows(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// GetUnprocessedSegments returns segments awaiting the post-processing pass
func (s *SegmentStorage) GetUnprocessedSegments(limit int) ([]*SegmentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, segment_id, session_id, text, text_processed, start_seconds, end_seconds, avg_logprob, words_json, is_processed, created_at
		FROM segments
		WHERE is_processed = 0
		ORDER BY id ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed segments: %w", err)
	}
	defer rows.Close()

	return s.scanSegmentRows(rows)
}

// UpdateProcessedSegment stores the post-processed text for a segment
func (s *SegmentStorage) UpdateProcessedSegment(id int64, textProcessed string) error {
	_, err := s.db.Exec(
		`UPDATE segments
		SET text_processed = ?, is_processed = 1
		WHERE id = ?`,
		textProcessed,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update processed segment: %w", err)
	}

	return nil
}

// scanSegmentRows scans database rows into SegmentRecord structs
func (s *SegmentStorage) scanSegmentRows(rows *sql.Rows) ([]*SegmentRecord, error) {
	var records []*SegmentRecord
	for rows.Next() {
		var record SegmentRecord
		var createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.SegmentID,
			&record.SessionID,
			&record.Text,
			&record.TextProcessed,
			&record.StartSeconds,
			&record.EndSeconds,
			&record.AvgLogProb,
			&record.WordsJSON,
			&record.IsProcessed,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		record.CreatedAt = parsed

		records = append(records, &record)
	}

	return records, rows.Err()
}
