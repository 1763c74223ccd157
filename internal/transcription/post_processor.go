package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/audioloop/livescribe/internal/storage/sqlite"
	"github.com/audioloop/livescribe/internal/websocket"
	"github.com/audioloop/livescribe/pkg/logger"
)

// defaultCleanupPrompt instructs the model when no prompt file is
// configured. Raw streaming transcripts carry disfluencies and
// mid-revision artifacts the decoder could not remove.
const defaultCleanupPrompt = `You clean up raw speech-to-text transcripts. ` +
	`For each entry in the JSON array you receive, produce corrected text: fix punctuation and casing, ` +
	`remove filler words and stutters, and repair obvious recognition errors without inventing content. ` +
	`Reply with only a JSON array of objects {"id", "text", "text_processed"} covering every input entry.`

// PostProcessingConfig configures the cleanup loop
type PostProcessingConfig struct {
	Enabled         bool
	Model           string
	IntervalSeconds int
	BatchSize       int
	SystemPrompt    string // empty means defaultCleanupPrompt
}

// PostProcessingStore is the storage surface the post-processor needs
type PostProcessingStore interface {
	GetUnprocessedSegments(limit int) ([]*sqlite.SegmentRecord, error)
	UpdateProcessedSegment(id int64, textProcessed string) error
}

// PostProcessor periodically sends confirmed segments through an LLM
// cleanup pass and publishes the improved text
type PostProcessor struct {
	ctx          context.Context
	cancel       context.CancelFunc
	store        PostProcessingStore
	openaiClient *OpenAIClient
	broadcaster  Broadcaster
	logger       *logger.Logger
	config       PostProcessingConfig
	wg           sync.WaitGroup
}

// NewPostProcessor creates a post-processor. broadcaster may be nil.
func NewPostProcessor(
	ctx context.Context,
	store PostProcessingStore,
	openaiClient *OpenAIClient,
	broadcaster Broadcaster,
	config PostProcessingConfig,
	log *logger.Logger,
) *PostProcessor {
	procCtx, procCancel := context.WithCancel(ctx)

	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultCleanupPrompt
	}

	return &PostProcessor{
		ctx:          procCtx,
		cancel:       procCancel,
		store:        store,
		openaiClient: openaiClient,
		broadcaster:  broadcaster,
		logger:       log.Named("post-processor"),
		config:       config,
	}
}

// Start begins the cleanup loop
func (p *PostProcessor) Start() error {
	if !p.config.Enabled {
		p.logger.Info("Post-processing is disabled, not starting")
		return nil
	}

	p.logger.Info("Starting post-processing loop",
		logger.Int("interval_seconds", p.config.IntervalSeconds),
		logger.Int("batch_size", p.config.BatchSize),
		logger.String("model", p.config.Model))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Duration(p.config.IntervalSeconds) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				p.logger.Info("Post-processing loop stopped")
				return
			case <-ticker.C:
				if err := p.processNextBatch(); err != nil {
					p.logger.Error("Error processing batch", logger.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop halts the cleanup loop and waits for an in-flight batch
func (p *PostProcessor) Stop() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

// processNextBatch runs one cleanup pass over pending segments
func (p *PostProcessor) processNextBatch() error {
	records, err := p.store.GetUnprocessedSegments(p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get unprocessed segments: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	p.logger.Debug("Processing segment batch", logger.Int("count", len(records)))

	batch := make([]CleanupResult, 0, len(records))
	for _, record := range records {
		batch = append(batch, CleanupResult{ID: record.ID, Text: record.Text})
	}

	batchJSON, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal segment batch: %w", err)
	}

	results, err := p.openaiClient.CleanupBatch(p.ctx, p.config.SystemPrompt, string(batchJSON), p.config.Model)
	if err != nil {
		// Mark the batch failed so it is not retried forever
		p.markFailed(records)
		return err
	}
	if len(results) == 0 {
		p.logger.Warn("Model returned no results, marking batch as failed")
		p.markFailed(records)
		return nil
	}

	byID := make(map[int64]*sqlite.SegmentRecord, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}

	for _, result := range results {
		record, ok := byID[result.ID]
		if !ok {
			p.logger.Warn("Model returned unknown segment ID", logger.Int64("id", result.ID))
			continue
		}
		if result.TextProcessed == "" {
			p.logger.Warn("Skipping result with empty processed text", logger.Int64("id", result.ID))
			continue
		}

		if err := p.store.UpdateProcessedSegment(result.ID, result.TextProcessed); err != nil {
			p.logger.Error("Failed to update processed segment",
				logger.Int64("id", result.ID),
				logger.Error(err))
			continue
		}

		p.broadcastUpdate(record, result.TextProcessed)
	}

	return nil
}

// markFailed stamps a failure marker on every record in the batch
func (p *PostProcessor) markFailed(records []*sqlite.SegmentRecord) {
	for _, record := range records {
		if err := p.store.UpdateProcessedSegment(record.ID, "[PROCESSING_FAILED]"); err != nil {
			p.logger.Error("Failed to mark segment as failed",
				logger.Int64("id", record.ID),
				logger.Error(err))
		}
	}
}

// broadcastUpdate pushes the cleaned text to live clients
func (p *PostProcessor) broadcastUpdate(record *sqlite.SegmentRecord, textProcessed string) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.Broadcast(&websocket.Message{
		Type: "segment_update",
		Data: map[string]interface{}{
			"id":             record.ID,
			"segment_id":     record.SegmentID,
			"session_id":     record.SessionID,
			"text":           record.Text,
			"text_processed": textProcessed,
			"is_processed":   true,
		},
	})
}
