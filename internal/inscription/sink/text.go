// Package sink persists extracted inscriptions to their destinations.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

type textRecord struct {
	ID          string `json:"id"`
	BlockHeight uint64 `json:"block_height"`
	TxIndex     uint32 `json:"tx_index"`
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
}

// TextSink appends text inscriptions to a JSON-lines file. Records are
// flushed to the OS per write so a crash loses at most the line in flight.
type TextSink struct {
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewTextSink opens (appending) the JSON-lines file at path.
func NewTextSink(logger *zap.Logger, path string) (*TextSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open text sink: %w", err)
	}
	return &TextSink{
		logger: logger,
		file:   f,
		enc:    json.NewEncoder(f),
	}, nil
}

// Emit appends one inscription as a JSON line.
func (s *TextSink) Emit(_ context.Context, ins model.Inscription) error {
	rec := textRecord{
		ID:          ins.ID.String(),
		BlockHeight: ins.BlockHeight,
		TxIndex:     ins.TxIndex,
		ContentType: string(ins.ContentType),
		Text:        string(ins.Payload),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write text inscription %s: %w", ins.ID, err)
	}

	s.logger.Debug("stored text inscription",
		zap.String("id", ins.ID.String()),
		zap.Uint64("block_height", ins.BlockHeight),
		zap.Int("bytes", len(ins.Payload)),
	)
	return nil
}

// Close flushes and closes the underlying file.
func (s *TextSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
