package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kolstream/kolbot/internal/domain"
)

// Archiver serializes execution records to JSONL and uploads them ahead of
// pruning, so the idempotency history survives retention.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates an Archiver writing through the given BlobWriter.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveExecutions uploads the records as one JSONL object and returns its
// path. The path is partitioned by upload date:
//
//	archive/executions/2026/08/23/150405.jsonl
func (a *Archiver) ArchiveExecutions(ctx context.Context, recs []domain.ExecutionRecord) (string, error) {
	if len(recs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return "", fmt.Errorf("s3blob: marshal execution %s: %w", rec.PostID, err)
		}
	}

	now := time.Now().UTC()
	path := fmt.Sprintf("archive/executions/%s.jsonl", now.Format("2006/01/02/150405"))

	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive executions: %w", err)
	}
	return path, nil
}
