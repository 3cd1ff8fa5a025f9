package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/kolstream/kolbot/internal/domain"
)

type memBlobWriter struct {
	path        string
	contentType string
	data        []byte
	puts        int
}

func (w *memBlobWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path = path
	w.contentType = contentType
	w.data = body
	w.puts++
	return nil
}

func TestArchiveExecutionsWritesJSONL(t *testing.T) {
	writer := &memBlobWriter{}
	a := NewArchiver(writer)

	recs := []domain.ExecutionRecord{
		{PostID: "p1", Asset: "POPCAT", VenueKind: domain.VenueSpot, Status: domain.ExecConfirmed, IdempotencyToken: "tok-1", UpdatedAt: time.Now().UTC()},
		{PostID: "p2", Asset: "HYPE", VenueKind: domain.VenuePerp, Status: domain.ExecExpired, IdempotencyToken: "tok-2", LastError: "no terminal venue answer within budget"},
	}

	path, err := a.ArchiveExecutions(context.Background(), recs)
	if err != nil {
		t.Fatal(err)
	}
	if path != writer.path {
		t.Fatalf("returned path %q, wrote %q", path, writer.path)
	}
	if ok, _ := regexp.MatchString(`^archive/executions/\d{4}/\d{2}/\d{2}/\d{6}\.jsonl$`, path); !ok {
		t.Fatalf("path = %q, want date-partitioned layout", path)
	}
	if writer.contentType != "application/x-ndjson" {
		t.Fatalf("content type = %q", writer.contentType)
	}

	scanner := bufio.NewScanner(bytes.NewReader(writer.data))
	var lines int
	for scanner.Scan() {
		var rec domain.ExecutionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d: %v", lines+1, err)
		}
		if rec.PostID != recs[lines].PostID || rec.Status != recs[lines].Status {
			t.Fatalf("line %d = %+v, want %+v", lines+1, rec, recs[lines])
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines = %d, want 2", lines)
	}
}

func TestArchiveExecutionsSkipsEmptyBatch(t *testing.T) {
	writer := &memBlobWriter{}
	a := NewArchiver(writer)

	path, err := a.ArchiveExecutions(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if path != "" || writer.puts != 0 {
		t.Fatalf("empty batch uploaded: path %q, puts %d", path, writer.puts)
	}
}
