package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// ListingArchiveStore provides the archiver's read access to terminal
// listings. The Postgres listing store satisfies it.
type ListingArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Listing, error)
}

// ArchiveImpl implements domain.Archiver by querying the mirror stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived rows from the mirror is intentionally NOT
// performed here; that is a separate, explicit step to run after the archive
// has been verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	listings ListingArchiveStore
	audit    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, listings ListingArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		listings: listings,
		audit:    audit,
	}
}

// ArchiveListings uploads all filled and cancelled listings whose terminal
// timestamp precedes the cutoff as a JSONL file under
// archive/listings/YYYY-MM.jsonl, records the run in the audit log, and
// returns the number of archived records.
func (a *ArchiveImpl) ArchiveListings(ctx context.Context, before time.Time) (int64, error) {
	listings, err := a.listings.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	if len(listings) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(listings)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings marshal: %w", err)
	}

	path := archivePath("listings", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive listings upload: %w", err)
	}

	count := int64(len(listings))
	if err := a.audit.Log(ctx, "archive.listings", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive listings audit log: %w", err)
	}
	return count, nil
}

// ArchiveAuditLog uploads audit entries older than the cutoff as a JSONL
// file under archive/audit_log/YYYY-MM.jsonl and returns the number of
// archived records.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log marshal: %w", err)
	}

	path := archivePath("audit_log", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log upload: %w", err)
	}

	return int64(len(entries)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/listings/2026-08.jsonl
//	archive/audit_log/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON, one
// compact line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
