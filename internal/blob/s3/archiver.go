package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/duration-fi/durationd/internal/domain"
)

// BlobWriter is the narrow upload interface the archiver needs. *Writer
// satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// SettlementArchiveStore provides read access to aged settlement records.
// The Postgres SettlementStore satisfies it implicitly.
type SettlementArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementRecord, error)
}

// OptionArchiveStore provides read access to options by state. The archiver
// filters for terminal options settled before the cutoff.
type OptionArchiveStore interface {
	ListByState(ctx context.Context, state domain.OptionState, opts domain.ListOpts) ([]domain.ActiveOption, error)
}

// Archiver serializes aged settlement records and settled options to JSONL
// and uploads them to cold storage. Deleting archived rows from the primary
// store is a separate explicit step, executed only after the archive has
// been verified.
type Archiver struct {
	writer      BlobWriter
	settlements SettlementArchiveStore
	options     OptionArchiveStore
	audit       domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, settlements SettlementArchiveStore, options OptionArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:      writer,
		settlements: settlements,
		options:     options,
		audit:       audit,
	}
}

// ArchiveSettlements uploads all settlement records older than the cutoff to
// archive/settlements/YYYY-MM.jsonl and records the event in the audit log.
func (a *Archiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := archivePath("settlements", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(recs))
	if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
	}
	return count, nil
}

// ArchiveOptions uploads terminal options settled before the cutoff to
// archive/options/YYYY-MM.jsonl.
func (a *Archiver) ArchiveOptions(ctx context.Context, before time.Time) (int64, error) {
	states := []domain.OptionState{
		domain.OptionStateExercised,
		domain.OptionStateExpired,
		domain.OptionStateLiquidated,
	}

	var aged []domain.ActiveOption
	for _, state := range states {
		opts, err := a.options.ListByState(ctx, state, domain.ListOpts{})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive options query %s: %w", state, err)
		}
		for _, o := range opts {
			if o.SettledAt != nil && o.SettledAt.Before(before) {
				aged = append(aged, o)
			}
		}
	}
	if len(aged) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(aged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive options marshal: %w", err)
	}

	path := archivePath("options", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive options upload: %w", err)
	}

	count := int64(len(aged))
	if err := a.audit.Log(ctx, "archive.options", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive options audit log: %w", err)
	}
	return count, nil
}

// archivePath names archive objects by kind and cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
