package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/evcraddock/street-kams/internal/blob"
	"github.com/evcraddock/street-kams/internal/telemetry"
	"github.com/evcraddock/street-kams/internal/visit"
)

// ErrNothingToExport means the visit list was empty.
var ErrNothingToExport = errors.New("nothing to export")

// UploadError reports a failed upload after the local save succeeded.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Saver performs the local save of an export. It must succeed for the
// export to count.
type Saver interface {
	Save(ctx context.Context, fileName string, data []byte) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, fileName string, data []byte) error

// Save calls f.
func (f SaverFunc) Save(ctx context.Context, fileName string, data []byte) error {
	return f(ctx, fileName, data)
}

// DirSaver writes exports into a local directory.
type DirSaver string

// Save writes data to dir/fileName.
func (d DirSaver) Save(ctx context.Context, fileName string, data []byte) error {
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	return os.WriteFile(filepath.Join(string(d), fileName), data, 0o644)
}

// Result describes a finished export.
type Result struct {
	FileName string
	Rows     int
	Data     []byte
	Key      string
	URL      string
	// UploadErr is set when the file was saved but not uploaded.
	UploadErr error
}

// Uploaded reports whether the upload step succeeded.
func (r *Result) Uploaded() bool { return r.UploadErr == nil && r.Key != "" }

// Exporter runs exports for one survey schema.
type Exporter struct {
	schema *visit.Schema
	blobs  blob.Store
	log    *Log
	appID  string
	now    func() time.Time
}

// NewExporter creates an exporter. blobs and log may be nil, in which case
// the upload step or the export log is skipped.
func NewExporter(schema *visit.Schema, blobs blob.Store, log *Log, appID string) *Exporter {
	return &Exporter{schema: schema, blobs: blobs, log: log, appID: appID, now: time.Now}
}

// Export serializes visits and saves them with saver, then uploads the same
// bytes under the owner's export key. A save failure is returned as an error;
// an upload failure only sets Result.UploadErr.
func (e *Exporter) Export(ctx context.Context, owner visit.Owner, visits []*visit.Visit, saver Saver) (*Result, error) {
	if len(visits) == 0 {
		return nil, ErrNothingToExport
	}

	ctx, span := telemetry.Tracer("export").Start(ctx, "export.Export")
	defer span.End()
	span.SetAttributes(attribute.Int("export.rows", len(visits)))

	var buf bytes.Buffer
	if err := Encode(&buf, visits, e.schema); err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}

	res := &Result{FileName: FileName(e.now()), Rows: len(visits), Data: buf.Bytes()}

	if err := saver.Save(ctx, res.FileName, res.Data); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("saving %s: %w", res.FileName, err)
	}

	res.Key = blob.ExportKey(e.appID, owner.ID, res.FileName)
	res.UploadErr = e.upload(ctx, res)
	if res.UploadErr != nil {
		span.RecordError(res.UploadErr)
		slog.WarnContext(ctx, "export saved but not uploaded", "owner", owner.ID, "file", res.FileName, "error", res.UploadErr)
	}

	if e.log != nil {
		if err := e.log.Record(ctx, owner.ID, res); err != nil {
			slog.WarnContext(ctx, "recording export", "owner", owner.ID, "error", err)
		}
	}
	return res, nil
}

func (e *Exporter) upload(ctx context.Context, res *Result) error {
	if e.blobs == nil {
		return &UploadError{Key: res.Key, Err: errors.New("blob storage not configured")}
	}
	if err := e.blobs.Put(ctx, res.Key, res.Data, ContentType); err != nil {
		return &UploadError{Key: res.Key, Err: err}
	}
	url, err := e.blobs.URL(ctx, res.Key)
	if err != nil {
		return &UploadError{Key: res.Key, Err: err}
	}
	res.URL = url
	return nil
}
