// Package archive serializes transformed batches and writes them to the
// object store as daily CSV and JSON artifacts.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"

	"busfeed/internal/telemetry"
	"busfeed/internal/transform"
)

// Bucket writes one object to the store. Implemented by GCSBucket and by
// test fakes.
type Bucket interface {
	Write(ctx context.Context, key string, data []byte) error
}

// GCSBucket writes objects to a Google Cloud Storage bucket.
type GCSBucket struct {
	bucket *gcs.BucketHandle
}

// NewGCSBucket opens a handle to the named bucket.
func NewGCSBucket(ctx context.Context, name string) (*GCSBucket, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("open storage client: %w", err)
	}
	return &GCSBucket{bucket: client.Bucket(name)}, nil
}

// Write uploads one object.
func (b *GCSBucket) Write(ctx context.Context, key string, data []byte) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	return nil
}

// IsRateLimited reports whether err is a rate-limit rejection from the
// object store. Only these failures are worth the backoff loop; everything
// else fails the upload immediately.
func IsRateLimited(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}

// Uploader writes serialized batches to a Bucket, retrying rate-limited
// uploads with exponential backoff up to a fixed attempt ceiling.
type Uploader struct {
	bucket   Bucket
	attempts int
	log      zerolog.Logger

	// sleep is swappable for tests.
	sleep func(time.Duration)

	// now is swappable for tests; it drives the date in object keys.
	now func() time.Time
}

// NewUploader returns an Uploader with the default retry policy of five
// attempts.
func NewUploader(bucket Bucket, log zerolog.Logger) *Uploader {
	return &Uploader{
		bucket:   bucket,
		attempts: 5,
		log:      log,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// Upload writes one object, retrying only on rate-limit rejections. The
// whole payload is re-sent on every attempt, so a retried upload can never
// leave partial state behind.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte) error {
	var err error
	for attempt := 1; attempt <= u.attempts; attempt++ {
		err = u.bucket.Write(ctx, key, data)
		if err == nil {
			return nil
		}
		if !IsRateLimited(err) {
			return err
		}
		wait := time.Duration(1<<attempt) * time.Second
		u.log.Warn().
			Str("key", key).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("rate limited by object store, backing off")
		u.sleep(wait)
	}
	return fmt.Errorf("upload %s: gave up after %d attempts: %w", key, u.attempts, err)
}

// ArchiveBatch serializes a transformed batch to CSV and line-delimited JSON
// and uploads both, keyed by the calendar day of the flush.
func (u *Uploader) ArchiveBatch(ctx context.Context, batch []transform.Record) error {
	if len(batch) == 0 {
		return nil
	}

	day := u.now().Format("20060102")

	csvData, err := gocsv.MarshalBytes(&batch)
	if err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	if err := u.Upload(ctx, fmt.Sprintf("transformed_data_%s.csv", day), csvData); err != nil {
		return err
	}

	jsonData, err := encodeNDJSON(batch)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return u.Upload(ctx, fmt.Sprintf("transformed_data_%s.json", day), jsonData)
}

// ArchiveStops serializes a day's stop events and uploads them as one JSON
// document.
func (u *Uploader) ArchiveStops(ctx context.Context, events []*telemetry.StopEvent) error {
	if len(events) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stop events: %w", err)
	}
	key := fmt.Sprintf("stop_data_%s.json", u.now().Format("20060102"))
	return u.Upload(ctx, key, data)
}

func encodeNDJSON(batch []transform.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
