// Package pipeline implements the stateful ingestion loops: queue messages
// in, validated records buffered, flush-bounded batches out to the sinks.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"busfeed/internal/telemetry"
	"busfeed/internal/transform"
	"busfeed/internal/validate"
)

// Message is one delivered queue message. Ack confirms consumption; Nak asks
// the queue to redeliver.
type Message interface {
	Data() []byte
	Ack() error
	Nak() error
}

// Source delivers queue messages to a handler until stopped. The returned
// stop function drains the subscription: in-flight handler calls finish, no
// new messages arrive.
type Source interface {
	Subscribe(h func(Message)) (stop func() error, err error)
}

// BatchSink persists one transformed batch transactionally.
type BatchSink interface {
	WriteBatch(ctx context.Context, batch []transform.Record) error
}

// Archiver writes serialized batch artifacts to the object store.
type Archiver interface {
	ArchiveBatch(ctx context.Context, batch []transform.Record) error
}

// Audit records every inbound message with its validation outcome.
type Audit interface {
	RecordOutcome(ctx context.Context, stream string, payload []byte, violations []string) error
}

// Rejects journals rejected records locally.
type Rejects interface {
	Record(stream string, payload []byte, violations []string)
}

const breadcrumbStream = "breadcrumbs"

// Config holds the pipeline's flush policy.
type Config struct {
	// FlushSize flushes the working buffer when it reaches this many
	// accepted records. Zero disables size-based flushing.
	FlushSize int

	// FlushInterval flushes the working buffer on this period. Zero
	// disables interval flushing; the final drain still runs.
	FlushInterval time.Duration
}

// Pipeline is the breadcrumb ingestion loop. The queue client may dispatch
// delivery callbacks concurrently, so the working buffer is mutex-owned and
// flushes swap it out atomically: no accepted record is transformed twice or
// lost between flush and clear.
type Pipeline struct {
	cfg      Config
	tracker  *validate.Tracker
	sink     BatchSink
	archiver Archiver
	audit    Audit
	rejects  Rejects
	log      zerolog.Logger

	mu     sync.Mutex
	buffer []*telemetry.Breadcrumb
}

// New creates a breadcrumb pipeline. The archiver may be nil when no object
// store is configured.
func New(cfg Config, tracker *validate.Tracker, sink BatchSink, archiver Archiver, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		tracker:  tracker,
		sink:     sink,
		archiver: archiver,
		log:      log,
	}
}

// SetAudit attaches the optional audit sink.
func (p *Pipeline) SetAudit(a Audit) {
	p.audit = a
}

// SetRejectJournal attaches the optional reject journal.
func (p *Pipeline) SetRejectJournal(r Rejects) {
	p.rejects = r
}

// Handle processes one delivered message: decode, validate, ack or nack,
// and buffer on acceptance. It never returns an error; every failure mode is
// a logged outcome for the message, not a loop abort.
func (p *Pipeline) Handle(ctx context.Context, msg Message) {
	payload := msg.Data()

	crumb, err := telemetry.DecodeBreadcrumb(payload)
	if err != nil {
		p.log.Warn().Err(err).Msg("undecodable message, rejecting")
		p.recordReject(ctx, payload, []string{"undecodable payload: " + err.Error()})
		if err := msg.Nak(); err != nil {
			p.log.Error().Err(err).Msg("nack failed")
		}
		return
	}

	violations := validate.Validate(crumb, p.tracker)
	if len(violations) > 0 {
		p.log.Info().Strs("violations", violations).Msg("record rejected")
		p.recordReject(ctx, payload, violations)
		if err := msg.Nak(); err != nil {
			p.log.Error().Err(err).Msg("nack failed")
		}
		return
	}

	if err := msg.Ack(); err != nil {
		p.log.Error().Err(err).Msg("ack failed")
	}
	if p.audit != nil {
		if err := p.audit.RecordOutcome(ctx, breadcrumbStream, payload, nil); err != nil {
			p.log.Warn().Err(err).Msg("audit write failed")
		}
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, crumb)
	full := p.cfg.FlushSize > 0 && len(p.buffer) >= p.cfg.FlushSize
	p.mu.Unlock()

	if full {
		p.Flush(ctx)
	}
}

func (p *Pipeline) recordReject(ctx context.Context, payload []byte, violations []string) {
	if p.audit != nil {
		if err := p.audit.RecordOutcome(ctx, breadcrumbStream, payload, violations); err != nil {
			p.log.Warn().Err(err).Msg("audit write failed")
		}
	}
	if p.rejects != nil {
		p.rejects.Record(breadcrumbStream, payload, violations)
	}
}

// Flush moves the working buffer through the batch transform and into the
// sinks. The relational write and the archive write are independent: a
// failed transaction is rolled back and logged, and the archive still runs,
// leaving an offline replay path for the batch.
func (p *Pipeline) Flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	records := transform.Batch(batch)
	p.log.Info().Int("records", len(records)).Msg("flushing batch")

	if err := p.sink.WriteBatch(ctx, records); err != nil {
		p.log.Error().Err(err).Int("records", len(records)).
			Msg("relational write failed, batch rolled back")
	}

	if p.archiver != nil {
		if err := p.archiver.ArchiveBatch(ctx, records); err != nil {
			p.log.Error().Err(err).Msg("archive write failed")
		}
	}
}

// Buffered reports how many accepted records are waiting for the next flush.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Run subscribes to the source and drives the flush schedule until ctx is
// done, then drains the subscription and performs one final flush over
// whatever remains in the buffer.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	stop, err := src.Subscribe(func(m Message) { p.Handle(ctx, m) })
	if err != nil {
		return err
	}
	p.log.Info().Msg("listening for breadcrumbs")

	var tick <-chan time.Time
	if p.cfg.FlushInterval > 0 {
		t := time.NewTicker(p.cfg.FlushInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-tick:
			p.Flush(ctx)
		case <-ctx.Done():
			if err := stop(); err != nil {
				p.log.Warn().Err(err).Msg("drain failed")
			}
			// The run deadline has passed; the final flush still has
			// to reach the sinks.
			p.Flush(context.WithoutCancel(ctx))
			p.log.Info().Msg("stopped listening for breadcrumbs")
			return nil
		}
	}
}
