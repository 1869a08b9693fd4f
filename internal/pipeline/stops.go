package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"busfeed/internal/telemetry"
)

const stopStream = "stops"

// TripStore applies stop-event enrichment to the Trip table.
type TripStore interface {
	EnrichTrip(ctx context.Context, ev *telemetry.StopEvent) error
}

// StopArchiver writes the day's stop events to the object store.
type StopArchiver interface {
	ArchiveStops(ctx context.Context, events []*telemetry.StopEvent) error
}

// StopPipeline is the stop-event ingestion loop. It follows the breadcrumb
// shape but applies each validated record directly to the Trip table instead
// of buffering for a batch transform; the buffer here only feeds the daily
// archive artifact.
type StopPipeline struct {
	trips    TripStore
	archiver StopArchiver
	audit    Audit
	rejects  Rejects
	log      zerolog.Logger

	mu     sync.Mutex
	buffer []*telemetry.StopEvent
}

// NewStopPipeline creates a stop-event pipeline. The archiver may be nil.
func NewStopPipeline(trips TripStore, archiver StopArchiver, log zerolog.Logger) *StopPipeline {
	return &StopPipeline{
		trips:    trips,
		archiver: archiver,
		log:      log,
	}
}

// SetAudit attaches the optional audit sink.
func (p *StopPipeline) SetAudit(a Audit) {
	p.audit = a
}

// SetRejectJournal attaches the optional reject journal.
func (p *StopPipeline) SetRejectJournal(r Rejects) {
	p.rejects = r
}

// Handle processes one delivered stop event. Decodable events are always
// acked: enrichment failures are logged and not worth a redelivery storm,
// since the update is idempotent and the next scrape repeats it anyway.
func (p *StopPipeline) Handle(ctx context.Context, msg Message) {
	payload := msg.Data()

	ev, err := telemetry.DecodeStopEvent(payload)
	if err != nil {
		p.log.Warn().Err(err).Msg("undecodable stop event, rejecting")
		violations := []string{"undecodable payload: " + err.Error()}
		if p.audit != nil {
			if err := p.audit.RecordOutcome(ctx, stopStream, payload, violations); err != nil {
				p.log.Warn().Err(err).Msg("audit write failed")
			}
		}
		if p.rejects != nil {
			p.rejects.Record(stopStream, payload, violations)
		}
		if err := msg.Nak(); err != nil {
			p.log.Error().Err(err).Msg("nack failed")
		}
		return
	}

	if err := msg.Ack(); err != nil {
		p.log.Error().Err(err).Msg("ack failed")
	}
	if p.audit != nil {
		if err := p.audit.RecordOutcome(ctx, stopStream, payload, nil); err != nil {
			p.log.Warn().Err(err).Msg("audit write failed")
		}
	}

	ev.Canonicalize()

	if err := p.trips.EnrichTrip(ctx, ev); err != nil {
		p.log.Error().Err(err).Int64("trip_id", ev.TripID).Msg("trip enrichment failed")
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, ev)
	p.mu.Unlock()
}

// Buffered reports how many stop events are waiting for the daily artifact.
func (p *StopPipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Run subscribes to the source until ctx is done, then drains and writes the
// accumulated events as the day's stop-data artifact.
func (p *StopPipeline) Run(ctx context.Context, src Source) error {
	stop, err := src.Subscribe(func(m Message) { p.Handle(ctx, m) })
	if err != nil {
		return err
	}
	p.log.Info().Msg("listening for stop events")

	<-ctx.Done()
	if err := stop(); err != nil {
		p.log.Warn().Err(err).Msg("drain failed")
	}

	p.mu.Lock()
	events := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if p.archiver != nil && len(events) > 0 {
		if err := p.archiver.ArchiveStops(context.WithoutCancel(ctx), events); err != nil {
			p.log.Error().Err(err).Msg("stop archive write failed")
		}
	}
	p.log.Info().Int("events", len(events)).Msg("stopped listening for stop events")
	return nil
}
