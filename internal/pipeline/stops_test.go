package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"busfeed/internal/telemetry"
)

type fakeTripStore struct {
	enriched []*telemetry.StopEvent
	err      error
}

func (s *fakeTripStore) EnrichTrip(_ context.Context, ev *telemetry.StopEvent) error {
	s.enriched = append(s.enriched, ev)
	return s.err
}

type fakeStopArchiver struct {
	calls [][]*telemetry.StopEvent
}

func (a *fakeStopArchiver) ArchiveStops(_ context.Context, events []*telemetry.StopEvent) error {
	a.calls = append(a.calls, events)
	return nil
}

func TestStopHandleEnrichesCanonicalized(t *testing.T) {
	trips := &fakeTripStore{}
	p := NewStopPipeline(trips, nil, zerolog.Nop())

	msg := &fakeMessage{payload: []byte(`{"trip_id":200,"route_number":9,"service_key":"W","direction":"0"}`)}
	p.Handle(context.Background(), msg)

	if !msg.acked || msg.naked {
		t.Errorf("acked=%v naked=%v, want acked only", msg.acked, msg.naked)
	}
	if len(trips.enriched) != 1 {
		t.Fatalf("enriched = %d, want 1", len(trips.enriched))
	}
	ev := trips.enriched[0]
	if ev.TripID != 200 {
		t.Errorf("trip_id = %d, want 200", ev.TripID)
	}
	if ev.ServiceKey != "Weekday" || ev.Direction != "Out" {
		t.Errorf("canonical fields = %q/%q, want Weekday/Out", ev.ServiceKey, ev.Direction)
	}
	if got := p.Buffered(); got != 1 {
		t.Errorf("Buffered = %d, want 1", got)
	}
}

func TestStopHandleRejectsMissingTripID(t *testing.T) {
	trips := &fakeTripStore{}
	rejects := &fakeRejects{}
	p := NewStopPipeline(trips, nil, zerolog.Nop())
	p.SetRejectJournal(rejects)

	msg := &fakeMessage{payload: []byte(`{"route_number":9,"service_key":"W"}`)}
	p.Handle(context.Background(), msg)

	if msg.acked || !msg.naked {
		t.Errorf("acked=%v naked=%v, want naked only", msg.acked, msg.naked)
	}
	if len(trips.enriched) != 0 {
		t.Errorf("enriched = %d, want 0", len(trips.enriched))
	}
	if len(rejects.entries) != 1 || rejects.entries[0].stream != "stops" {
		t.Errorf("reject journal = %v, want one stops entry", rejects.entries)
	}
}

func TestStopRunWritesDailyArtifact(t *testing.T) {
	trips := &fakeTripStore{}
	archiver := &fakeStopArchiver{}
	src := &fakeSource{messages: [][]byte{
		[]byte(`{"trip_id":200,"service_key":"S","direction":"1"}`),
		[]byte(`{"trip_id":201,"service_key":"U","direction":"0"}`),
	}}
	p := NewStopPipeline(trips, archiver, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !src.drained {
		t.Error("subscription not drained")
	}
	if len(archiver.calls) != 1 || len(archiver.calls[0]) != 2 {
		t.Fatalf("archive calls = %v, want one call with 2 events", archiver.calls)
	}
	if got := p.Buffered(); got != 0 {
		t.Errorf("Buffered after run = %d, want 0", got)
	}
}
