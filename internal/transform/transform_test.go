package transform

import (
	"testing"
	"time"

	"busfeed/internal/telemetry"
)

func crumb(t *testing.T, payload string) *telemetry.Breadcrumb {
	t.Helper()
	b, err := telemetry.DecodeBreadcrumb([]byte(payload))
	if err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return b
}

func TestBatchEmpty(t *testing.T) {
	if got := Batch(nil); got != nil {
		t.Errorf("Batch(nil) = %v, want nil", got)
	}
}

func TestBatchSingleton(t *testing.T) {
	rows := Batch([]*telemetry.Breadcrumb{
		crumb(t, `{"VEHICLE_ID":4,"EVENT_NO_TRIP":9,"OPD_DATE":"15JAN2024:00:00:00","ACT_TIME":3600,"METERS":50}`),
	})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	if row.TripID != 9 || row.VehicleID != 4 {
		t.Errorf("row identity = trip %d vehicle %d, want 9/4", row.TripID, row.VehicleID)
	}
	if row.Speed != 0 {
		t.Errorf("singleton speed = %v, want 0", row.Speed)
	}
	want := time.Date(2024, time.January, 15, 1, 0, 0, 0, time.UTC)
	if !row.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", row.Timestamp, want)
	}
}

func TestBatchSpeedBackfill(t *testing.T) {
	// Two records 500s apart covering 100m: 0.2 m/s. The first record has
	// no delta of its own and borrows the value backward.
	rows := Batch([]*telemetry.Breadcrumb{
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":100,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":100,"METERS":100}`),
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":100,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":600,"METERS":200}`),
	})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for i, row := range rows {
		if row.Speed != 0.2 {
			t.Errorf("row %d speed = %v, want 0.2", i, row.Speed)
		}
	}
}

func TestBatchSortsOutOfOrderInput(t *testing.T) {
	rows := Batch([]*telemetry.Breadcrumb{
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":100,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":600,"METERS":200}`),
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":100,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":100,"METERS":100}`),
	})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if !rows[0].Timestamp.Before(rows[1].Timestamp) {
		t.Errorf("rows not in time order: %v then %v", rows[0].Timestamp, rows[1].Timestamp)
	}
	if rows[0].Speed != 0.2 || rows[1].Speed != 0.2 {
		t.Errorf("speeds = %v/%v, want 0.2/0.2", rows[0].Speed, rows[1].Speed)
	}
}

func TestBatchGroupsByTrip(t *testing.T) {
	// Interleaved trips: deltas never cross trip boundaries.
	rows := Batch([]*telemetry.Breadcrumb{
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":1,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":0,"METERS":0}`),
		crumb(t, `{"VEHICLE_ID":2,"EVENT_NO_TRIP":2,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":0,"METERS":0}`),
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":1,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":10,"METERS":100}`),
		crumb(t, `{"VEHICLE_ID":2,"EVENT_NO_TRIP":2,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":10,"METERS":50}`),
	})
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	bySpeed := map[int64]float64{}
	for _, row := range rows {
		bySpeed[row.TripID] = row.Speed
	}
	if bySpeed[1] != 10 {
		t.Errorf("trip 1 speed = %v, want 10", bySpeed[1])
	}
	if bySpeed[2] != 5 {
		t.Errorf("trip 2 speed = %v, want 5", bySpeed[2])
	}
}

func TestBatchMissingMetersFilled(t *testing.T) {
	// The middle record has no odometer reading: its own delta and the
	// next record's delta are both undefined and get forward-filled from
	// the first interval.
	rows := Batch([]*telemetry.Breadcrumb{
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":5,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":0,"METERS":0}`),
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":5,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":10,"METERS":30}`),
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":5,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":20}`),
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":5,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":30,"METERS":90}`),
	})
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	for i, row := range rows {
		if row.Speed != 3 {
			t.Errorf("row %d speed = %v, want 3", i, row.Speed)
		}
	}
}

func TestBatchNoMetersAtAllYieldsZeros(t *testing.T) {
	rows := Batch([]*telemetry.Breadcrumb{
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":5,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":0}`),
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":5,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":10}`),
	})
	for i, row := range rows {
		if row.Speed != 0 {
			t.Errorf("row %d speed = %v, want 0", i, row.Speed)
		}
	}
}

func TestBatchCoordinatesCarriedThrough(t *testing.T) {
	rows := Batch([]*telemetry.Breadcrumb{
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":5,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":0,"GPS_LATITUDE":45.5,"GPS_LONGITUDE":-122.6}`),
		crumb(t, `{"VEHICLE_ID":1,"EVENT_NO_TRIP":5,"OPD_DATE":"01JAN2024:00:00:00","ACT_TIME":10}`),
	})
	if rows[0].Latitude == nil || *rows[0].Latitude != 45.5 {
		t.Errorf("latitude = %v, want 45.5", rows[0].Latitude)
	}
	if rows[0].Longitude == nil || *rows[0].Longitude != -122.6 {
		t.Errorf("longitude = %v, want -122.6", rows[0].Longitude)
	}
	if rows[1].Latitude != nil || rows[1].Longitude != nil {
		t.Errorf("absent coordinates should stay nil, got %v/%v", rows[1].Latitude, rows[1].Longitude)
	}
}
