package telemetry

import (
	"testing"
)

func TestDecodeBreadcrumb(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		wantErr bool
		check   func(t *testing.T, b *Breadcrumb)
	}{
		{
			name: "all fields as numbers",
			payload: `{"VEHICLE_ID":3624,"EVENT_NO_TRIP":229178336,"EVENT_NO_STOP":"5",
				"OPD_DATE":"15JAN2024:08:30:00","ACT_TIME":30600,"METERS":1200.5,
				"GPS_SATELLITES":9,"GPS_HDOP":0.8,"GPS_LATITUDE":45.5231,"GPS_LONGITUDE":-122.6765}`,
			check: func(t *testing.T, b *Breadcrumb) {
				if b.VehicleID == nil || *b.VehicleID != 3624 {
					t.Errorf("VehicleID = %v, want 3624", b.VehicleID)
				}
				if b.TripID == nil || *b.TripID != 229178336 {
					t.Errorf("TripID = %v, want 229178336", b.TripID)
				}
				if b.ElapsedSeconds() != 30600 {
					t.Errorf("ElapsedSeconds() = %d, want 30600", b.ElapsedSeconds())
				}
				if b.Meters == nil || *b.Meters != 1200.5 {
					t.Errorf("Meters = %v, want 1200.5", b.Meters)
				}
			},
		},
		{
			name:    "numeric fields as strings",
			payload: `{"VEHICLE_ID":"3624","ACT_TIME":"30600","METERS":"1200.5","GPS_LATITUDE":"45.5"}`,
			check: func(t *testing.T, b *Breadcrumb) {
				if b.VehicleID == nil || *b.VehicleID != 3624 {
					t.Errorf("VehicleID = %v, want 3624", b.VehicleID)
				}
				if b.ElapsedSeconds() != 30600 {
					t.Errorf("ElapsedSeconds() = %d, want 30600", b.ElapsedSeconds())
				}
				if b.Latitude == nil || *b.Latitude != 45.5 {
					t.Errorf("Latitude = %v, want 45.5", b.Latitude)
				}
			},
		},
		{
			name:    "absent fields stay nil",
			payload: `{"VEHICLE_ID":1}`,
			check: func(t *testing.T, b *Breadcrumb) {
				if b.TripID != nil || b.StopID != nil || b.Meters != nil {
					t.Errorf("expected absent fields to be nil: %+v", b)
				}
				if b.ElapsedSeconds() != -1 {
					t.Errorf("ElapsedSeconds() = %d, want -1 for absent ACT_TIME", b.ElapsedSeconds())
				}
			},
		},
		{
			name:    "stop ID keeps its raw token",
			payload: `{"EVENT_NO_STOP":"abc"}`,
			check: func(t *testing.T, b *Breadcrumb) {
				if b.StopID == nil || string(*b.StopID) != "abc" {
					t.Errorf("StopID = %v, want abc", b.StopID)
				}
			},
		},
		{
			name:    "garbage vehicle ID fails decode",
			payload: `{"VEHICLE_ID":"not-a-number"}`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			payload: `this is not json`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := DecodeBreadcrumb([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected decode error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBreadcrumb: %v", err)
			}
			tc.check(t, b)
		})
	}
}

func TestFingerprintOrderIndependent(t *testing.T) {
	a, err := DecodeBreadcrumb([]byte(`{"VEHICLE_ID":1,"EVENT_NO_TRIP":2,"ACT_TIME":300}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := DecodeBreadcrumb([]byte(`{"ACT_TIME":300,"EVENT_NO_TRIP":2,"VEHICLE_ID":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprints differ for reordered fields: %q vs %q", a.Fingerprint(), b.Fingerprint())
	}
}

func TestFingerprintDistinguishesRecords(t *testing.T) {
	testCases := []struct {
		name string
		a, b string
	}{
		{
			name: "different value",
			a:    `{"VEHICLE_ID":1,"ACT_TIME":300}`,
			b:    `{"VEHICLE_ID":1,"ACT_TIME":301}`,
		},
		{
			name: "absent vs present field",
			a:    `{"VEHICLE_ID":1}`,
			b:    `{"VEHICLE_ID":1,"ACT_TIME":300}`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ra, _ := DecodeBreadcrumb([]byte(tc.a))
			rb, _ := DecodeBreadcrumb([]byte(tc.b))
			if ra.Fingerprint() == rb.Fingerprint() {
				t.Errorf("fingerprints collide: %q", ra.Fingerprint())
			}
		})
	}
}
