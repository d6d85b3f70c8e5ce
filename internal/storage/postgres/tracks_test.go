package postgres

import (
	"testing"
	"time"

	"github.com/yegors/squitter/internal/track"
)

func TestConnString(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, Database: "squitter", User: "adsb", Password: "secret"}
	want := "postgres://adsb:secret@db:5433/squitter?sslmode=disable"
	if got := cfg.ConnString(); got != want {
		t.Errorf("ConnString = %q, want %q", got, want)
	}
}

func TestReportArgs(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	alt := 38000
	tr := track.Track{
		ICAO:       "40621D",
		Altitude:   &alt,
		NIC:        track.Quality{Value: 8, Source: track.SourceLegacy},
		Archive:    track.Archive{Even: "8D40621D58C382D690C8AC2863A7", EvenAt: at},
		LastUpdate: at,
	}

	args := reportArgs("rx1", tr)
	if len(args) != 23 {
		t.Fatalf("got %d args, want 23", len(args))
	}
	if args[0] != "rx1" || args[1] != "40621D" {
		t.Errorf("key columns = %v, %v", args[0], args[1])
	}
	if cs, ok := args[2].(*string); !ok || cs != nil {
		t.Errorf("callsign = %v, want nil *string", args[2])
	}
	if even, ok := args[10].(*time.Time); !ok || even == nil || !even.Equal(at) {
		t.Errorf("timestamp_even = %v", args[10])
	}
	if odd, ok := args[11].(*time.Time); !ok || odd != nil {
		t.Errorf("timestamp_odd = %v, want nil", args[11])
	}
	if nic, ok := args[18].(*int); !ok || nic == nil || *nic != 8 {
		t.Errorf("nic = %v", args[18])
	}
	if nacp, ok := args[16].(*int); !ok || nacp != nil {
		t.Errorf("nac_p = %v, want nil", args[16])
	}
}
