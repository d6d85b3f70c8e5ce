package sysmetrics

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/yegors/squitter/pkg/logger"
)

type memoryStore struct {
	mu      sync.Mutex
	samples []Usage
	err     error
}

func (m *memoryStore) SaveSystemMetrics(ctx context.Context, ts time.Time, userCPU, sysCPU float64, maxRSS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.samples = append(m.samples, Usage{Timestamp: ts, UserCPU: userCPU, SysCPU: sysCPU, MaxRSS: maxRSS})
	return nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func fixedSample() (Usage, error) {
	return Usage{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		UserCPU:   1.5,
		SysCPU:    0.25,
		MaxRSS:    20480,
	}, nil
}

func TestRecord(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, time.Minute, logger.NewNop())
	r.sample = fixedSample

	if err := r.Record(context.Background()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("stored %d samples, want 1", store.count())
	}
	got := store.samples[0]
	if got.UserCPU != 1.5 || got.SysCPU != 0.25 || got.MaxRSS != 20480 {
		t.Errorf("stored %+v", got)
	}
	if r.Last().MaxRSS != 20480 {
		t.Errorf("Last = %+v", r.Last())
	}
}

func TestRecordStoreError(t *testing.T) {
	store := &memoryStore{err: errors.New("database is locked")}
	r := NewRecorder(store, time.Minute, logger.NewNop())
	r.sample = fixedSample

	if err := r.Record(context.Background()); err == nil {
		t.Fatal("expected store error")
	}
	if r.Last().UserCPU != 1.5 {
		t.Error("sample should be kept even when the store fails")
	}
}

func TestRecorderLoop(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, 5*time.Millisecond, logger.NewNop())
	r.sample = fixedSample

	r.Start(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for store.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if store.count() < 2 {
		t.Errorf("stored %d samples, want at least 2", store.count())
	}
}

func TestSample(t *testing.T) {
	u, err := Sample()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("err = %v, want ErrUnsupported", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if u.MaxRSS <= 0 || u.UserCPU < 0 || u.SysCPU < 0 {
		t.Errorf("sample = %+v", u)
	}
}
