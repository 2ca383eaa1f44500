package artifact

import (
	"errors"
	"testing"
	"time"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() *Record {
	return &Record{
		ProbeID:     "probe-1",
		UserID:      "alice",
		RawScore:    0.91,
		Probability: 0.97,
		SpoofScore:  0.002,
		Accepted:    true,
		Strategy:    "integrated_gradients",
		Importance:  [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := memStore(t)
	id, err := s.Put(sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty artifact id")
	}

	rec, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.UserID != "alice" || !rec.Accepted || rec.RawScore != 0.91 {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Importance) != 2 || rec.Importance[1][1] != 0.4 {
		t.Errorf("importance map corrupted: %v", rec.Importance)
	}
}

func TestUniqueIDs(t *testing.T) {
	s := memStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := s.Put(sampleRecord())
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate artifact id %s", id)
		}
		seen[id] = true
	}
}

func TestGetMissing(t *testing.T) {
	s := memStore(t)
	if _, err := s.Get("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestBytes(t *testing.T) {
	s := memStore(t)
	id, err := s.Put(sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	data, err := s.Bytes(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("empty payload")
	}
}

func TestTTLExpiry(t *testing.T) {
	// Badger expiry has one-second granularity.
	s, err := Open(Options{InMemory: true, TTL: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	id, err := s.Put(sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(id); err != nil {
		t.Fatalf("record unavailable before expiry: %v", err)
	}
	time.Sleep(2100 * time.Millisecond)
	if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("error after expiry = %v, want ErrNotFound", err)
	}
}

func TestOnDiskRequiresDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Error("want error when Dir missing in on-disk mode")
	}
}
