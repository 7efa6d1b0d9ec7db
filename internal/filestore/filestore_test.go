package filestore

import (
	"context"
	"testing"
)

func TestLocal_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	ok, err := s.Exists(ctx, "daily_data_2026_08_28_kinhmatviettin.csv")
	if err != nil || ok {
		t.Fatalf("Exists before put: ok=%v err=%v", ok, err)
	}

	data := []byte("product_name,price\nGọng kính,1250000\n")
	if err := s.Put(ctx, "daily_data_2026_08_28_kinhmatviettin.csv", data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err = s.Exists(ctx, "daily_data_2026_08_28_kinhmatviettin.csv")
	if err != nil || !ok {
		t.Fatalf("Exists after put: ok=%v err=%v", ok, err)
	}

	got, err := s.Fetch(ctx, "daily_data_2026_08_28_kinhmatviettin.csv")
	if err != nil || string(got) != string(data) {
		t.Fatalf("Fetch: %q err=%v", got, err)
	}

	// Nested names create their directories.
	if err := s.Put(ctx, "exports/lws_dw_2026_08_28.csv", data); err != nil {
		t.Fatalf("Put nested: %v", err)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, err := New(ctx, Config{Type: "local", Dir: t.TempDir()}); err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, err := New(ctx, Config{Type: "b2"}); err != nil {
		t.Fatalf("b2: %v", err)
	}
	if _, err := New(ctx, Config{Type: "gcs"}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestSizeKB_RoundsUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want int64
	}{
		{0, 0}, {1, 1}, {1023, 1}, {1024, 1}, {1025, 2}, {34 * 1024, 34},
	}
	for _, tt := range tests {
		if got := SizeKB(tt.n); got != tt.want {
			t.Fatalf("SizeKB(%d)=%d want %d", tt.n, got, tt.want)
		}
	}
}

func TestEscapeKey_KeepsFolderSeparators(t *testing.T) {
	t.Parallel()

	if got := escapeKey("kinhmat/daily data.csv"); got != "kinhmat/daily%20data.csv" {
		t.Fatalf("escapeKey=%q", got)
	}
}
