package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestReporterCounts(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(Options{
		TotalBundles:   3,
		Output:         &buf,
		UpdateInterval: 10 * time.Millisecond,
		Label:          "hub",
	})

	r.Start()
	r.BundleStarted()
	r.BundleCompleted(1024)
	r.BundleStarted()
	r.BundleFailed()
	r.BundleStarted()
	r.BundleCompleted(2048)
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	time.Sleep(20 * time.Millisecond)

	out := buf.String()
	if !strings.Contains(out, "Fetching: hub") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "2 bundles") {
		t.Errorf("missing final bundle count: %q", out)
	}
	if !strings.Contains(out, "3.00 KB") {
		t.Errorf("missing byte total: %q", out)
	}
	if !strings.Contains(out, "Failed: 1") {
		t.Errorf("missing failure count: %q", out)
	}
}

func TestReporterStopIdempotent(t *testing.T) {
	r := NewReporter(Options{Output: &bytes.Buffer{}})
	r.Start()
	r.Stop()
	r.Stop() // must not panic on double close
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%d): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseBytes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"512B", 512},
		{"1KB", 1024},
		{"256MB", 256 * 1024 * 1024},
		{"1.5GB", 1610612736},
	}
	for _, tc := range cases {
		got, err := ParseBytes(tc.in)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseBytes(%q): got %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := ParseBytes("not-a-size"); err == nil {
		t.Error("expected error for invalid byte string")
	}
}
