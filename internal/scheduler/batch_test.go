package scheduler

import (
	"strings"
	"testing"
)

func batchOf(labels ...string) Batch {
	b := Batch{}
	for _, l := range labels {
		b.Add(l)
	}
	return b
}

func TestBatchFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{name: "single", labels: []string{"pool_fault"}, want: "pool_fault"},
		{name: "repeat", labels: []string{"pool_fault", "pool_fault"}, want: "pool_fault:2"},
		{name: "sorted bare", labels: []string{"vdev.bad_ashift", "io_failure", "checksum"}, want: "checksum, io_failure, vdev.bad_ashift"},
		{name: "counts for every label once any repeats", labels: []string{"b", "a", "b", "c", "b"}, want: "a:1, b:3, c:1"},
		{name: "empty", labels: nil, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := batchOf(tt.labels...).Format(); got != tt.want {
				t.Fatalf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBatchFormatIsStable(t *testing.T) {
	t.Parallel()
	b := batchOf("z", "m", "a", "m", "q", "z", "k")
	first := b.Format()
	for i := 0; i < 50; i++ {
		if got := b.Format(); got != first {
			t.Fatalf("Format() changed between calls: %q then %q", first, got)
		}
	}
	if b.Total() != 7 || len(b) != 5 {
		t.Fatalf("Format mutated the batch: %v", b)
	}
}

func TestBatchFormatNeverMixesCounts(t *testing.T) {
	t.Parallel()
	b := batchOf("a", "b", "c", "c")
	parts := strings.Split(b.Format(), ", ")
	for _, p := range parts {
		if !strings.Contains(p, ":") {
			t.Fatalf("part %q has no count in %q", p, b.Format())
		}
	}

	b = batchOf("a", "b", "c")
	if strings.Contains(b.Format(), ":") {
		t.Fatalf("unexpected count in %q", b.Format())
	}
}

func TestBatchMerge(t *testing.T) {
	t.Parallel()
	b := batchOf("a", "b")
	b.Merge(batchOf("b", "c"))
	if got := b.Format(); got != "a:1, b:2, c:1" {
		t.Fatalf("merged = %q", got)
	}
}
