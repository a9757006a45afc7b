package scylla

import (
	"testing"
	"time"
)

func TestLookbackBucketsWalkBackwardsAcrossMonths(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	buckets := lookbackBuckets(now, 4)
	want := []string{"2026-03-02", "2026-03-01", "2026-02-28", "2026-02-27"}
	if len(buckets) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(buckets))
	}
	for i := range want {
		if buckets[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, buckets)
		}
	}
}

func TestLookbackBucketsNormalizeToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2026, 1, 1, 2, 0, 0, 0, loc)

	buckets := lookbackBuckets(now, 1)
	if buckets[0] != "2025-12-31" {
		t.Fatalf("expected UTC bucket 2025-12-31, got %s", buckets[0])
	}
}
