package store

import (
	"math"
	"testing"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
)

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultLimit, 0: DefaultLimit, 1: 1, 250: 250, 5000: MaxLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestEncodeDecodeRecord(t *testing.T) {
	rec := model.LogRecord{
		Log:         &model.LogPayload{Content: "sshd: failed password", Level: "WARN"},
		AnomalyType: "authentication_error",
		Confidence:  model.Float(0.93),
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Content() != "sshd: failed password" || *got.Confidence != 0.93 {
		t.Fatalf("unexpected decoded record %+v", got)
	}

	if _, err := EncodeRecord(model.LogRecord{Confidence: model.Float(math.NaN())}); err == nil {
		t.Fatal("expected NaN confidence to be rejected")
	}
}

func TestBucketize(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	samples := []Sample{
		{IngestedAt: base.Add(5 * time.Second), AnomalyType: "system_critical"},
		{IngestedAt: base.Add(50 * time.Second), AnomalyType: "normal"},
		{IngestedAt: base.Add(3 * time.Minute), AnomalyType: "network_error"},
	}
	isThreat := func(s string) bool { return s != "normal" }

	points := Bucketize(samples, time.Minute, isThreat)
	if len(points) != 2 {
		t.Fatalf("expected 2 buckets, got %+v", points)
	}
	if points[0].Time != base.UnixMilli() || points[0].Count != 2 || points[0].Threats != 1 {
		t.Fatalf("unexpected first bucket %+v", points[0])
	}
	if points[1].Time != base.Add(3*time.Minute).UnixMilli() || points[1].Threats != 1 {
		t.Fatalf("unexpected second bucket %+v", points[1])
	}
}
