package audio

import (
	"errors"
	"math"
	"testing"
)

func planOpts(d, o float64) ChunkOptions {
	return ChunkOptions{AutoChunk: true, Duration: d, Overlap: o, MinChunk: 1}
}

func TestPlanFixedIntervals(t *testing.T) {
	spans, err := Plan(30, planOpts(10, 0), 0)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	want := [][2]float64{{0, 10}, {10, 20}, {20, 30}}
	if len(spans) != len(want) {
		t.Fatalf("expected %d spans, got %d", len(want), len(spans))
	}
	for i, w := range want {
		if spans[i].Index != i || spans[i].Start != w[0] || spans[i].Boundary != w[0] || spans[i].End != w[1] {
			t.Fatalf("unexpected span %d: %+v", i, spans[i])
		}
	}
}

func TestPlanShortSourceSingleChunk(t *testing.T) {
	for _, total := range []float64{0.5, 5, 10} {
		spans, err := Plan(total, planOpts(10, 2), 0)
		if err != nil {
			t.Fatalf("Plan(%v) returned error: %v", total, err)
		}
		if len(spans) != 1 {
			t.Fatalf("Plan(%v): expected 1 span, got %d", total, len(spans))
		}
		if spans[0].Start != 0 || spans[0].Boundary != 0 || spans[0].End != total {
			t.Fatalf("Plan(%v): unexpected span %+v", total, spans[0])
		}
	}
}

func TestPlanOverlapExtendsBackward(t *testing.T) {
	spans, err := Plan(25, planOpts(10, 2), 0)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	if spans[0].Start != 0 {
		t.Fatalf("first chunk must not carry overlap: %+v", spans[0])
	}
	if spans[1].Start != 8 || spans[1].Boundary != 10 {
		t.Fatalf("unexpected second span: %+v", spans[1])
	}
	if spans[2].Start != 18 || spans[2].Boundary != 20 || spans[2].End != 25 {
		t.Fatalf("unexpected last span: %+v", spans[2])
	}
}

func TestPlanMergesMicroTail(t *testing.T) {
	spans, err := Plan(20.4, planOpts(10, 0), 0)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected tail to be merged into 2 spans, got %d", len(spans))
	}
	if spans[1].End != 20.4 {
		t.Fatalf("expected last span to end at 20.4, got %+v", spans[1])
	}
}

func TestPlanCoverageProperty(t *testing.T) {
	durations := []float64{1, 9.99, 10, 10.5, 11, 29.3, 30, 61.7, 3600.25}
	chunkSizes := []float64{3, 10, 60}
	overlaps := []float64{0, 1.5}

	for _, total := range durations {
		for _, d := range chunkSizes {
			for _, o := range overlaps {
				spans, err := Plan(total, planOpts(d, o), 0)
				if err != nil {
					t.Fatalf("Plan(%v, %v, %v) returned error: %v", total, d, o, err)
				}
				if total <= d && len(spans) != 1 {
					t.Fatalf("Plan(%v, %v, %v): expected single chunk, got %d", total, d, o, len(spans))
				}
				if spans[0].Boundary != 0 {
					t.Fatalf("Plan(%v, %v, %v): coverage must start at 0", total, d, o)
				}
				if math.Abs(spans[len(spans)-1].End-total) > 1e-9 {
					t.Fatalf("Plan(%v, %v, %v): coverage must end at total, got %v", total, d, o, spans[len(spans)-1].End)
				}
				for i, s := range spans {
					if s.End-s.Boundary <= 0 || s.End-s.Start <= 0 {
						t.Fatalf("Plan(%v, %v, %v): degenerate span %+v", total, d, o, s)
					}
					if s.Boundary-s.Start > o+1e-9 {
						t.Fatalf("Plan(%v, %v, %v): overlap exceeds margin in %+v", total, d, o, s)
					}
					if i > 0 && math.Abs(spans[i-1].End-s.Boundary) > 1e-9 {
						t.Fatalf("Plan(%v, %v, %v): gap between %+v and %+v", total, d, o, spans[i-1], s)
					}
				}
			}
		}
	}
}

func TestPlanRespectsMaxBytes(t *testing.T) {
	opts := planOpts(600, 0)
	opts.MaxBytes = 5 * 1024 * 1024

	spans, err := Plan(1200, opts, 32000)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	for _, s := range spans {
		size := int64((s.End-s.Start)*32000) + wavHeaderSize
		if size > opts.MaxBytes {
			t.Fatalf("span %+v is %d bytes, over the %d limit", s, size, opts.MaxBytes)
		}
	}
}

func TestPlanWithoutAutoChunk(t *testing.T) {
	opts := ChunkOptions{AutoChunk: false, MaxBytes: 5 * 1024 * 1024}

	spans, err := Plan(60, opts, 32000)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected a single span, got %d", len(spans))
	}

	if _, err := Plan(600, opts, 32000); !errors.Is(err, ErrChunkTooLarge) {
		t.Fatalf("expected ErrChunkTooLarge, got %v", err)
	}
}

func TestPlanEmptyAudio(t *testing.T) {
	if _, err := Plan(0, planOpts(10, 0), 0); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}
