package main

import (
	"testing"

	"github.com/menta2k/image-assistant/pkg/types"
)

func TestParseSize(t *testing.T) {
	d, err := parseSize("512x384")
	if err != nil {
		t.Fatalf("parseSize failed: %v", err)
	}
	if d != (types.Dimensions{Width: 512, Height: 384}) {
		t.Errorf("unexpected size %+v", d)
	}
	for _, bad := range []string{"512", "0x10", "ax3", "-4x4"} {
		if _, err := parseSize(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestParseGesture(t *testing.T) {
	points, err := parseGesture("10,10; 110.5,60;")
	if err != nil {
		t.Fatalf("parseGesture failed: %v", err)
	}
	want := []types.Point{{X: 10, Y: 10}, {X: 110.5, Y: 60}}
	if len(points) != len(want) || points[0] != want[0] || points[1] != want[1] {
		t.Errorf("unexpected points %+v", points)
	}
	if points, err := parseGesture(""); err != nil || len(points) != 0 {
		t.Errorf("empty gesture should yield no points, got %v %v", points, err)
	}
	if _, err := parseGesture("1;2"); err == nil {
		t.Error("expected error for malformed point")
	}
}
