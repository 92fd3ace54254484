package detector

import (
	"math"
	"testing"
)

func TestIOU(t *testing.T) {
	tests := []struct {
		name string
		a, b BoundingBox
		want float64
	}{
		{"identical", box(0, 0, 10, 10, ClassFace), box(0, 0, 10, 10, ClassFace), 1},
		{"disjoint", box(0, 0, 10, 10, ClassFace), box(20, 20, 30, 30, ClassFace), 0},
		{"touching edges", box(0, 0, 10, 10, ClassFace), box(10, 0, 20, 10, ClassFace), 0},
		{"half overlap", box(0, 0, 10, 10, ClassFace), box(5, 0, 15, 10, ClassFace), 50.0 / 150.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := iou(tt.a, tt.b); math.Abs(got-tt.want) > eps {
				t.Errorf("iou() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNMS(t *testing.T) {
	low := box(1, 1, 11, 11, ClassFace)
	low.Score = 0.6
	high := box(0, 0, 10, 10, ClassFace)
	high.Score = 0.9
	eye := box(0, 0, 10, 10, ClassEye)
	eye.Score = 0.5

	got := nms([]BoundingBox{low, high, eye}, 0.4)
	if len(got) != 2 {
		t.Fatalf("expected 2 boxes, got %d", len(got))
	}
	if got[0] != high {
		t.Errorf("expected highest scoring face first, got %+v", got[0])
	}
	if got[1] != eye {
		t.Errorf("boxes of another class must survive, got %+v", got[1])
	}
}
