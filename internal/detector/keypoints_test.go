package detector

import (
	"errors"
	"math"
	"testing"
)

const eps = 1e-9

func box(x1, y1, x2, y2 float64, c Class) BoundingBox {
	return BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2, Class: c}
}

// boxAt returns a w x h box centered on (cx, cy)
func boxAt(cx, cy, w, h float64, c Class) BoundingBox {
	return box(cx-w/2, cy-h/2, cx+w/2, cy+h/2, c)
}

func assertPoint(t *testing.T, name string, kp Keypoint, want Point) {
	t.Helper()
	if !kp.Present {
		t.Fatalf("%s: expected present keypoint, got absent", name)
	}
	if math.Abs(kp.Point.X-want.X) > eps || math.Abs(kp.Point.Y-want.Y) > eps {
		t.Errorf("%s: got (%.6f, %.6f), want (%.6f, %.6f)", name, kp.Point.X, kp.Point.Y, want.X, want.Y)
	}
}

func uprightFace() Detections {
	var d Detections
	d.Add(box(0, 0, 100, 100, ClassFace))
	d.Add(boxAt(30, 35, 10, 10, ClassEye))
	d.Add(boxAt(70, 35, 10, 10, ClassEye))
	d.Add(boxAt(50, 55, 10, 10, ClassNose))
	d.Add(boxAt(50, 75, 30, 10, ClassMouth))
	return d
}

func TestEstimateKeypoints_UprightFace(t *testing.T) {
	faces, err := EstimateKeypoints(uprightFace())
	if err != nil {
		t.Fatalf("EstimateKeypoints failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}

	kps := faces[0].Keypoints
	if kps.Count() != 5 {
		t.Fatalf("expected 5 keypoints, got %d", kps.Count())
	}

	assertPoint(t, "left-eye", kps[LeftEye], Point{30, 35})
	assertPoint(t, "right-eye", kps[RightEye], Point{70, 35})
	// angle is -pi/2, so the nose point shifts by 0.25 * half height
	assertPoint(t, "nose", kps[Nose], Point{50, 56.25})
	assertPoint(t, "mouth-left", kps[MouthLeft], Point{35, 75})
	assertPoint(t, "mouth-right", kps[MouthRight], Point{65, 75})
}

func TestEstimateKeypoints_NoFaces(t *testing.T) {
	var d Detections
	d.Add(boxAt(30, 35, 10, 10, ClassEye))

	faces, err := EstimateKeypoints(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces, got %d", len(faces))
	}
}

func TestEstimateKeypoints_AbsentSlotsAreExplicit(t *testing.T) {
	var d Detections
	d.Add(box(0, 0, 100, 100, ClassFace))
	d.Add(boxAt(50, 55, 10, 10, ClassNose))
	// outside the face, never associated
	d.Add(boxAt(150, 35, 10, 10, ClassEye))

	faces, err := EstimateKeypoints(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("face must be kept even with one keypoint, got %d faces", len(faces))
	}

	kps := faces[0].Keypoints
	if kps.Count() != 1 {
		t.Errorf("expected 1 present keypoint, got %d", kps.Count())
	}
	for _, s := range []Slot{LeftEye, RightEye, MouthLeft, MouthRight} {
		if kps[s].Present {
			t.Errorf("%s should be absent", s)
		}
	}
	if !kps[Nose].Present {
		t.Error("nose should be present")
	}
}

func TestEstimateKeypoints_MultipleFaces(t *testing.T) {
	d := uprightFace()
	// second face to the right with only a mouth
	d.Add(box(200, 0, 300, 100, ClassFace))
	d.Add(boxAt(250, 75, 30, 10, ClassMouth))

	faces, err := EstimateKeypoints(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].Keypoints.Count() != 5 {
		t.Errorf("face 0: expected 5 keypoints, got %d", faces[0].Keypoints.Count())
	}
	if faces[1].Keypoints.Count() != 2 {
		t.Errorf("face 1: expected 2 mouth keypoints, got %d", faces[1].Keypoints.Count())
	}
}

func TestAssociate(t *testing.T) {
	face := box(0, 0, 100, 100, ClassFace)

	t.Run("drops candidates outside the face", func(t *testing.T) {
		got := associate([]BoundingBox{
			boxAt(150, 150, 10, 10, ClassEye),
			boxAt(40, 40, 10, 10, ClassEye),
		}, face, 2)
		if len(got) != 1 || got[0].Center() != (Point{40, 40}) {
			t.Errorf("unexpected association: %+v", got)
		}
	})

	t.Run("center on the edge counts as inside", func(t *testing.T) {
		got := associate([]BoundingBox{boxAt(100, 50, 10, 10, ClassNose)}, face, 1)
		if len(got) != 1 {
			t.Errorf("expected edge candidate to be kept, got %d", len(got))
		}
	})

	t.Run("caps to nearest", func(t *testing.T) {
		got := associate([]BoundingBox{
			boxAt(10, 10, 4, 4, ClassEye),
			boxAt(40, 40, 4, 4, ClassEye),
			boxAt(60, 40, 4, 4, ClassEye),
		}, face, 2)
		if len(got) != 2 {
			t.Fatalf("expected 2 eyes, got %d", len(got))
		}
		if got[0].Center() != (Point{40, 40}) || got[1].Center() != (Point{60, 40}) {
			t.Errorf("wrong eyes kept: %v, %v", got[0].Center(), got[1].Center())
		}
	})

	t.Run("ties keep original order", func(t *testing.T) {
		got := associate([]BoundingBox{
			boxAt(40, 50, 4, 4, ClassMouth),
			boxAt(60, 50, 4, 4, ClassMouth),
		}, face, 1)
		if len(got) != 1 || got[0].Center() != (Point{40, 50}) {
			t.Errorf("expected first of equidistant candidates, got %+v", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := associate(nil, face, 2); len(got) != 0 {
			t.Errorf("expected empty, got %d", len(got))
		}
	})
}

func TestFaceAngle(t *testing.T) {
	face := box(0, 0, 100, 100, ClassFace)
	eyes := []BoundingBox{boxAt(30, 35, 10, 10, ClassEye), boxAt(70, 35, 10, 10, ClassEye)}
	noses := []BoundingBox{boxAt(50, 55, 10, 10, ClassNose)}
	mouths := []BoundingBox{boxAt(50, 75, 30, 10, ClassMouth)}

	tests := []struct {
		name   string
		eyes   []BoundingBox
		noses  []BoundingBox
		mouths []BoundingBox
		want   float64
	}{
		{"eyes and nose", eyes, noses, mouths, -math.Pi / 2},
		{"eyes and mouth", eyes, nil, mouths, -math.Pi / 2},
		{"eyes only uses face corner", eyes, nil, nil, math.Atan2(35, 50)},
		{"nose and mouth", nil, noses, mouths, -math.Pi / 2},
		{"mouth only uses face corner", nil, nil, mouths, math.Atan2(-75, -50)},
		{"single eye is not an eye pair", eyes[:1], nil, nil, math.Pi / 2},
		{"nothing", nil, nil, nil, math.Pi / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := faceAngle(face, tt.eyes, tt.noses, tt.mouths)
			if math.Abs(got-tt.want) > eps {
				t.Errorf("faceAngle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMouthPoints_UpsideDownKeepsLeft(t *testing.T) {
	mouths := []BoundingBox{boxAt(50, 25, 30, 10, ClassMouth)}

	// face pointing down the image: h = 0, no swap
	left, right := mouthPoints(mouths, math.Pi/2)
	assertPoint(t, "mouth-left", left, Point{35, 25})
	assertPoint(t, "mouth-right", right, Point{65, 25})
}

func TestMouthPoints_BoundaryAngleSwaps(t *testing.T) {
	mouths := []BoundingBox{boxAt(50, 50, 20, 20, ClassMouth)}

	// h = -pi/2 lies outside (-pi/2, pi/2], so the pair is swapped
	left, right := mouthPoints(mouths, 0)
	assertPoint(t, "mouth-left", left, Point{50, 40})
	assertPoint(t, "mouth-right", right, Point{50, 60})
}

func TestEyePoints_SingleEye(t *testing.T) {
	face := box(0, 0, 100, 100, ClassFace)
	noses := []BoundingBox{boxAt(50, 55, 10, 10, ClassNose)}
	angle := -math.Pi / 2

	t.Run("angle above face axis is left", func(t *testing.T) {
		eyes := []BoundingBox{boxAt(70, 35, 10, 10, ClassEye)}
		left, right, err := eyePoints(face, eyes, noses, nil, angle)
		if err != nil {
			t.Fatal(err)
		}
		assertPoint(t, "left-eye", left, Point{70, 35})
		if right.Present {
			t.Error("right eye should be absent")
		}
	})

	t.Run("angle below face axis is right", func(t *testing.T) {
		eyes := []BoundingBox{boxAt(30, 35, 10, 10, ClassEye)}
		left, right, err := eyePoints(face, eyes, noses, nil, angle)
		if err != nil {
			t.Fatal(err)
		}
		assertPoint(t, "right-eye", right, Point{30, 35})
		if left.Present {
			t.Error("left eye should be absent")
		}
	})
}

func TestEyePoints_OrderIndependent(t *testing.T) {
	face := box(0, 0, 100, 100, ClassFace)
	a := boxAt(30, 35, 10, 10, ClassEye)
	b := boxAt(70, 35, 10, 10, ClassEye)

	for _, eyes := range [][]BoundingBox{{a, b}, {b, a}} {
		left, right, err := eyePoints(face, eyes, nil, nil, math.Pi/2)
		if err != nil {
			t.Fatal(err)
		}
		assertPoint(t, "left-eye", left, Point{30, 35})
		assertPoint(t, "right-eye", right, Point{70, 35})
	}
}

func TestSynthesize_TooManyEyes(t *testing.T) {
	face := box(0, 0, 100, 100, ClassFace)
	eyes := []BoundingBox{
		boxAt(30, 35, 10, 10, ClassEye),
		boxAt(50, 35, 10, 10, ClassEye),
		boxAt(70, 35, 10, 10, ClassEye),
	}

	_, err := synthesize(face, eyes, nil, nil)
	if !errors.Is(err, ErrTooManyEyes) {
		t.Fatalf("expected ErrTooManyEyes, got %v", err)
	}
}

func TestEstimateKeypoints_ExtraEyesAreCapped(t *testing.T) {
	d := uprightFace()
	d.Add(boxAt(5, 5, 4, 4, ClassEye))

	faces, err := EstimateKeypoints(d)
	if err != nil {
		t.Fatalf("capping should prevent the invariant error: %v", err)
	}
	assertPoint(t, "left-eye", faces[0].Keypoints[LeftEye], Point{30, 35})
	assertPoint(t, "right-eye", faces[0].Keypoints[RightEye], Point{70, 35})
}

func TestPointAtRejectsNonFinite(t *testing.T) {
	if PointAt(Point{X: math.NaN(), Y: 1}).Present {
		t.Error("NaN point should be absent")
	}
	if PointAt(Point{X: math.Inf(1), Y: 1}).Present {
		t.Error("Inf point should be absent")
	}
	if !PointAt(Point{X: 0, Y: 0}).Present {
		t.Error("origin is a valid point")
	}
}

func TestFaceErrorWrapsCause(t *testing.T) {
	err := error(&FaceError{Face: 3, Err: ErrTooManyEyes})
	if !errors.Is(err, ErrTooManyEyes) {
		t.Errorf("errors.Is(%v, ErrTooManyEyes) = false", err)
	}
	var fe *FaceError
	if !errors.As(err, &fe) || fe.Face != 3 {
		t.Errorf("errors.As face = %v", fe)
	}
	if got, want := err.Error(), "face 3: "+ErrTooManyEyes.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
