package detector

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Per-face caps applied after association
const (
	maxEyes   = 2
	maxNoses  = 1
	maxMouths = 1

	// noseShift pulls the nose point toward the upper part of its box
	noseShift = 0.25
)

// ErrTooManyEyes reports that more eye candidates reached keypoint synthesis
// than the association cap allows. It indicates a defect, not bad input.
var ErrTooManyEyes = errors.New("more than two eye candidates after capping")

// EstimateKeypoints derives one KeypointSet per face box from unassociated
// part detections. Face boxes are never dropped here, even when fewer than
// two keypoints can be derived.
func EstimateKeypoints(d Detections) ([]Face, error) {
	if len(d.Faces) == 0 {
		return nil, nil
	}

	faces := make([]Face, 0, len(d.Faces))
	for i, box := range d.Faces {
		kps, err := estimateFace(box, d.Eyes, d.Noses, d.Mouths)
		if err != nil {
			return nil, &FaceError{Face: i, Err: err}
		}
		faces = append(faces, Face{Box: box, Keypoints: kps})
	}
	return faces, nil
}

// FaceError attributes a keypoint estimation failure to the face box at
// index Face of the detections.
type FaceError struct {
	Face int
	Err  error
}

func (e *FaceError) Error() string {
	return fmt.Sprintf("face %d: %v", e.Face, e.Err)
}

func (e *FaceError) Unwrap() error {
	return e.Err
}

func estimateFace(face BoundingBox, eyes, noses, mouths []BoundingBox) (KeypointSet, error) {
	eyes = associate(eyes, face, maxEyes)
	noses = associate(noses, face, maxNoses)
	mouths = associate(mouths, face, maxMouths)
	return synthesize(face, eyes, noses, mouths)
}

// synthesize builds the keypoint set from already associated and capped parts.
func synthesize(face BoundingBox, eyes, noses, mouths []BoundingBox) (KeypointSet, error) {
	angle := faceAngle(face, eyes, noses, mouths)

	leftEye, rightEye, err := eyePoints(face, eyes, noses, mouths, angle)
	if err != nil {
		return KeypointSet{}, err
	}
	mouthLeft, mouthRight := mouthPoints(mouths, angle)

	var kps KeypointSet
	kps[LeftEye] = leftEye
	kps[RightEye] = rightEye
	kps[Nose] = nosePoint(noses, angle)
	kps[MouthLeft] = mouthLeft
	kps[MouthRight] = mouthRight
	return kps, nil
}

// associate keeps candidates whose center lies inside the face box. When
// more than limit remain, the ones nearest the face center win; ties keep
// their original order.
func associate(candidates []BoundingBox, face BoundingBox, limit int) []BoundingBox {
	if len(candidates) == 0 {
		return nil
	}

	var inside []BoundingBox
	for _, c := range candidates {
		if face.Contains(c.Center()) {
			inside = append(inside, c)
		}
	}
	if len(inside) <= limit {
		return inside
	}

	center := face.Center()
	sort.SliceStable(inside, func(i, j int) bool {
		return squaredDist(inside[i].Center(), center) < squaredDist(inside[j].Center(), center)
	})
	return inside[:limit]
}

func squaredDist(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

// centerOf returns the center of the single box in boxes
func centerOf(boxes []BoundingBox) (Point, bool) {
	if len(boxes) != 1 {
		return Point{}, false
	}
	return boxes[0].Center(), true
}

// eyesCenter is only defined when both eyes were found
func eyesCenter(eyes []BoundingBox) (Point, bool) {
	if len(eyes) != 2 {
		return Point{}, false
	}
	return eyes[0].Center().Midpoint(eyes[1].Center()), true
}

// faceAngle estimates the face's vertical axis, pointing from the lower
// features to the upper ones. Falls back to pi/2 when nothing is known.
func faceAngle(face BoundingBox, eyes, noses, mouths []BoundingBox) float64 {
	eyesC, hasEyes := eyesCenter(eyes)
	noseC, hasNose := centerOf(noses)
	mouthC, hasMouth := centerOf(mouths)

	switch {
	case hasEyes && hasNose:
		return eyesC.Sub(noseC).Angle()
	case hasEyes && hasMouth:
		return eyesC.Sub(mouthC).Angle()
	case hasEyes:
		return eyesC.Sub(face.TopLeft()).Angle()
	case hasMouth && hasNose:
		return noseC.Sub(mouthC).Angle()
	case hasMouth:
		return face.TopLeft().Sub(mouthC).Angle()
	}
	return math.Pi / 2
}

func nosePoint(noses []BoundingBox, angle float64) Keypoint {
	if len(noses) == 0 {
		return Absent()
	}
	nose := noses[0]
	dx := math.Cos(angle) * nose.Width() / 2
	dy := math.Sin(angle) * nose.Height() / 2
	c := nose.Center()
	return PointAt(Point{X: c.X - dx*noseShift, Y: c.Y - dy*noseShift})
}

func mouthPoints(mouths []BoundingBox, angle float64) (Keypoint, Keypoint) {
	if len(mouths) == 0 {
		return Absent(), Absent()
	}
	mouth := mouths[0]
	h := angle - math.Pi/2
	dx := math.Cos(h) * mouth.Width() / 2
	dy := math.Sin(h) * mouth.Height() / 2
	c := mouth.Center()

	left := PointAt(Point{X: c.X - dx, Y: c.Y - dy})
	right := PointAt(Point{X: c.X + dx, Y: c.Y + dy})
	// keep "left" on the anatomical left when the face is upside down
	if h <= -math.Pi/2 || h > math.Pi/2 {
		left, right = right, left
	}
	return left, right
}

// eyeAnchor is the reference used to tell the left eye from the right one:
// nose center, else mouth center, else face center.
func eyeAnchor(face BoundingBox, noses, mouths []BoundingBox) Point {
	if c, ok := centerOf(noses); ok {
		return c
	}
	if c, ok := centerOf(mouths); ok {
		return c
	}
	return face.Center()
}

func eyePoints(face BoundingBox, eyes, noses, mouths []BoundingBox, angle float64) (Keypoint, Keypoint, error) {
	anchor := eyeAnchor(face, noses, mouths)

	switch len(eyes) {
	case 0:
		return Absent(), Absent(), nil
	case 1:
		eye := eyes[0].Center()
		if eye.Sub(anchor).Angle() > angle {
			return PointAt(eye), Absent(), nil
		}
		return Absent(), PointAt(eye), nil
	case 2:
		a, b := eyes[0].Center(), eyes[1].Center()
		if a.Sub(anchor).Angle() < b.Sub(anchor).Angle() {
			return PointAt(a), PointAt(b), nil
		}
		return PointAt(b), PointAt(a), nil
	}
	return Absent(), Absent(), fmt.Errorf("%w: got %d", ErrTooManyEyes, len(eyes))
}
