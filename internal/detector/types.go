package detector

import "math"

// Point represents a 2D point in frame pixel coordinates
type Point struct {
	X, Y float64
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Midpoint returns the point halfway between p and q
func (p Point) Midpoint(q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// Angle returns atan2(Y, X) of p treated as a vector
func (p Point) Angle() float64 {
	return math.Atan2(p.Y, p.X)
}

// IsFinite reports whether both coordinates are finite numbers
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Class is the semantic class a detection box was emitted for
type Class int

const (
	ClassFace Class = iota
	ClassEye
	ClassNose
	ClassMouth
)

func (c Class) String() string {
	switch c {
	case ClassFace:
		return "face"
	case ClassEye:
		return "eye"
	case ClassNose:
		return "nose"
	case ClassMouth:
		return "mouth"
	}
	return "unknown"
}

// BoundingBox represents an axis-aligned detection box
type BoundingBox struct {
	X1, Y1 float64 // top-left
	X2, Y2 float64 // bottom-right
	Class  Class
	Score  float64
}

// Width returns box width
func (b BoundingBox) Width() float64 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// TopLeft returns the (X1, Y1) corner
func (b BoundingBox) TopLeft() Point {
	return Point{X: b.X1, Y: b.Y1}
}

// Contains reports whether p lies inside the box, edges included
func (b BoundingBox) Contains(p Point) bool {
	return b.X1 <= p.X && p.X <= b.X2 && b.Y1 <= p.Y && p.Y <= b.Y2
}

// Area returns box area
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Slot indexes the five keypoints of a face, in template order
type Slot int

const (
	LeftEye Slot = iota
	RightEye
	Nose
	MouthLeft
	MouthRight

	NumSlots
)

var slotNames = [NumSlots]string{"left-eye", "right-eye", "nose", "mouth-left", "mouth-right"}

func (s Slot) String() string {
	if s < 0 || s >= NumSlots {
		return "invalid"
	}
	return slotNames[s]
}

// Keypoint is an optional point: either a finite location or absent.
type Keypoint struct {
	Point   Point
	Present bool
}

// PointAt returns a keypoint at p. Non-finite points come back absent.
func PointAt(p Point) Keypoint {
	if !p.IsFinite() {
		return Keypoint{}
	}
	return Keypoint{Point: p, Present: true}
}

// Absent returns a missing keypoint
func Absent() Keypoint {
	return Keypoint{}
}

// Get returns the point and whether it is present
func (k Keypoint) Get() (Point, bool) {
	return k.Point, k.Present
}

// KeypointSet holds the five facial keypoints in fixed slot order:
// left-eye, right-eye, nose, mouth-left, mouth-right.
type KeypointSet [NumSlots]Keypoint

// Count returns the number of present keypoints
func (k KeypointSet) Count() int {
	n := 0
	for _, kp := range k {
		if kp.Present {
			n++
		}
	}
	return n
}

// Face is a detected face box together with its derived keypoints
type Face struct {
	Box       BoundingBox
	Keypoints KeypointSet
}

// Detections groups one frame's boxes by class
type Detections struct {
	Faces  []BoundingBox
	Eyes   []BoundingBox
	Noses  []BoundingBox
	Mouths []BoundingBox
}

// Add appends b to the list for its class
func (d *Detections) Add(b BoundingBox) {
	switch b.Class {
	case ClassFace:
		d.Faces = append(d.Faces, b)
	case ClassEye:
		d.Eyes = append(d.Eyes, b)
	case ClassNose:
		d.Noses = append(d.Noses, b)
	case ClassMouth:
		d.Mouths = append(d.Mouths, b)
	}
}
