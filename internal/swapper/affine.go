package swapper

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/deepswap/internal/detector"
)

// Affine is a 2x3 matrix mapping (x, y) to
// (m[0][0]*x + m[0][1]*y + m[0][2], m[1][0]*x + m[1][1]*y + m[1][2]).
type Affine [2][3]float64

// Identity returns the identity transform
func Identity() Affine {
	return Affine{{1, 0, 0}, {0, 1, 0}}
}

// Apply maps p through the transform
func (m Affine) Apply(p detector.Point) detector.Point {
	return detector.Point{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2],
	}
}

// Invert returns the inverse transform. It fails for a singular matrix.
func (m Affine) Invert() (Affine, error) {
	det := m[0][0]*m[1][1] - m[0][1]*m[1][0]
	if math.Abs(det) < 1e-12 || math.IsNaN(det) {
		return Affine{}, fmt.Errorf("affine transform is not invertible (det=%g)", det)
	}
	a := m[1][1] / det
	b := -m[0][1] / det
	c := -m[1][0] / det
	d := m[0][0] / det
	return Affine{
		{a, b, -(a*m[0][2] + b*m[1][2])},
		{c, d, -(c*m[0][2] + d*m[1][2])},
	}, nil
}

// Mat converts the transform to a 2x3 CV_64F matrix. The caller closes it.
func (m Affine) Mat() gocv.Mat {
	mat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			mat.SetDoubleAt(r, c, m[r][c])
		}
	}
	return mat
}

// AffineFromMat reads a 2x3 matrix of type CV_64F or CV_32F
func AffineFromMat(mat gocv.Mat) (Affine, error) {
	if mat.Rows() != 2 || mat.Cols() != 3 {
		return Affine{}, fmt.Errorf("expected 2x3 matrix, got %dx%d", mat.Rows(), mat.Cols())
	}
	var m Affine
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			switch mat.Type() {
			case gocv.MatTypeCV64F:
				m[r][c] = mat.GetDoubleAt(r, c)
			case gocv.MatTypeCV32F:
				m[r][c] = float64(mat.GetFloatAt(r, c))
			default:
				return Affine{}, fmt.Errorf("unsupported matrix type %v", mat.Type())
			}
		}
	}
	return m, nil
}
