package render

import "github.com/averros/signflow/pkg/api"

// Rect is a field's placement in page coordinates (points, origin at
// the top-left of the page).
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// TransformCoordinates scales a field's UI-relative geometry to the
// actual page size. Each axis scales independently by
// actualSize/uiSize; the transform is deliberately non-uniform and
// does not preserve aspect ratio.
//
// With uiW == pageW and uiH == pageH both scale factors are 1 and the
// transform is the identity.
func TransformCoordinates(f api.Field, pageW, pageH, uiW, uiH float64) Rect {
	scaleX := 1.0
	if uiW > 0 {
		scaleX = pageW / uiW
	}
	scaleY := 1.0
	if uiH > 0 {
		scaleY = pageH / uiH
	}
	return Rect{
		X: f.X * scaleX,
		Y: f.Y * scaleY,
		W: f.Width * scaleX,
		H: f.Height * scaleY,
	}
}
