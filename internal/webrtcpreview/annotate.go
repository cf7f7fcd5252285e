package webrtcpreview

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/deflagg/eva/pkg/eva"
)

var boxColor = color.RGBA{R: 0, G: 220, B: 80, A: 255}

// Annotate draws detection boxes and a one-line label per active event onto
// a copy of the frame's JPEG, returning the re-encoded result. Decode or
// encode failures return the original bytes unchanged: the preview relay is
// best-effort and must never block or fail the frame pipeline.
func Annotate(imageBytes []byte, dets []eva.Detection, events []eva.Event) []byte {
	src, err := jpeg.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return imageBytes
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	for _, d := range dets {
		drawBox(dst, d.Box)
	}

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(boxColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 14),
	}
	for _, e := range events {
		drawer.DrawString(e.Name)
		drawer.Dot = fixed.P(4, drawer.Dot.Y.Ceil()+14)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 80}); err != nil {
		return imageBytes
	}
	return out.Bytes()
}

func drawBox(dst *image.RGBA, b eva.Box) {
	x1, y1, x2, y2 := int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)
	for x := x1; x <= x2; x++ {
		dst.Set(x, y1, boxColor)
		dst.Set(x, y2, boxColor)
	}
	for y := y1; y <= y2; y++ {
		dst.Set(x1, y, boxColor)
		dst.Set(x2, y, boxColor)
	}
}
