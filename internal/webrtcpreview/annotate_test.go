package webrtcpreview

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deflagg/eva/pkg/eva"
)

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestAnnotateReturnsValidJPEG(t *testing.T) {
	src := solidJPEG(t, 40, 40)
	out := Annotate(src, []eva.Detection{{Box: eva.Box{X1: 2, Y1: 2, X2: 20, Y2: 20}}}, []eva.Event{{Name: "roi_enter"}})

	_, err := jpeg.Decode(bytes.NewReader(out))
	assert.NoError(t, err)
}

func TestAnnotateReturnsOriginalOnDecodeFailure(t *testing.T) {
	out := Annotate([]byte("not a jpeg"), nil, nil)
	assert.Equal(t, []byte("not a jpeg"), out)
}
