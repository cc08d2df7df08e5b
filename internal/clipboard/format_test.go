package clipboard

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForMIMERoundTrip(t *testing.T) {
	c := NewFormatConverter()
	f, ok := c.FormatForMIME("text/plain;charset=utf-8")
	require.True(t, ok)
	assert.Equal(t, FormatCFUnicodeText, f)

	m, ok := c.MIMEForFormat(FormatCFUnicodeText)
	require.True(t, ok)
	assert.Equal(t, "text/plain;charset=utf-8", m)
}

func TestUnicodeTextRoundTrip(t *testing.T) {
	c := NewFormatConverter()
	wire, err := c.ToWire("text/plain", []byte("hello"), FormatCFUnicodeText)
	require.NoError(t, err)

	_, content, err := c.FromWire(FormatCFUnicodeText, wire)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestUnicodeTextRoundTripWithSurrogatePair(t *testing.T) {
	c := NewFormatConverter()
	original := "emoji:\U0001F600"
	wire, err := c.ToWire("text/plain", []byte(original), FormatCFUnicodeText)
	require.NoError(t, err)

	_, content, err := c.FromWire(FormatCFUnicodeText, wire)
	require.NoError(t, err)
	assert.Equal(t, original, string(content))
}

func TestToWireRejectsImageForTextFormat(t *testing.T) {
	c := NewFormatConverter()
	_, err := c.ToWire("image/png", []byte("not text"), FormatCFUnicodeText)
	assert.Error(t, err)
}

func TestDIBRoundTripPreservesPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.Set(2, 1, color.NRGBA{R: 200, G: 150, B: 100, A: 128})

	dib := encodeDIB(img)
	decoded, err := decodeDIB(dib)
	require.NoError(t, err)

	r, g, b, a := decoded.At(0, 0).RGBA()
	assert.Equal(t, uint32(10*257), r)
	assert.Equal(t, uint32(20*257), g)
	assert.Equal(t, uint32(30*257), b)
	assert.Equal(t, uint32(255*257), a)
}

func TestDIBV5RoundTripPreservesPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.NRGBA{R: 5, G: 6, B: 7, A: 8})

	dibv5 := encodeDIBV5(img)
	decoded, err := decodeDIBV5(dibv5)
	require.NoError(t, err)

	// Compare straight (non-premultiplied) components: RGBA() would
	// return alpha-premultiplied values for this semi-transparent pixel.
	px := color.NRGBAModel.Convert(decoded.At(1, 1)).(color.NRGBA)
	assert.Equal(t, uint8(5), px.R)
	assert.Equal(t, uint8(6), px.G)
	assert.Equal(t, uint8(7), px.B)
	assert.Equal(t, uint8(8), px.A)
}

func TestDecodeDIBRejectsTruncatedHeader(t *testing.T) {
	_, err := decodeDIB([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeDIBRejectsNon32Bpp(t *testing.T) {
	header := make([]byte, bitmapInfoHeaderSize)
	header[0] = bitmapInfoHeaderSize
	header[14] = 24 // bpp = 24 at offset 14-15
	_, err := decodeDIB(header)
	assert.Error(t, err)
}

func TestPNGViaDIBV5RoundTrip(t *testing.T) {
	c := NewFormatConverter()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 50, A: 255})
		}
	}
	var buf []byte
	{
		encoded, err := encodePNG(img)
		require.NoError(t, err)
		buf = encoded
	}

	wire, err := c.ToWire("image/png", buf, FormatCFDIBV5)
	require.NoError(t, err)

	mime, content, err := c.FromWire(FormatCFDIBV5, wire)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.NotEmpty(t, content)
}
