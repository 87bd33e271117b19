package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{200, 10, 10, 255})
		}
	}
	return img
}

func TestImageWidth(t *testing.T) {
	pngBytes, err := EncodePNG(solid(37, 12))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}

	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, solid(64, 8), nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}

	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr bool
	}{
		{"png", pngBytes, 37, false},
		{"jpeg", jpg.Bytes(), 64, false},
		{"garbage", []byte("definitely not an image"), 0, true},
		{"empty", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ImageWidth(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ImageWidth error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ImageWidth = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	data, err := EncodePNG(solid(5, 7))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, format, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 5 || img.Bounds().Dy() != 7 {
		t.Errorf("decoded %s %v", format, img.Bounds())
	}
}

func TestRenderPageRejectsBadZoom(t *testing.T) {
	if _, err := RenderPage([]byte("%PDF-1.4"), 0, 0); err != ErrInvalidZoom {
		t.Errorf("err = %v, want ErrInvalidZoom", err)
	}
}
