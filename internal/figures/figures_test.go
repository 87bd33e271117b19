package figures

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanbuphy/SmartPaper/internal/layout"
)

func page(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0, 255})
		}
	}
	return img
}

func TestCrop(t *testing.T) {
	src := page(100, 80)

	tests := []struct {
		name    string
		r       layout.Rect
		wantW   int
		wantH   int
		wantErr bool
	}{
		{"inside", layout.Rect{X1: 10, Y1: 20, X2: 40, Y2: 50}, 30, 30, false},
		{"fractional edges expand", layout.Rect{X1: 10.5, Y1: 20.2, X2: 39.5, Y2: 49.9}, 30, 30, false},
		{"clamped", layout.Rect{X1: 90, Y1: 70, X2: 200, Y2: 200}, 10, 10, false},
		{"outside", layout.Rect{X1: 150, Y1: 150, X2: 200, Y2: 200}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Crop(src, tt.r)
			if tt.wantErr {
				if !errors.Is(err, ErrEmptyCrop) {
					t.Errorf("err = %v, want ErrEmptyCrop", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Crop: %v", err)
			}
			if got.Bounds().Dx() != tt.wantW || got.Bounds().Dy() != tt.wantH {
				t.Errorf("crop size = %v, want %dx%d", got.Bounds(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestCropCopiesPixels(t *testing.T) {
	got, err := Crop(page(100, 80), layout.Rect{X1: 10, Y1: 20, X2: 40, Y2: 50})
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	r, g, _, _ := got.At(0, 0).RGBA()
	if r>>8 != 10 || g>>8 != 20 {
		t.Errorf("top-left pixel = (%d,%d), want (10,20)", r>>8, g>>8)
	}
}

func TestScale(t *testing.T) {
	got := Scale(page(400, 200), 100)
	if got.Bounds().Dx() != 100 || got.Bounds().Dy() != 50 {
		t.Errorf("scaled to %v, want 100x50", got.Bounds())
	}
	small := page(40, 20)
	if Scale(small, 100) != image.Image(small) {
		t.Error("image within bounds should not be scaled")
	}
}

func TestEncodeJPEGAndDataURI(t *testing.T) {
	data, err := EncodeJPEG(page(16, 16))
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Errorf("output is not a JPEG: %v", err)
	}
	uri := DataURI(data, "image/jpeg")
	if !strings.HasPrefix(uri, "data:image/jpeg;base64,") {
		t.Errorf("DataURI prefix = %q", uri[:30])
	}
}

func TestNewFilename(t *testing.T) {
	a, b := NewFilename(), NewFilename()
	if a == b {
		t.Error("filenames collide")
	}
	if len(a) != 36 || !strings.HasSuffix(a, ".jpg") || strings.Contains(a, "-") {
		t.Errorf("filename = %q, want 32 hex chars plus .jpg", a)
	}
}

type fakeKV struct {
	data map[string]string
	ttl  time.Duration
	err  error
}

func (f *fakeKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestCacheRoundTrip(t *testing.T) {
	store := &fakeKV{data: map[string]string{}}
	cache := &Cache{client: store, ttl: time.Hour}
	ctx := context.Background()
	crop := []byte("crop bytes")

	if got, err := cache.Get(ctx, crop); err != nil || got != nil {
		t.Fatalf("Get on empty cache = %v, %v", got, err)
	}

	entry := Entry{Base64: "AAA", Title: "Loss curve", Description: "Training loss"}
	if err := cache.Put(ctx, crop, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if store.ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", store.ttl)
	}
	if _, ok := store.data[Key(crop)]; !ok || !strings.HasPrefix(Key(crop), "smartpaper:figure:") {
		t.Errorf("unexpected key %q", Key(crop))
	}

	got, err := cache.Get(ctx, crop)
	if err != nil || got == nil || *got != entry {
		t.Errorf("Get = %+v, %v; want %+v", got, err, entry)
	}
}

func TestCacheErrorsAndDisabled(t *testing.T) {
	ctx := context.Background()
	broken := &Cache{client: &fakeKV{data: map[string]string{}, err: errors.New("connection refused")}}
	if _, err := broken.Get(ctx, []byte("x")); err == nil {
		t.Error("expected error from failing store")
	}

	disabled := NewCache(nil, time.Hour)
	if got, err := disabled.Get(ctx, []byte("x")); got != nil || err != nil {
		t.Errorf("disabled Get = %v, %v", got, err)
	}
	if err := disabled.Put(ctx, []byte("x"), Entry{}); err != nil {
		t.Errorf("disabled Put: %v", err)
	}
}

func TestTag(t *testing.T) {
	b := layout.Box{Label: "image", Score: 0.876}
	if got := Tag(2, b, DefaultVisualizeOptions()); got != "#3 image 0.88" {
		t.Errorf("Tag = %q", got)
	}
	if got := Tag(0, b, VisualizeOptions{ShowOrder: true}); got != "#1" {
		t.Errorf("order-only Tag = %q", got)
	}
}

func TestVisualizeDrawsOutline(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 200))
	boxes := []layout.Box{{Label: "text", Coordinate: layout.Rect{X1: 50, Y1: 60, X2: 150, Y2: 160}, Score: 0.9}}

	out := Visualize(src, boxes, DefaultVisualizeOptions())
	want := layout.LabelText.Info().Color
	if got := out.RGBAAt(100, 60); got != want {
		t.Errorf("outline pixel = %v, want %v", got, want)
	}
	if got := out.RGBAAt(100, 100); got != (color.RGBA{}) {
		t.Errorf("interior pixel = %v, want untouched", got)
	}
	if src.RGBAAt(100, 60) != (color.RGBA{}) {
		t.Error("source image was modified")
	}
}
