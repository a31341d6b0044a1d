package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/miracsucu4417/image-processing-service/internal/events"
	"github.com/miracsucu4417/image-processing-service/internal/models"
	"github.com/miracsucu4417/image-processing-service/internal/testutil"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

func message(imageID, key, mimeType, origin string) redis.XMessage {
	return redis.XMessage{
		ID: "1-0",
		Values: map[string]any{
			"type":      events.TypeImageCreated,
			"imageId":   imageID,
			"userId":    "user-1",
			"objectKey": key,
			"mimeType":  mimeType,
			"origin":    origin,
			"createdAt": "1700000000000",
		},
	}
}

type fixture struct {
	objects *testutil.ObjectStore
	images  *testutil.ImageStore
	proc    *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		objects: testutil.NewObjectStore(),
		images:  testutil.NewImageStore(),
	}
	f.proc = NewProcessor(f.objects, f.images, zerolog.Nop())
	return f
}

func (f *fixture) seedImage(t *testing.T, id, key string) {
	t.Helper()
	if _, err := f.images.Create(context.Background(), models.Image{
		ID: id, UserID: "user-1", ObjectKey: key, MimeType: "image/png",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestHandleRecordsDimensions(t *testing.T) {
	f := newFixture(t)
	f.objects.Seed("images/user-1/a.png", testutil.PNG(40, 25), "image/png")
	f.seedImage(t, "img-a", "images/user-1/a.png")

	if err := f.proc.Handle(context.Background(), message("img-a", "images/user-1/a.png", "image/png", events.OriginUpload)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	img, err := f.images.GetByID(context.Background(), "img-a")
	if err != nil {
		t.Fatal(err)
	}
	if img.Width == nil || *img.Width != 40 || img.Height == nil || *img.Height != 25 {
		t.Errorf("dimensions = %v x %v, want 40 x 25", img.Width, img.Height)
	}
}

func TestHandleSkips(t *testing.T) {
	tests := []struct {
		name string
		msg  redis.XMessage
	}{
		{name: "malformed", msg: redis.XMessage{ID: "1-0", Values: map[string]any{"type": "other"}}},
		{name: "transform origin", msg: message("img-a", "images/user-1/a.png", "image/png", events.OriginTransform)},
		{name: "svg", msg: message("img-a", "images/user-1/a.svg", "image/svg+xml", events.OriginUpload)},
		{name: "missing object", msg: message("img-a", "images/user-1/missing.png", "image/png", events.OriginUpload)},
		{name: "undecodable", msg: message("img-a", "images/user-1/junk.png", "image/png", events.OriginUpload)},
		{name: "missing record", msg: message("img-gone", "images/user-1/a.png", "image/png", events.OriginUpload)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.objects.Seed("images/user-1/a.png", testutil.PNG(4, 4), "image/png")
			f.objects.Seed("images/user-1/junk.png", []byte("not an image"), "image/png")
			f.seedImage(t, "img-a", "images/user-1/a.png")

			if err := f.proc.Handle(context.Background(), tt.msg); err != nil {
				t.Fatalf("Handle() error = %v, want nil", err)
			}
			img, _ := f.images.GetByID(context.Background(), "img-a")
			if tt.name != "missing record" && img.Width != nil {
				t.Errorf("dimensions recorded: %v x %v", *img.Width, *img.Height)
			}
		})
	}
}

func TestHandleStorageOutageIsRetried(t *testing.T) {
	f := newFixture(t)
	f.objects.GetErr = errors.New("connection refused")
	f.seedImage(t, "img-a", "images/user-1/a.png")

	err := f.proc.Handle(context.Background(), message("img-a", "images/user-1/a.png", "image/png", events.OriginUpload))
	if err == nil {
		t.Fatal("Handle() error = nil, want storage error")
	}
}

func TestDimensions(t *testing.T) {
	w, h, err := Dimensions(testutil.PNG(30, 10))
	if err != nil || w != 30 || h != 10 {
		t.Errorf("Dimensions() = %d, %d, %v", w, h, err)
	}
	if _, _, err := Dimensions([]byte("junk")); err == nil {
		t.Error("Dimensions(junk) error = nil")
	}
	if got := orientation(testutil.PNG(2, 2)); got != 1 {
		t.Errorf("orientation without EXIF = %d, want 1", got)
	}
}

func TestDimensionsMatchPipelineFrame(t *testing.T) {
	for _, orient := range []uint16{1, 3, 6, 8} {
		src := testutil.OrientedJPEG(40, 20, orient)
		if got := orientation(src); got != int(orient) {
			t.Errorf("orientation %d read as %d", orient, got)
		}

		w, h, err := Dimensions(src)
		if err != nil {
			t.Fatalf("orientation %d: %v", orient, err)
		}
		res, err := transform.NewPipeline(transform.Options{}).Apply(src, transform.Spec{
			Crop:   &transform.Crop{Width: w, Height: h},
			Format: transform.FormatPNG,
		})
		if err != nil {
			t.Fatalf("orientation %d: crop to recorded %dx%d: %v", orient, w, h, err)
		}
		if res.Width != w || res.Height != h {
			t.Errorf("orientation %d: pipeline %dx%d, recorded %dx%d", orient, res.Width, res.Height, w, h)
		}
	}
}
