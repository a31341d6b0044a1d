package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/miracsucu4417/image-processing-service/internal/events"
	"github.com/miracsucu4417/image-processing-service/internal/ids"
	"github.com/miracsucu4417/image-processing-service/internal/models"
	"github.com/miracsucu4417/image-processing-service/internal/quota"
	"github.com/miracsucu4417/image-processing-service/internal/security"
	"github.com/miracsucu4417/image-processing-service/internal/testutil"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ImageCreated
	err    error
}

func (p *recordingPublisher) PublishImageCreated(_ context.Context, e events.ImageCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type fixture struct {
	svc       *ImageService
	images    *testutil.ImageStore
	objects   *testutil.ObjectStore
	quotas    *testutil.QuotaStore
	publisher *recordingPublisher
	gate      *quota.Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		images:    testutil.NewImageStore(),
		objects:   testutil.NewObjectStore(),
		quotas:    testutil.NewQuotaStore(),
		publisher: &recordingPublisher{},
	}
	f.gate = quota.NewGate(f.quotas, 20, time.UTC)
	f.svc = NewImageService(
		f.images,
		f.objects,
		f.gate,
		transform.NewPipeline(transform.Options{MaxPixels: 10_000_000}),
		f.publisher,
		nil,
		ImageServiceConfig{PresignTTL: 5 * time.Minute, MaxUploadSize: 1 << 20, MaxConcurrent: 2},
		zerolog.Nop(),
	)
	return f
}

func (f *fixture) upload(t *testing.T, userID string) models.Image {
	t.Helper()
	img, err := f.svc.Upload(context.Background(), UploadInput{
		UserID:       userID,
		DeclaredType: "image/png",
		Data:         testutil.PNG(40, 30),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return img
}

func TestUploadStoresAndRecords(t *testing.T) {
	f := newFixture(t)
	img := f.upload(t, "alice")

	if img.MimeType != "image/png" || img.SizeBytes == 0 || img.UserID != "alice" {
		t.Errorf("image = %+v", img)
	}
	if f.objects.Len() != 1 || f.images.Len() != 1 {
		t.Errorf("objects=%d images=%d, want 1/1", f.objects.Len(), f.images.Len())
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Origin != events.OriginUpload {
		t.Errorf("events = %+v", f.publisher.events)
	}
}

func TestUploadRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var verr *ValidationError
	for name, in := range map[string]UploadInput{
		"empty":         {UserID: "u", DeclaredType: "image/png"},
		"declared text": {UserID: "u", DeclaredType: "text/plain", Data: testutil.PNG(2, 2)},
		"not an image":  {UserID: "u", DeclaredType: "image/png", Data: []byte("plain text pretending")},
	} {
		if _, err := f.svc.Upload(ctx, in); !errors.As(err, &verr) {
			t.Errorf("%s: error = %v, want ValidationError", name, err)
		}
	}

	big := make([]byte, 1<<20+1)
	if _, err := f.svc.Upload(ctx, UploadInput{UserID: "u", DeclaredType: "image/png", Data: big}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("oversized: error = %v", err)
	}
	if f.objects.Len() != 0 {
		t.Errorf("rejected uploads stored %d objects", f.objects.Len())
	}
}

func TestUploadRemovesObjectWhenRecordFails(t *testing.T) {
	f := newFixture(t)
	f.images.CreateErr = errors.New("db down")

	_, err := f.svc.Upload(context.Background(), UploadInput{UserID: "u", DeclaredType: "image/png", Data: testutil.PNG(2, 2)})
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if f.objects.Len() != 0 {
		t.Errorf("orphaned objects = %d", f.objects.Len())
	}
}

func TestUploadSanitizesSVG(t *testing.T) {
	f := newFixture(t)
	img, err := f.svc.Upload(context.Background(), UploadInput{
		UserID:       "u",
		DeclaredType: "image/svg+xml",
		Data:         []byte(`<svg xmlns="http://www.w3.org/2000/svg" onload="x()"><script>x()</script></svg>`),
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := f.objects.Get(context.Background(), img.ObjectKey)
	if err != nil {
		t.Fatal(err)
	}
	if want := `<svg xmlns="http://www.w3.org/2000/svg"></svg>`; string(data) != want {
		t.Errorf("stored %q, want %q", data, want)
	}
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.upload(t, "alice")
	}
	f.upload(t, "bob")
	ctx := context.Background()

	res, err := f.svc.List(ctx, "alice", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 5 || len(res.Images) != 2 || res.Page != 2 || res.Limit != 2 {
		t.Errorf("page 2 = %+v", res)
	}

	res, err = f.svc.List(ctx, "alice", 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Page != 1 || res.Limit != MaxLimit || len(res.Images) != 5 {
		t.Errorf("defaults = page %d limit %d n %d", res.Page, res.Limit, len(res.Images))
	}
	for i := 1; i < len(res.Images); i++ {
		if res.Images[i].CreatedAt.After(res.Images[i-1].CreatedAt) {
			t.Fatal("images not newest first")
		}
	}

	res, err = f.svc.List(ctx, "alice", 1, 0)
	if err != nil || res.Limit != DefaultLimit {
		t.Errorf("zero limit = %+v, %v", res, err)
	}
}

func TestGetURLOwnership(t *testing.T) {
	f := newFixture(t)
	img := f.upload(t, "alice")
	ctx := context.Background()

	url, err := f.svc.GetURL(ctx, "alice", img.ID)
	if err != nil {
		t.Fatal(err)
	}
	if url.URL != "mem://"+img.ObjectKey+"?ttl=5m0s" {
		t.Errorf("url = %s", url.URL)
	}

	for name, id := range map[string]string{
		"foreign":   img.ID,
		"missing":   ids.New(),
		"malformed": "../../etc",
	} {
		if _, err := f.svc.GetURL(ctx, "mallory", id); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: error = %v, want ErrForbidden", name, err)
		}
	}
}

func TestTransformCreatesNewArtifact(t *testing.T) {
	f := newFixture(t)
	src := f.upload(t, "alice")
	spec := map[string]any{
		"resize": map[string]any{"width": float64(20), "height": float64(10)},
		"format": "webp",
	}

	first, err := f.svc.Transform(context.Background(), TransformInput{UserID: "alice", ImageID: src.ID, Transformations: spec})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	second, err := f.svc.Transform(context.Background(), TransformInput{UserID: "alice", ImageID: src.ID, Transformations: spec})
	if err != nil {
		t.Fatalf("second Transform() error = %v", err)
	}

	if first.Image.ID == second.Image.ID || first.Image.ObjectKey == second.Image.ObjectKey {
		t.Error("identical specs produced the same artifact")
	}
	if first.Image.ID == src.ID {
		t.Error("source image was reused")
	}
	if first.Image.MimeType != "image/webp" || *first.Image.Width != 20 || *first.Image.Height != 10 {
		t.Errorf("artifact = %+v", first.Image)
	}
	if got := f.quotas.Count("alice"); got != 2 {
		t.Errorf("quota count = %d, want 2", got)
	}
	if second.Quota.Remaining != 18 {
		t.Errorf("remaining = %d, want 18", second.Quota.Remaining)
	}
	if f.images.Len() != 3 {
		t.Errorf("images = %d, want 3", f.images.Len())
	}
	last := f.publisher.events[len(f.publisher.events)-1]
	if last.Origin != events.OriginTransform || last.ImageID != second.Image.ID {
		t.Errorf("last event = %+v", last)
	}
}

func TestTransformForbiddenSpendsNoQuota(t *testing.T) {
	f := newFixture(t)
	src := f.upload(t, "alice")

	for _, id := range []string{src.ID, ids.New()} {
		_, err := f.svc.Transform(context.Background(), TransformInput{
			UserID:          "mallory",
			ImageID:         id,
			Transformations: map[string]any{"rotate": float64(90)},
		})
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	}
	if got := f.quotas.Count("mallory"); got != 0 {
		t.Errorf("quota count = %d, want 0", got)
	}
}

func TestTransformQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	src := f.upload(t, "alice")
	f.quotas.Set("alice", f.gate.Today(), 20)
	before := f.images.Len()

	_, err := f.svc.Transform(context.Background(), TransformInput{
		UserID:          "alice",
		ImageID:         src.ID,
		Transformations: map[string]any{"rotate": float64(90)},
	})
	var qerr *QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("error = %v, want QuotaExceededError", err)
	}
	if qerr.Decision.Limit != 20 || qerr.Decision.Remaining != 0 {
		t.Errorf("decision = %+v", qerr.Decision)
	}
	if f.images.Len() != before || f.quotas.Count("alice") != 20 {
		t.Error("denied transform changed state")
	}
}

func TestTransformInvalidSpecStillSpendsQuota(t *testing.T) {
	f := newFixture(t)
	src := f.upload(t, "alice")

	for _, raw := range []map[string]any{nil, {}, {"rotate": float64(45)}} {
		_, err := f.svc.Transform(context.Background(), TransformInput{UserID: "alice", ImageID: src.ID, Transformations: raw})
		var verr *ValidationError
		if !errors.As(err, &verr) || len(verr.Fields) == 0 {
			t.Errorf("spec %v: error = %v, want ValidationError", raw, err)
		}
	}
	if got := f.quotas.Count("alice"); got != 3 {
		t.Errorf("quota count = %d, want 3", got)
	}
}

func TestTransformPipelineFailure(t *testing.T) {
	f := newFixture(t)
	src := f.upload(t, "alice")
	before := f.images.Len()

	_, err := f.svc.Transform(context.Background(), TransformInput{
		UserID:          "alice",
		ImageID:         src.ID,
		Transformations: map[string]any{"crop": map[string]any{"width": float64(100), "height": float64(100), "x": float64(0), "y": float64(0)}},
	})
	var perr *ProcessingError
	if !errors.As(err, &perr) || !errors.Is(err, transform.ErrCropOutOfBounds) {
		t.Fatalf("error = %v, want ProcessingError wrapping ErrCropOutOfBounds", err)
	}
	if f.images.Len() != before {
		t.Error("failed transform recorded an artifact")
	}
	if got := f.quotas.Count("alice"); got != 1 {
		t.Errorf("quota count = %d, want 1 (no refund)", got)
	}
}

func TestTransformWaitsForSlot(t *testing.T) {
	f := newFixture(t)
	src := f.upload(t, "alice")
	for i := 0; i < cap(f.svc.slots); i++ {
		f.svc.slots <- struct{}{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.svc.Transform(ctx, TransformInput{UserID: "alice", ImageID: src.ID, Transformations: map[string]any{"flip": true}})
	if !errors.Is(err, ErrSlotCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want slot cancellation", err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	users := testutil.NewUserStore()
	auth := NewAuthService(users, security.NewTokenIssuer("secret", time.Hour), zerolog.Nop())
	auth.hash = func(pw string) ([]byte, error) {
		return security.HashPasswordWithParams(pw, security.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	}
	ctx := context.Background()

	user, err := auth.Register(ctx, Credentials{Username: "  alice ", Password: "Passw0rd!"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("username = %q, want trimmed", user.Username)
	}

	if _, err := auth.Register(ctx, Credentials{Username: "alice", Password: "Passw0rd!"}); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate: error = %v", err)
	}

	res, err := auth.Login(ctx, Credentials{Username: "alice", Password: "Passw0rd!"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Token == "" || res.User.ID != user.ID {
		t.Errorf("login result = %+v", res)
	}

	for _, c := range []Credentials{{Username: "alice", Password: "wrong"}, {Username: "nobody", Password: "Passw0rd!"}} {
		if _, err := auth.Login(ctx, c); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("login %+v: error = %v", c, err)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	auth := NewAuthService(testutil.NewUserStore(), security.NewTokenIssuer("s", time.Hour), zerolog.Nop())

	tests := []struct {
		name string
		in   Credentials
		want map[string]string
	}{
		{"missing both", Credentials{}, map[string]string{"username": "is required", "password": "is required"}},
		{"long username", Credentials{Username: "abcdefghijklmnopqrstuvwxyz012345", Password: "Passw0rd!"}, map[string]string{"username": "must be at most 30 characters"}},
		{"short password", Credentials{Username: "bob", Password: "Pa0!"}, map[string]string{"password": "must be at least 6 characters"}},
		{"weak password", Credentials{Username: "bob", Password: "password1"}, map[string]string{"password": "must contain a lowercase letter, an uppercase letter, a digit and a symbol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Register(context.Background(), tt.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			got := make(map[string]string)
			for _, f := range verr.Fields {
				got[f.Field] = f.Message
			}
			if len(got) != len(tt.want) {
				t.Errorf("fields = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
