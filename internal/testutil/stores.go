// Package testutil provides in-memory stand-ins for the Postgres
// repositories and the object store.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"time"

	"github.com/miracsucu4417/image-processing-service/internal/models"
	"github.com/miracsucu4417/image-processing-service/internal/repository"
	"github.com/miracsucu4417/image-processing-service/internal/storage"
)

type UserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]models.User)}
}

func (s *UserStore) Create(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return models.User{}, repository.ErrUsernameTaken
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = user
	return user, nil
}

func (s *UserStore) FindByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

type ImageStore struct {
	mu     sync.Mutex
	images map[string]models.Image
	clock  time.Time
	// CreateErr, when set, fails every Create.
	CreateErr error
}

func NewImageStore() *ImageStore {
	return &ImageStore{
		images: make(map[string]models.Image),
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Create stamps records one second apart so ordering is deterministic.
func (s *ImageStore) Create(_ context.Context, image models.Image) (models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return models.Image{}, s.CreateErr
	}
	s.clock = s.clock.Add(time.Second)
	image.CreatedAt, image.UpdatedAt = s.clock, s.clock
	s.images[image.ID] = image
	return image, nil
}

func (s *ImageStore) GetByID(_ context.Context, id string) (models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	image, ok := s.images[id]
	if !ok {
		return models.Image{}, repository.ErrImageNotFound
	}
	return image, nil
}

func (s *ImageStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owned []models.Image
	for _, img := range s.images {
		if img.UserID == userID {
			owned = append(owned, img)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	if offset >= len(owned) {
		return []models.Image{}, nil
	}
	return owned[offset:min(offset+limit, len(owned))], nil
}

func (s *ImageStore) CountByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, img := range s.images {
		if img.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *ImageStore) UpdateDimensions(_ context.Context, id string, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return repository.ErrImageNotFound
	}
	img.Width, img.Height = &width, &height
	s.images[id] = img
	return nil
}

func (s *ImageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

type object struct {
	data     []byte
	mimeType string
}

// ObjectStore satisfies storage.ObjectStore. Presigned URLs take the
// form mem://<key>?ttl=<ttl>.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]object
	PutErr  error
	GetErr  error
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]object)}
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

func (s *ObjectStore) Put(_ context.Context, prefix string, data []byte, mimeType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return "", s.PutErr
	}
	key := storage.NewKey(prefix, mimeType)
	s.objects[key] = object{data: bytes.Clone(data), mimeType: mimeType}
	return key, nil
}

func (s *ObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrObjectNotFound)
	}
	return bytes.Clone(obj.data), nil
}

func (s *ObjectStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("mem://%s?ttl=%s", key, ttl), nil
}

func (s *ObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *ObjectStore) EnsureBucket(context.Context) error { return nil }

func (s *ObjectStore) Ping(context.Context) error { return nil }

// Seed stores data under an explicit key.
func (s *ObjectStore) Seed(key string, data []byte, mimeType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, mimeType: mimeType}
}

func (s *ObjectStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *ObjectStore) MimeType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key].mimeType
}

// PNG encodes a w x h opaque image.
func PNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
