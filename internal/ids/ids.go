package ids

import "github.com/segmentio/ksuid"

// New returns a time-ordered, globally unique identifier for users and images.
func New() string {
	return ksuid.New().String()
}

// Valid reports whether id has the shape produced by New.
func Valid(id string) bool {
	_, err := ksuid.Parse(id)
	return err == nil
}
