package storage

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
)

// Location identifies a stored payload. It is URI-like: "file:///a/b.fits",
// "untitled:Untitled-1", "backup:<id>". A bare path is treated as a file.
type Location string

const (
	SchemeFile     = "file"
	SchemeUntitled = "untitled"
	SchemeBackup   = "backup"
)

// ErrNotFound is returned when a location holds no data.
var ErrNotFound = fmt.Errorf("location not found: %w", fs.ErrNotExist)

// Storage reads and writes raw byte payloads.
type Storage interface {
	ReadFile(ctx context.Context, loc Location) ([]byte, error)
	WriteFile(ctx context.Context, loc Location, data []byte) error
	Delete(ctx context.Context, loc Location) error
}

// Scheme returns the URI scheme of loc, or SchemeFile for bare paths.
func (loc Location) Scheme() string {
	s := string(loc)
	i := strings.Index(s, ":")
	// Single letter schemes are windows drive letters.
	if i <= 1 {
		return SchemeFile
	}
	scheme := strings.ToLower(s[:i])
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return SchemeFile
		}
	}
	return scheme
}

// Opaque returns everything after the scheme separator.
func (loc Location) Opaque() string {
	if loc.Scheme() == SchemeFile && !strings.HasPrefix(string(loc), "file:") {
		return string(loc)
	}
	_, rest, _ := strings.Cut(string(loc), ":")
	return rest
}

// IsUntitled reports whether loc has never been saved to disk.
func (loc Location) IsUntitled() bool {
	return loc.Scheme() == SchemeUntitled
}

// Path converts a file location to a filesystem path.
func (loc Location) Path() (string, error) {
	if loc.Scheme() != SchemeFile {
		return "", fmt.Errorf("not a file location: %s", loc)
	}
	if !strings.HasPrefix(string(loc), "file:") {
		return string(loc), nil
	}
	u, err := url.Parse(string(loc))
	if err != nil {
		return "", fmt.Errorf("failed to parse uri: %w", err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("remote file uri not supported: %s", loc)
	}
	return u.Path, nil
}

// FileLocation converts a filesystem path to a file URI.
func FileLocation(path string) Location {
	u := url.URL{Scheme: SchemeFile, Path: path}
	return Location(u.String())
}

// Mux routes each call to the Storage registered for the location's scheme.
type Mux struct {
	backends map[string]Storage
}

func NewMux() *Mux {
	return &Mux{backends: make(map[string]Storage)}
}

// Handle registers s for scheme.
func (m *Mux) Handle(scheme string, s Storage) {
	m.backends[strings.ToLower(scheme)] = s
}

func (m *Mux) backend(loc Location) (Storage, error) {
	s, ok := m.backends[loc.Scheme()]
	if !ok {
		return nil, fmt.Errorf("no storage for scheme %q (%s)", loc.Scheme(), loc)
	}
	return s, nil
}

func (m *Mux) ReadFile(ctx context.Context, loc Location) ([]byte, error) {
	s, err := m.backend(loc)
	if err != nil {
		return nil, err
	}
	return s.ReadFile(ctx, loc)
}

func (m *Mux) WriteFile(ctx context.Context, loc Location, data []byte) error {
	s, err := m.backend(loc)
	if err != nil {
		return err
	}
	return s.WriteFile(ctx, loc, data)
}

func (m *Mux) Delete(ctx context.Context, loc Location) error {
	s, err := m.backend(loc)
	if err != nil {
		return err
	}
	return s.Delete(ctx, loc)
}
