// Package memory provides an in-process storage backend used by tests
// and by the memory:// store URL. It implements the full Backend
// contract including deterministic fake capability URLs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/doctrans/internal/storage"
)

type object struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

// Store is a mutex-guarded map of containers to objects.
type Store struct {
	mu         sync.RWMutex
	containers map[string]map[string]object
	clk        clock.Clock
}

// Option tweaks a Store.
type Option func(*Store)

// WithClock injects the clock used for timestamps and URL expiry.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clk = clk }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		containers: make(map[string]map[string]object),
		clk:        clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) EnsureContainer(_ context.Context, container string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[container]; ok {
		return false, nil
	}
	s.containers[container] = make(map[string]object)
	return true, nil
}

func (s *Store) PutObject(_ context.Context, container, name string, r io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("memory: read object: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[container]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrContainerNotFound
	}
	obj := object{
		data:         buf.Bytes(),
		contentType:  contentType,
		etag:         xid.New().String(),
		lastModified: s.clk.Now().UTC(),
	}
	c[name] = obj
	return s.info(container, name, obj), nil
}

func (s *Store) StatObject(_ context.Context, container, name string) (storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, err := s.lookup(container, name)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	return s.info(container, name, obj), nil
}

// GetObject returns the stored bytes. Not part of storage.Backend; tests
// use it to verify content round-trips.
func (s *Store) GetObject(_ context.Context, container, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, err := s.lookup(container, name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (s *Store) ListObjects(_ context.Context, container, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[container]
	if !ok {
		return nil, storage.ErrContainerNotFound
	}
	infos := make([]storage.ObjectInfo, 0, len(c))
	for name, obj := range c {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		infos = append(infos, s.info(container, name, obj))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *Store) DeleteObject(_ context.Context, container, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[container]
	if !ok {
		return storage.ErrContainerNotFound
	}
	if _, ok := c[name]; !ok {
		return storage.ErrNotFound
	}
	delete(c, name)
	return nil
}

func (s *Store) CopyObject(_ context.Context, srcContainer, srcName, dstContainer, dstName string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, err := s.lookup(srcContainer, srcName)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	dst, ok := s.containers[dstContainer]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrContainerNotFound
	}
	data := make([]byte, len(src.data))
	copy(data, src.data)
	obj := object{
		data:         data,
		contentType:  src.contentType,
		etag:         xid.New().String(),
		lastModified: s.clk.Now().UTC(),
	}
	dst[dstName] = obj
	return s.info(dstContainer, dstName, obj), nil
}

func (s *Store) SignObjectURL(_ context.Context, container, name string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.containers[container]; !ok {
		return storage.SignedURL{}, storage.ErrContainerNotFound
	}
	return s.sign(container+"/"+name, perms, ttl), nil
}

func (s *Store) SignContainerURL(_ context.Context, container string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.containers[container]; !ok {
		return storage.SignedURL{}, storage.ErrContainerNotFound
	}
	return s.sign(container, perms, ttl), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) lookup(container, name string) (object, error) {
	c, ok := s.containers[container]
	if !ok {
		return object{}, storage.ErrContainerNotFound
	}
	obj, ok := c[name]
	if !ok {
		return object{}, storage.ErrNotFound
	}
	return obj, nil
}

func (s *Store) info(container, name string, obj object) storage.ObjectInfo {
	return storage.ObjectInfo{
		Container:    container,
		Name:         name,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.lastModified,
		ETag:         obj.etag,
	}
}

func (s *Store) sign(path string, perms storage.Permissions, ttl time.Duration) storage.SignedURL {
	expires := s.clk.Now().UTC().Add(ttl)
	q := url.Values{}
	q.Set("sp", perms.String())
	q.Set("se", expires.Format(time.RFC3339))
	q.Set("sig", xid.New().String())
	return storage.SignedURL{
		URL:         "memory://" + path + "?" + q.Encode(),
		Permissions: perms,
		ExpiresAt:   expires,
	}
}
