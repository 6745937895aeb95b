// ABOUTME: Audio library backed by a single directory of MP3, FLAC, and WAV files
// ABOUTME: Lists tracks, resolves track metadata, and decodes tracks to PCM
package library

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Codec is the label reported for every track; the server always streams decoded PCM
const Codec = "PCM"

// DefaultCacheSize bounds the number of cached track descriptors
const DefaultCacheSize = 256

var (
	ErrNotFound          = errors.New("track not found")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// NotFoundError names the track that could not be found
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("File %s not found.", e.Name)
}

// Is makes errors.Is(err, ErrNotFound) match
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Track describes a track as it will be streamed
type Track struct {
	Name            string
	DurationSeconds int
	SampleRate      int
	Channels        int
	BitDepth        int
	Codec           string
	PCMBytes        int64
	SourceCodec     string
	Title           string
	Artist          string
	Album           string
}

// PCM is a fully decoded track
type PCM struct {
	Track Track
	Data  []byte
}

// cacheKey invalidates entries when a file is rewritten in place
type cacheKey struct {
	name    string
	modTime time.Time
	size    int64
}

// Library serves tracks from one directory
type Library struct {
	dir   string
	cache *lru.Cache[cacheKey, Track]

	mu      sync.RWMutex
	names   []string
	watched bool
	watcher *fsnotify.Watcher
	// generation counts invalidations
	generation uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// Open creates a library over dir. cacheSize <= 0 selects DefaultCacheSize.
func Open(dir string, cacheSize int) (*Library, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("audio directory %s is not a directory", dir)
	}

	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, Track](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}

	return &Library{
		dir:    dir,
		cache:  cache,
		closed: make(chan struct{}),
	}, nil
}

// Dir returns the directory the library serves
func (l *Library) Dir() string {
	return l.dir
}

// List returns the names of all supported files, sorted.
// While Watch is running the listing is served from memory.
func (l *Library) List() ([]string, error) {
	l.mu.RLock()
	if l.watched && l.names != nil {
		names := append([]string(nil), l.names...)
		l.mu.RUnlock()
		return names, nil
	}
	gen := l.generation
	l.mu.RUnlock()

	names, err := l.scan()
	if err != nil {
		return nil, err
	}

	l.keep(names, gen)

	return append([]string(nil), names...), nil
}

// keep stores a scan started at generation gen. A change seen during the scan
// may be missing from it, so a scan overlapped by an invalidation is dropped.
func (l *Library) keep(names []string, gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.watched || l.generation != gen {
		return false
	}
	l.names = names
	return true
}

func (l *Library) scan() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsSupported(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// path maps a track name to a file inside the library, rejecting anything
// that is not a plain supported file name
func (l *Library) path(name string) (string, os.FileInfo, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !IsSupported(name) {
		return "", nil, &NotFoundError{Name: name}
	}

	path := filepath.Join(l.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, &NotFoundError{Name: name}
		}
		return "", nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.IsDir() {
		return "", nil, &NotFoundError{Name: name}
	}
	return path, info, nil
}

// Resolve returns the descriptor for a track without decoding its samples
func (l *Library) Resolve(name string) (Track, error) {
	path, info, err := l.path(name)
	if err != nil {
		return Track{}, err
	}

	key := cacheKey{name: name, modTime: info.ModTime(), size: info.Size()}
	if track, ok := l.cache.Get(key); ok {
		return track, nil
	}

	d, err := decoderFor(name)
	if err != nil {
		return Track{}, err
	}

	format, err := d.probe(path)
	if err != nil {
		return Track{}, fmt.Errorf("probe %s: %w", name, err)
	}

	track := newTrack(name, path, format)
	l.cache.Add(key, track)
	return track, nil
}

// Decode resolves a track and decodes it completely
func (l *Library) Decode(name string) (*PCM, error) {
	path, info, err := l.path(name)
	if err != nil {
		return nil, err
	}

	d, err := decoderFor(name)
	if err != nil {
		return nil, err
	}

	data, format, err := d.decode(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	track := newTrack(name, path, format)
	l.cache.Add(cacheKey{name: name, modTime: info.ModTime(), size: info.Size()}, track)

	log.Printf("Decoded %s: %d bytes, %dHz, %d channels", name, len(data), format.SampleRate, format.Channels)

	return &PCM{Track: track, Data: data}, nil
}

func newTrack(name, path string, format Format) Track {
	track := Track{
		Name:        name,
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		BitDepth:    OutputBitDepth,
		Codec:       Codec,
		PCMBytes:    format.Bytes(),
		SourceCodec: format.SourceCodec,
	}
	if format.SampleRate > 0 {
		track.DurationSeconds = int(format.Frames / int64(format.SampleRate))
	}

	track.Title, track.Artist, track.Album = readTags(path)
	return track
}

// readTags returns title, artist, and album; files without tags yield empty strings
func readTags(path string) (string, string, string) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", ""
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", ""
	}
	return meta.Title(), meta.Artist(), meta.Album()
}

// Close stops the directory watcher, if any
func (l *Library) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		if l.watcher != nil {
			err = l.watcher.Close()
			l.watcher = nil
		}
		l.watched = false
		l.names = nil
		l.mu.Unlock()
	})
	return err
}
