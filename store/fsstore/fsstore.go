// Package fsstore is a file-per-entry Store on a go-billy filesystem.
//
// Each value lives in <Dir>/<name>.rec behind a header carrying its creation
// and expiry stamps and the full key. name is hex(key), or "h" plus the
// SHA-256 of the key when hex would not fit a filename. Writes go to a temp
// file first and are renamed into place. When MaxBytes is set and the
// directory grows past it, the oldest entries are removed until usage falls
// to 80% of the budget.
package fsstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/unkn0wn-root/tiercache/store"
)

const (
	ext       = ".rec"
	headerLen = 20 // created, expires, key length

	// maxHexName bounds hex filenames well under the common 255-byte limit.
	maxHexName = 200
	maxKeyLen  = 1 << 16

	// trimTarget is the share of MaxBytes kept after a trim.
	trimTarget = 0.8
)

var ErrCorruptFile = errors.New("fsstore: corrupt file")

type Config struct {
	// FS is the backing filesystem. Nil means osfs rooted at Root.
	FS billy.Filesystem
	// Root is the osfs root when FS is nil.
	Root string
	// Dir is the directory within FS holding entries. Default "tiercache".
	Dir string
	// MaxBytes bounds total file size; 0 = unlimited.
	MaxBytes int64
}

type Store struct {
	fs       billy.Filesystem
	dir      string
	maxBytes int64

	mu    sync.Mutex // serializes writes and trims
	used  int64      // bytes in entry files; valid once sized
	sized bool
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Scanner = (*Store)(nil)
)

func New(cfg Config) (*Store, error) {
	fs := cfg.FS
	if fs == nil {
		if cfg.Root == "" {
			return nil, errors.New("fsstore: FS or Root is required")
		}
		fs = osfs.New(cfg.Root)
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "tiercache"
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{fs: fs, dir: dir, maxBytes: cfg.MaxBytes}, nil
}

// NewMemory returns a Store on an in-memory filesystem.
func NewMemory(maxBytes int64) *Store {
	s, _ := New(Config{FS: memfs.New(), MaxBytes: maxBytes})
	return s
}

func (s *Store) filename(key string) string {
	name := hex.EncodeToString([]byte(key))
	if len(name) > maxHexName {
		sum := sha256.Sum256([]byte(key))
		name = "h" + hex.EncodeToString(sum[:])
	}
	return path.Join(s.dir, name+ext)
}

// header is the fixed part of a record followed by its key.
type header struct {
	created int64
	expires int64
	key     string
}

func encode(key string, value []byte, meta store.Meta) []byte {
	buf := make([]byte, headerLen+len(key)+len(value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(meta.CreatedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(meta.ExpiresAt.UnixNano()))
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(key)))
	copy(buf[headerLen:], key)
	copy(buf[headerLen+len(key):], value)
	return buf
}

// decode splits a record; it fails when b is shorter than its header says.
func decode(b []byte) (header, []byte, error) {
	if len(b) < headerLen {
		return header{}, nil, ErrCorruptFile
	}
	klen := int(binary.BigEndian.Uint32(b[16:20]))
	if klen > len(b)-headerLen {
		return header{}, nil, ErrCorruptFile
	}
	h := header{
		created: int64(binary.BigEndian.Uint64(b[0:8])),
		expires: int64(binary.BigEndian.Uint64(b[8:16])),
		key:     string(b[headerLen : headerLen+klen]),
	}
	return h, b[headerLen+klen:], nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.readFile(s.filename(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	h, value, err := decode(b)
	if err != nil {
		return nil, false, err
	}
	if h.key != key {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, meta store.Meta) error {
	buf := encode(key, value, meta)
	name := s.filename(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.sizeOf(name)
	if err := s.writeAtomic(name, buf); err != nil {
		return err
	}
	if s.maxBytes <= 0 {
		return nil
	}
	if !s.sized {
		// first budgeted write: count what is already on disk
		_, err := s.trimLocked()
		return err
	}
	s.used += int64(len(buf)) - old
	if s.used > s.maxBytes {
		_, err := s.trimLocked()
		return err
	}
	return nil
}

// sizeOf reports a file's size, 0 when it does not exist.
func (s *Store) sizeOf(name string) int64 {
	fi, err := s.fs.Stat(name)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := s.fs.TempFile(s.dir, "tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := s.fs.Rename(tmpName, name); err != nil {
		// some billy backends refuse to rename over an existing file
		_ = s.fs.Remove(name)
		if err := s.fs.Rename(tmpName, name); err != nil {
			_ = s.fs.Remove(tmpName)
			return err
		}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	name := s.filename(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	size := s.sizeOf(name)
	err := s.fs.Remove(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil {
		s.used -= size
	}
	return err
}

type fileEntry struct {
	name    string
	size    int64
	created int64
	key     string
	valid   bool
}

// scan lists entry files with their headers. Unreadable or headerless
// files are reported with created = 0 so they sort first.
func (s *Store) scan() ([]fileEntry, error) {
	infos, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]fileEntry, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ext) {
			continue
		}
		name := path.Join(s.dir, fi.Name())
		e := fileEntry{name: name, size: fi.Size()}
		if h, err := s.readHeader(name); err == nil {
			e.created, e.key, e.valid = h.created, h.key, true
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.scan()
	if err != nil {
		return 0, err
	}
	limit := cutoff.UnixNano()
	n := 0
	var errs []error
	for _, f := range files {
		if f.created >= limit {
			continue
		}
		if err := s.fs.Remove(f.name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		s.used -= f.size
		n++
	}
	return n, errors.Join(errs...)
}

// Trim enforces MaxBytes now and reports how many entries were removed.
// It also resynchronizes the running byte count with the directory.
func (s *Store) Trim() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxBytes <= 0 {
		return 0, nil
	}
	return s.trimLocked()
}

func (s *Store) trimLocked() (int, error) {
	files, err := s.scan()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	s.used, s.sized = total, true
	if total <= s.maxBytes {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].created < files[j].created })
	target := int64(float64(s.maxBytes) * trimTarget)
	n := 0
	for _, f := range files {
		if total <= target {
			break
		}
		if err := s.fs.Remove(f.name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, err
		}
		total -= f.size
		s.used = total
		n++
	}
	return n, nil
}

// Size reports the total bytes held on disk.
func (s *Store) Size() (int64, error) {
	files, err := s.scan()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	files, err := s.scan()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if f.valid && strings.HasPrefix(f.key, prefix) {
			out = append(out, f.key)
		}
	}
	return out, nil
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) readFile(name string) ([]byte, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func (s *Store) readHeader(name string) (header, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return header{}, err
	}
	defer func() { _ = f.Close() }()
	fixed := make([]byte, headerLen)
	if _, err := io.ReadFull(f, fixed); err != nil {
		return header{}, err
	}
	klen := binary.BigEndian.Uint32(fixed[16:20])
	if klen > maxKeyLen {
		return header{}, ErrCorruptFile
	}
	key := make([]byte, klen)
	if _, err := io.ReadFull(f, key); err != nil {
		return header{}, ErrCorruptFile
	}
	h, _, err := decode(append(fixed, key...))
	return h, err
}
