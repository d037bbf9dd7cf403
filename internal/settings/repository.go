package settings

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"
)

// Repository persists one Settings value.
type Repository interface {
	// Load returns ErrNotStored when nothing has been saved yet.
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// FileRepository stores settings as a YAML document inside a billy filesystem.
type FileRepository struct {
	fs   billy.Filesystem
	name string
}

func NewFileRepository(fs billy.Filesystem, name string) *FileRepository {
	return &FileRepository{fs: fs, name: name}
}

func (r *FileRepository) Load(_ context.Context) (Settings, error) {
	data, err := util.ReadFile(r.fs, r.name)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, ErrNotStored
		}
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", r.name, err)
	}
	if s.CorePlugins == nil {
		s.CorePlugins = []string{}
	}
	return s, nil
}

// Save writes to a temporary file next to the target and renames it into
// place so a concurrent Load never sees a partial document.
func (r *FileRepository) Save(_ context.Context, s Settings) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := path.Dir(r.name)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := util.TempFile(r.fs, dir, ".settings-")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = r.fs.Remove(tmpName)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = r.fs.Remove(tmpName)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := r.fs.Rename(tmpName, r.name); err != nil {
		_ = r.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// MemoryRepository keeps settings in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	stored *Settings
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Load(_ context.Context) (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stored == nil {
		return Settings{}, ErrNotStored
	}
	s := *r.stored
	s.CorePlugins = append([]string{}, r.stored.CorePlugins...)
	return s, nil
}

func (r *MemoryRepository) Save(_ context.Context, s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.CorePlugins = append([]string{}, s.CorePlugins...)
	r.stored = &s
	return nil
}

var (
	_ Repository = (*FileRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
