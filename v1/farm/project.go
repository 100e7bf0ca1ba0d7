package farm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/mirkobrombin/go-sentinel/v1/lock"
	"github.com/mirkobrombin/go-sentinel/v1/project"
)

// Project is a unit of state guarded by one exclusion lock.
type Project interface {
	ID() project.ID
	Lock() lock.Lock
}

// Storage is implemented by projects backed by files.
type Storage interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
}

// FsProject is a project whose files live in one directory of an afero
// filesystem.
type FsProject struct {
	id   project.ID
	fs   afero.Fs
	dir  string
	lock lock.Lock
}

// NewFsProject creates the directory of id under root and returns the
// project guarded by l.
func NewFsProject(fs afero.Fs, root string, id project.ID, l lock.Lock) (*FsProject, error) {
	dir := filepath.Join(root, id.String())
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project directory %s: %w", dir, err)
	}
	return &FsProject{id: id, fs: fs, dir: dir, lock: l}, nil
}

func (p *FsProject) ID() project.ID { return p.id }

func (p *FsProject) Lock() lock.Lock { return p.lock }

// Dir returns the project directory.
func (p *FsProject) Dir() string { return p.dir }

// ReadFile reads a project file. A missing file reads as empty.
func (p *FsProject) ReadFile(name string) ([]byte, error) {
	path, err := p.path(name)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(p.fs, path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// WriteFile replaces a project file.
func (p *FsProject) WriteFile(name string, data []byte) error {
	path, err := p.path(name)
	if err != nil {
		return err
	}
	return afero.WriteFile(p.fs, path, data, 0o644)
}

func (p *FsProject) path(name string) (string, error) {
	clean := filepath.Clean(name)
	if name == "" || clean == "." || filepath.IsAbs(clean) || clean == ".." || clean != filepath.Base(clean) {
		return "", fmt.Errorf("invalid project file name %q", name)
	}
	return filepath.Join(p.dir, clean), nil
}

// Farm hands out file-backed projects, creating each on first use.
type Farm struct {
	fs      afero.Fs
	root    string
	newLock func(project.ID) lock.Lock

	mu       sync.Mutex
	projects map[project.ID]*FsProject
}

// NewFarm returns a Farm storing projects under root. newLock creates the
// lock of each new project.
func NewFarm(fs afero.Fs, root string, newLock func(project.ID) lock.Lock) *Farm {
	return &Farm{
		fs:       fs,
		root:     root,
		newLock:  newLock,
		projects: make(map[project.ID]*FsProject),
	}
}

// Project returns the project of id. The same id always returns the same
// project, and so the same lock.
func (f *Farm) Project(id project.ID) (*FsProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	p, err := NewFsProject(f.fs, f.root, id, f.newLock(id))
	if err != nil {
		return nil, err
	}
	f.projects[id] = p
	return p, nil
}
