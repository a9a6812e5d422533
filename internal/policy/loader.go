package policy

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// PolicyFile represents a loaded Rego policy file.
type PolicyFile struct {
	// Path is the file path, used as the Rego module name.
	Path string `json:"path"`
	// Name is the base name of the file without extension.
	Name string `json:"name"`
	// Content is the raw Rego source code.
	Content string `json:"content"`
}

// LoadDir loads every .rego file under dir, recursively, sorted by path.
// A missing directory means no policies and is not an error.
func LoadDir(afs afero.Fs, dir string) ([]*PolicyFile, error) {
	if dir == "" {
		return nil, nil
	}
	exists, err := afero.DirExists(afs, dir)
	if err != nil {
		return nil, fmt.Errorf("check policies directory: %w", err)
	}
	if !exists {
		return nil, nil
	}

	var policies []*PolicyFile
	err = afero.Walk(afs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}

		content, err := afero.ReadFile(afs, path)
		if err != nil {
			return fmt.Errorf("read policy %s: %w", path, err)
		}
		policies = append(policies, &PolicyFile{
			Path:    path,
			Name:    strings.TrimSuffix(filepath.Base(path), ".rego"),
			Content: string(content),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk policies directory: %w", err)
	}

	sort.Slice(policies, func(i, j int) bool { return policies[i].Path < policies[j].Path })
	return policies, nil
}
