package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Candidate rendered-metadata filenames inside a recipe directory.
var metaFilenames = []string{"meta.yaml", "meta.yml"}

// Provides recipe lookup over a recipe root directory.
//
// The root contains one directory per package. A package directory either
// holds the metadata file directly or holds versioned variant
// subdirectories, in which case the highest version is selected.
type Repository struct {
	root string

	outputsOnce sync.Once
	outputs     map[string]string // normalized output name -> package directory
}

// Creates a repository over the given recipe root.
func NewRepository(root string) *Repository {
	return &Repository{root: root}
}

// Returns the recipe root directory.
func (r *Repository) Root() string {
	return r.root
}

// Loads the rendered metadata for a package by name.
//
// The package directory is located by its normalized identifier, the
// highest-version variant is selected, and the metadata file is parsed.
func (r *Repository) Load(name string) (*Metadata, error) {
	dir, err := r.find(name)
	if err != nil {
		return nil, err
	}

	variant, err := selectVariantDir(dir)
	if err != nil {
		return nil, err
	}

	path, ok := metaPath(variant)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no metadata file", ErrRecipeNotFound, name)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	meta, err := ParseMetadata(raw)
	if err != nil {
		return nil, err
	}
	meta.Dir = variant
	return meta, nil
}

// Reports whether a recipe exists for the given package name.
func (r *Repository) Has(name string) bool {
	_, err := r.find(name)
	return err == nil
}

// Locates the directory for a package by normalized identifier.
func (r *Repository) find(name string) (string, error) {
	key := identifierKey(name)

	direct := filepath.Join(r.root, name)
	if info, err := os.Stat(direct); err == nil && info.IsDir() {
		return direct, nil
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return "", fmt.Errorf("%w: reading recipe root: %w", ErrRecipeNotFound, err)
	}
	for _, entry := range entries {
		if entry.IsDir() && identifierKey(entry.Name()) == key {
			return filepath.Join(r.root, entry.Name()), nil
		}
	}

	// The name may be a declared output of a multi-output recipe rather
	// than a package directory of its own.
	if dir, ok := r.outputIndex()[key]; ok {
		return dir, nil
	}

	return "", fmt.Errorf("%w: %s", ErrRecipeNotFound, name)
}

// Maps declared output names to their recipe directories.
//
// Built lazily on the first lookup that misses a package directory, by
// scanning every recipe's metadata. Unparseable metadata files are
// skipped; they surface as errors when loaded directly.
func (r *Repository) outputIndex() map[string]string {
	r.outputsOnce.Do(func() {
		r.outputs = make(map[string]string)

		entries, err := os.ReadDir(r.root)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(r.root, entry.Name())
			variant, err := selectVariantDir(dir)
			if err != nil {
				continue
			}
			path, ok := metaPath(variant)
			if !ok {
				continue
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			meta, err := ParseMetadata(raw)
			if err != nil {
				continue
			}
			for _, output := range meta.EffectiveOutputs() {
				key := identifierKey(output)
				if _, exists := r.outputs[key]; !exists {
					r.outputs[key] = dir
				}
			}
		}
	})
	return r.outputs
}

// Selects the variant subdirectory with the highest version label.
//
// Subdirectories whose names contain a digit and which hold a metadata
// file are version variants. When none exist the package directory itself
// is the variant. Selection is deterministic: candidates are ordered by
// [CompareVersions] and the highest wins.
func selectVariantDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: reading recipe directory: %w", ErrParse, err)
	}

	var candidates []string
	for _, entry := range entries {
		if !entry.IsDir() || !looksLikeVersionDir(entry.Name()) {
			continue
		}
		if _, ok := metaPath(filepath.Join(dir, entry.Name())); !ok {
			continue
		}
		candidates = append(candidates, entry.Name())
	}

	if len(candidates) == 0 {
		return dir, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return CompareVersions(candidates[i], candidates[j]) < 0
	})
	return filepath.Join(dir, candidates[len(candidates)-1]), nil
}

// Whether a directory name plausibly labels a version variant.
func looksLikeVersionDir(name string) bool {
	return strings.ContainsAny(name, "0123456789")
}

// Returns the metadata file within a directory, if present.
func metaPath(dir string) (string, bool) {
	for _, filename := range metaFilenames {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// Canonical lookup key for a package identifier.
func identifierKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
}
