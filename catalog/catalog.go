package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ballot-backend/models"
	"ballot-backend/storage"
)

const (
	CandidatesFile = "candidates.json"
	CategoriesFile = "categories.json"
)

// LoadError reports an unreadable or malformed catalog file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load catalog %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Catalog holds the candidates and categories a ballot may reference. It is
// built once at startup and never mutated, so it is safe to share.
type Catalog struct {
	candidates []models.Candidate
	categories []models.Category

	candidateIdx map[string]int
	categoryIdx  map[string]int
}

// Load reads candidates.json and categories.json from dataRoot.
func Load(dataRoot string) (*Catalog, error) {
	var candidates []models.Candidate
	if err := readJSON(filepath.Join(dataRoot, CandidatesFile), &candidates); err != nil {
		return nil, err
	}
	var categories []models.Category
	if err := readJSON(filepath.Join(dataRoot, CategoriesFile), &categories); err != nil {
		return nil, err
	}
	return New(candidates, categories)
}

// New builds a catalog from in-memory lists. Slugs must be non-empty and
// unique within each list, and category slugs must satisfy
// storage.ValidKeyPart.
func New(candidates []models.Candidate, categories []models.Category) (*Catalog, error) {
	c := &Catalog{
		candidates:   append([]models.Candidate(nil), candidates...),
		categories:   append([]models.Category(nil), categories...),
		candidateIdx: make(map[string]int, len(candidates)),
		categoryIdx:  make(map[string]int, len(categories)),
	}

	for i, cand := range c.candidates {
		if err := index(c.candidateIdx, cand.Slug, i); err != nil {
			return nil, &LoadError{Path: CandidatesFile, Err: err}
		}
	}
	for i, cat := range c.categories {
		if err := index(c.categoryIdx, cat.Slug, i); err != nil {
			return nil, &LoadError{Path: CategoriesFile, Err: err}
		}
		// Category slugs are part of the ballot key.
		if !storage.ValidKeyPart(cat.Slug) {
			return nil, &LoadError{Path: CategoriesFile, Err: fmt.Errorf("entry %d: slug %q is not a valid ballot key", i, cat.Slug)}
		}
	}
	return c, nil
}

func index(idx map[string]int, slug string, pos int) error {
	if strings.TrimSpace(slug) == "" {
		return fmt.Errorf("entry %d: empty slug", pos)
	}
	if _, dup := idx[slug]; dup {
		return fmt.Errorf("entry %d: duplicate slug %q", pos, slug)
	}
	idx[slug] = pos
	return nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{Path: path, Err: err}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &LoadError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// HasCandidate reports whether slug names a known candidate.
func (c *Catalog) HasCandidate(slug string) bool {
	_, ok := c.candidateIdx[slug]
	return ok
}

// HasCategory reports whether slug names a known category.
func (c *Catalog) HasCategory(slug string) bool {
	_, ok := c.categoryIdx[slug]
	return ok
}

// Candidates returns a copy of the candidates in file order.
func (c *Catalog) Candidates() []models.Candidate {
	return append([]models.Candidate{}, c.candidates...)
}

// Categories returns a copy of the categories in file order.
func (c *Catalog) Categories() []models.Category {
	return append([]models.Category{}, c.categories...)
}
