// Package lexicon reads and writes the tag dictionary as YAML so that it
// can be seeded into a fresh store, reviewed as a file and exported back.
package lexicon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/textnorm"
)

// Entry is one standard tag with its alternate phrasings.
type Entry struct {
	Tag      string   `yaml:"tag"`
	Category string   `yaml:"category,omitempty"`
	Synonyms []string `yaml:"synonyms,omitempty"`
	Inactive bool     `yaml:"inactive,omitempty"`
}

// Dictionary is the file form of the tag dictionary.
//
// Expected format:
//
//	tags:
//	  - tag: 상판 휨
//	    category: 상판
//	    synonyms: [상판 처짐, 테이블 휨]
//	  - tag: 서랍 레일 파손
//	    inactive: true
type Dictionary struct {
	Tags []Entry `yaml:"tags"`
}

// LoadFromYAML reads a dictionary file.
func LoadFromYAML(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and validates entries: tag text is required and
// unique after trimming.
func Parse(data []byte) (*Dictionary, error) {
	var d Dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}
	seen := make(map[string]bool, len(d.Tags))
	for i := range d.Tags {
		e := &d.Tags[i]
		e.Tag = strings.TrimSpace(e.Tag)
		e.Category = strings.TrimSpace(e.Category)
		if e.Tag == "" {
			return nil, fmt.Errorf("entry %d: empty tag: %w", i+1, internalerr.ErrInvalidInput)
		}
		if seen[e.Tag] {
			return nil, fmt.Errorf("entry %d: tag %q repeated: %w", i+1, e.Tag, internalerr.ErrInvalidInput)
		}
		seen[e.Tag] = true
	}
	return &d, nil
}

// Write encodes d as YAML.
func (d *Dictionary) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

// SaveYAML writes d to path.
func (d *Dictionary) SaveYAML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Store is the dictionary persistence used for seeding and export.
type Store interface {
	ListTags(ctx context.Context, activeOnly bool) ([]store.Tag, error)
	GetTagByText(ctx context.Context, text string) (store.Tag, bool, error)
	CreateTag(ctx context.Context, text, category string) (int64, error)
	SetTagActive(ctx context.Context, text string, active bool) error
	AddSynonym(ctx context.Context, text string, tagID int64) error
	SynonymsByTag(ctx context.Context, tagID int64) ([]string, error)
}

// SeedStats counts what Seed did. Synonyms counts inserts issued, known
// synonyms included.
type SeedStats struct {
	TagsCreated  int
	TagsExisting int
	Synonyms     int
	Deactivated  int
}

// Seed loads d into st. Existing tags are kept (their category is not
// changed), synonyms are stored normalized and skipped when already known,
// and entries marked inactive are retired.
func Seed(ctx context.Context, st Store, d *Dictionary) (SeedStats, error) {
	var stats SeedStats
	for _, e := range d.Tags {
		id, err := st.CreateTag(ctx, e.Tag, e.Category)
		switch {
		case err == nil:
			stats.TagsCreated++
		case errors.Is(err, internalerr.ErrDuplicate):
			existing, ok, gerr := st.GetTagByText(ctx, e.Tag)
			if gerr != nil {
				return stats, fmt.Errorf("load tag %q: %w", e.Tag, gerr)
			}
			if !ok {
				return stats, fmt.Errorf("tag %q: %w", e.Tag, internalerr.ErrNotFound)
			}
			id = existing.ID
			stats.TagsExisting++
		default:
			return stats, fmt.Errorf("create tag %q: %w", e.Tag, err)
		}

		for _, syn := range e.Synonyms {
			norm := textnorm.Normalize(syn)
			if norm == "" {
				continue
			}
			if err := st.AddSynonym(ctx, norm, id); err != nil {
				return stats, fmt.Errorf("add synonym %q for %q: %w", norm, e.Tag, err)
			}
			stats.Synonyms++
		}

		if e.Inactive {
			if err := st.SetTagActive(ctx, e.Tag, false); err != nil {
				return stats, fmt.Errorf("deactivate %q: %w", e.Tag, err)
			}
			stats.Deactivated++
		}
	}
	return stats, nil
}

// Export reads the whole dictionary, retired tags included, in tag order.
func Export(ctx context.Context, st Store) (*Dictionary, error) {
	tags, err := st.ListTags(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	d := &Dictionary{Tags: make([]Entry, 0, len(tags))}
	for _, t := range tags {
		syns, err := st.SynonymsByTag(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("synonyms of %q: %w", t.Text, err)
		}
		d.Tags = append(d.Tags, Entry{
			Tag:      t.Text,
			Category: t.Category,
			Synonyms: syns,
			Inactive: !t.Active,
		})
	}
	return d, nil
}
