package content

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/wpcd/internal/codec"
)

// Document is the on-disk shape of a content snapshot.
type Document struct {
	Packages []Package      `yaml:"packages"`
	Posts    []Post         `yaml:"posts"`
	Snippets []Snippet      `yaml:"snippets"`
	Options  map[string]any `yaml:"options"`

	// FormsPlugin marks the forms capability active even when no forms are
	// listed. Listing a form implies it.
	FormsPlugin bool   `yaml:"forms_plugin"`
	Forms       []Form `yaml:"forms"`
}

// LoadFile reads a YAML content snapshot into a fresh MemoryStore.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	store, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return store, nil
}

func Load(r io.Reader) (*MemoryStore, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return doc.Store()
}

// Store builds a MemoryStore holding the document. Nested maps with
// non-string keys are normalized so every value can be rendered as JSON.
func (d Document) Store() (*MemoryStore, error) {
	store := NewMemoryStore()
	for _, pkg := range d.Packages {
		if err := store.PutPackage(pkg); err != nil {
			return nil, err
		}
	}
	for _, post := range d.Posts {
		post.Meta = normalizeMap(post.Meta)
		store.PutPost(post)
	}
	for _, snippet := range d.Snippets {
		store.PutSnippet(snippet)
	}
	for name, value := range d.Options {
		store.SetOption(name, codec.Normalize(value))
	}
	for _, form := range d.Forms {
		form.Definition = normalizeMap(form.Definition)
		for i, entry := range form.Entries {
			form.Entries[i] = normalizeMap(entry)
		}
		store.PutForm(form)
	}
	if d.FormsPlugin {
		store.SetFormsAvailable(true)
	}
	return store, nil
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return codec.Normalize(m).(map[string]any)
}
