// Package rolemention loads the read-only mapping from (guild, feed,
// category) to a mention string prepended to rendered messages.
package rolemention

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"statusrelay/internal/model"
)

type entry struct {
	Guild    string `yaml:"guild"`
	Feed     string `yaml:"feed"`
	Category string `yaml:"category"`
	Mention  string `yaml:"mention"`
}

type file struct {
	Mentions []entry `yaml:"mentions"`
}

type key struct {
	guild    string
	feed     model.FeedKind
	category string
}

// Table resolves role mentions. The zero value resolves nothing.
type Table struct {
	entries map[key]string
}

// Load reads a YAML mapping file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mention file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Table from YAML bytes.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mention file: %w", err)
	}

	t := &Table{entries: make(map[key]string, len(f.Mentions))}
	for _, e := range f.Mentions {
		kind := model.FeedKind(e.Feed)
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown feed kind %q", e.Feed)
		}
		t.entries[key{guild: e.Guild, feed: kind, category: e.Category}] = e.Mention
	}
	return t, nil
}

// Mention returns the mention for the given tuple, falling back to the
// guild's "default" category, or "" when nothing matches.
func (t *Table) Mention(guildID string, kind model.FeedKind, category string) string {
	if t == nil || t.entries == nil {
		return ""
	}
	if m, ok := t.entries[key{guild: guildID, feed: kind, category: category}]; ok {
		return m
	}
	return t.entries[key{guild: guildID, feed: kind, category: "default"}]
}
