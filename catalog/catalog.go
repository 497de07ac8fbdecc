// Package catalog loads framework reference documents from a directory
// tree: a Frameworks_Summary.md overview table plus one markdown document
// per framework under frameworks/, named NN_Framework_Name_Framework.md.
package catalog

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/promptforge/promptforge"
)

const (
	summaryFile   = "Frameworks_Summary.md"
	frameworksDir = "frameworks"
	docSuffix     = "_Framework.md"
)

// FSCatalog serves framework documents loaded from the filesystem at
// construction time. Documents are read once; the catalog is immutable
// afterwards and safe for concurrent use.
type FSCatalog struct {
	summary string
	docs    map[string]string // normalized id -> document
	logger  *slog.Logger
}

var _ promptforge.Catalog = (*FSCatalog)(nil)

// Option configures an FSCatalog.
type Option func(*FSCatalog)

// WithLogger sets the catalog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *FSCatalog) { c.logger = logger }
}

// Load reads the framework summary and documents from dir. Missing files
// degrade rather than fail: an absent summary falls back to the built-in
// table, and unknown framework ids resolve to synthesized placeholders at
// lookup time.
func Load(dir string, opts ...Option) (*FSCatalog, error) {
	c := &FSCatalog{
		summary: promptforge.DefaultSummary,
		docs:    make(map[string]string),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if raw, err := os.ReadFile(filepath.Join(dir, summaryFile)); err == nil {
		c.summary = string(raw)
	} else {
		c.logger.Warn("framework summary not found, using built-in table",
			"path", filepath.Join(dir, summaryFile),
			"error", err,
		)
	}

	entries, err := os.ReadDir(filepath.Join(dir, frameworksDir))
	if err != nil {
		c.logger.Warn("frameworks directory not readable, all documents will be placeholders",
			"path", filepath.Join(dir, frameworksDir),
			"error", err,
		)
		return c, nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, docSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, frameworksDir, name))
		if err != nil {
			c.logger.Warn("skipping unreadable framework document", "file", name, "error", err)
			continue
		}
		c.docs[normalize(idFromFilename(name))] = string(raw)
	}

	c.logger.Info("framework catalog loaded", "documents", len(c.docs))
	return c, nil
}

// idFromFilename strips the numeric prefix and the _Framework.md suffix:
// "07_Chain_of_Thought_Framework.md" -> "Chain_of_Thought".
func idFromFilename(name string) string {
	name = strings.TrimSuffix(name, docSuffix)
	if i := strings.Index(name, "_"); i > 0 {
		if _, err := parseUint(name[:i]); err == nil {
			name = name[i+1:]
		}
	}
	return name
}

func parseUint(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// normalize folds separators and case so "Chain of Thought",
// "Chain-of-Thought" and "chain_of_thought" all key the same document.
func normalize(id string) string {
	id = strings.ToLower(id)
	id = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(id)
	return id
}

// Summary returns the framework overview table.
func (c *FSCatalog) Summary() string { return c.summary }

// Has reports whether id resolves to a real document.
func (c *FSCatalog) Has(id string) bool {
	_, ok := c.docs[normalize(id)]
	return ok
}

// Document returns the framework document for id, falling back to a
// synthesized placeholder for unknown ids.
func (c *FSCatalog) Document(id string) string {
	if doc, ok := c.docs[normalize(id)]; ok {
		return doc
	}
	c.logger.Warn("framework document not found, using placeholder", "framework", id)
	return promptforge.PlaceholderDocument(id)
}
