// Package templates stores the document template catalog in SQLite.
// A template is a scene or chapter skeleton: YAML front matter plus a
// body the draft synthesizer expands. The catalog ships with a few
// defaults and accepts user-defined entries.
package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a template id has no catalog entry.
var ErrNotFound = errors.New("template not found")

// Template is one catalog entry.
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Description string         `json:"description"`
	FrontMatter map[string]any `json:"front_matter,omitempty"`
	Body        string         `json:"body"`
}

const schema = `
CREATE TABLE IF NOT EXISTS templates (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	kind         TEXT NOT NULL DEFAULT 'scene',
	description  TEXT NOT NULL DEFAULT '',
	front_matter TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Catalog is the SQLite-backed template store.
type Catalog struct {
	db *sql.DB
}

// NewCatalog opens (creating if needed) the catalog database at dsn,
// configures WAL mode, applies the schema, and seeds the default
// templates when they are absent.
func NewCatalog(dsn string) (*Catalog, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("templates: failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("templates: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open
	// connection serialises writes and avoids SQLITE_BUSY errors
	// under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("templates: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("templates: failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("templates: failed to create schema: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.seedDefaults(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// DB exposes the underlying handle so the config package can persist
// user settings in the same database.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// List returns all templates ordered by name.
func (c *Catalog) List(ctx context.Context) ([]*Template, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, kind, description, front_matter, body
		FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("templates: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// Get returns one template by id, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, id string) (*Template, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, kind, description, front_matter, body
		FROM templates WHERE id = ?`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("templates: %q: %w", id, ErrNotFound)
	}
	return tpl, err
}

// Put creates or updates a template (upsert semantics).
func (c *Catalog) Put(ctx context.Context, tpl *Template) error {
	if tpl == nil || tpl.ID == "" {
		return errors.New("templates: template id is required")
	}
	if tpl.Name == "" {
		return errors.New("templates: template name is required")
	}
	kind := tpl.Kind
	if kind == "" {
		kind = "scene"
	}
	fm, err := marshalFrontMatter(tpl.FrontMatter)
	if err != nil {
		return fmt.Errorf("templates: failed to serialize front matter for %q: %w", tpl.ID, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, kind, description, front_matter, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			description = excluded.description,
			front_matter = excluded.front_matter,
			body = excluded.body,
			updated_at = CURRENT_TIMESTAMP
	`, tpl.ID, tpl.Name, kind, tpl.Description, fm, tpl.Body)
	if err != nil {
		return fmt.Errorf("templates: failed to store %q: %w", tpl.ID, err)
	}
	return nil
}

// Delete removes a template. Deleting a missing id is not an error.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("templates: failed to delete %q: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*Template, error) {
	var tpl Template
	var fm string
	if err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Kind, &tpl.Description, &fm, &tpl.Body); err != nil {
		return nil, err
	}
	if fm != "" {
		if err := yaml.Unmarshal([]byte(fm), &tpl.FrontMatter); err != nil {
			return nil, fmt.Errorf("templates: corrupt front matter for %q: %w", tpl.ID, err)
		}
	}
	return &tpl, nil
}

func marshalFrontMatter(fm map[string]any) (string, error) {
	if len(fm) == 0 {
		return "", nil
	}
	raw, err := yaml.Marshal(fm)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// seedDefaults inserts the shipped templates when they are absent.
// Existing rows, including user-edited copies of the defaults, are
// left untouched.
func (c *Catalog) seedDefaults(ctx context.Context) error {
	for _, tpl := range defaultTemplates() {
		fm, err := marshalFrontMatter(tpl.FrontMatter)
		if err != nil {
			return fmt.Errorf("templates: failed to serialize default %q: %w", tpl.ID, err)
		}
		_, err = c.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO templates (id, name, kind, description, front_matter, body)
			VALUES (?, ?, ?, ?, ?, ?)
		`, tpl.ID, tpl.Name, tpl.Kind, tpl.Description, fm, tpl.Body)
		if err != nil {
			return fmt.Errorf("templates: failed to seed %q: %w", tpl.ID, err)
		}
	}
	return nil
}

func defaultTemplates() []*Template {
	return []*Template{
		{
			ID:          "scene-basic",
			Name:        "Basic scene",
			Kind:        "scene",
			Description: "A plain scene skeleton with point of view and location.",
			FrontMatter: map[string]any{"pov": "", "location": "", "status": "draft"},
			Body:        "The scene opens in {location}. {pov} takes stock of the situation.\n",
		},
		{
			ID:          "scene-conflict",
			Name:        "Conflict scene",
			Kind:        "scene",
			Description: "A scene built around an explicit goal, obstacle, and outcome.",
			FrontMatter: map[string]any{"pov": "", "goal": "", "obstacle": "", "status": "draft"},
			Body:        "{pov} wants {goal}, but {obstacle} stands in the way.\n",
		},
		{
			ID:          "chapter-summary",
			Name:        "Chapter summary",
			Kind:        "chapter",
			Description: "A short synopsis block used for outlining ahead of drafting.",
			FrontMatter: map[string]any{"status": "outline"},
			Body:        "Summary: what changes between the first and last line of this chapter.\n",
		},
	}
}
