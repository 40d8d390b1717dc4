package persona

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultCatalog []byte

// Template is a predefined reviewer, grouped into catalog categories.
type Template struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Role         string `yaml:"role" json:"role"`
	Model        string `yaml:"model" json:"model"`
	IsModerator  bool   `yaml:"is_moderator" json:"is_moderator,omitempty"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
}

// Category is a named group of templates.
type Category struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Templates   []Template `yaml:"templates" json:"templates"`
}

// Catalog holds every template by category key.
type Catalog struct {
	Categories map[string]Category `yaml:"categories" json:"categories"`

	byID map[string]Template
}

// DefaultCatalog returns the built-in template catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file. JSON files are accepted as YAML.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("persona: parse catalog: %w", err)
	}
	c.byID = make(map[string]Template)
	var problems []string
	for _, key := range c.categoryKeys() {
		for _, t := range c.Categories[key].Templates {
			switch {
			case t.ID == "":
				problems = append(problems, fmt.Sprintf("category %s: template without id", key))
			case t.Name == "" || t.Role == "":
				problems = append(problems, fmt.Sprintf("template %s: name and role are required", t.ID))
			default:
				if _, dup := c.byID[t.ID]; dup {
					problems = append(problems, fmt.Sprintf("template %s: duplicate id", t.ID))
				}
				c.byID[t.ID] = t
			}
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("persona: invalid catalog: %s", strings.Join(problems, "; "))
	}
	return &c, nil
}

func (c *Catalog) categoryKeys() []string {
	keys := make([]string, 0, len(c.Categories))
	for k := range c.Categories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the template with the given id.
func (c *Catalog) Lookup(id string) (Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Len returns the number of templates.
func (c *Catalog) Len() int { return len(c.byID) }

// Personas builds team members from template ids, in order. When none of the
// templates is a moderator, a moderator named moderatorName is appended.
func (c *Catalog) Personas(ids []string, moderatorName string) ([]Persona, error) {
	var missing []string
	members := make([]Persona, 0, len(ids)+1)
	hasModerator := false
	for i, id := range ids {
		t, ok := c.byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		hasModerator = hasModerator || t.IsModerator
		members = append(members, Persona{
			ID:           fmt.Sprintf("template_%s_%d", id, i),
			Name:         t.Name,
			Role:         t.Role,
			Model:        t.Model,
			IsModerator:  t.IsModerator,
			SystemPrompt: t.SystemPrompt,
		})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("persona: template not found: %s", strings.Join(missing, ", "))
	}
	if !hasModerator {
		if moderatorName == "" {
			moderatorName = "Team Moderator"
		}
		members = append(members, Persona{
			ID:          Slug(moderatorName),
			Name:        moderatorName,
			Role:        "Synthesizes the team's feedback",
			IsModerator: true,
		})
	}
	return members, nil
}
