// Package catalog lists the format plugins and middleware stages the shell
// offers before the engine is reachable.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"svs-converter/internal/domain"
)

//go:embed plugins.json
var builtinCatalog []byte

const (
	CategoryInput  = "input"
	CategoryOutput = "output"
)

// Catalog indexes known plugins by identifier.
type Catalog struct {
	plugins     map[string]domain.PluginInfo
	middlewares []string
}

type catalogFile struct {
	Plugins     []domain.PluginInfo `json:"plugins"`
	Middlewares []string            `json:"middlewares"`
}

// Builtin parses the embedded plugin catalog.
func Builtin() (*Catalog, error) {
	return Parse(builtinCatalog)
}

// Parse builds a catalog from its JSON representation. Identifiers are
// matched case-insensitively.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode plugin catalog: %w", err)
	}

	plugins := make(map[string]domain.PluginInfo, len(file.Plugins))
	for _, plugin := range file.Plugins {
		id := strings.ToLower(strings.TrimSpace(plugin.Identifier))
		if id == "" {
			return nil, fmt.Errorf("plugin catalog entry without identifier")
		}
		plugin.Identifier = id
		plugins[id] = plugin
	}

	return &Catalog{
		plugins:     plugins,
		middlewares: lo.Uniq(file.Middlewares),
	}, nil
}

// Lookup returns the plugin with the given identifier.
func (c *Catalog) Lookup(id string) (domain.PluginInfo, bool) {
	plugin, ok := c.plugins[strings.ToLower(id)]
	return plugin, ok
}

// IsInput reports whether id names a plugin that can read files.
func (c *Catalog) IsInput(id string) bool {
	plugin, ok := c.Lookup(id)
	return ok && lo.Contains(plugin.Categories, CategoryInput)
}

// IsOutput reports whether id names a plugin that can write files.
func (c *Catalog) IsOutput(id string) bool {
	plugin, ok := c.Lookup(id)
	return ok && lo.Contains(plugin.Categories, CategoryOutput)
}

// InputFormats lists readable plugins sorted by identifier.
func (c *Catalog) InputFormats() []domain.PluginInfo {
	return c.byCategory(CategoryInput)
}

// OutputFormats lists writable plugins sorted by identifier.
func (c *Catalog) OutputFormats() []domain.PluginInfo {
	return c.byCategory(CategoryOutput)
}

// Middlewares returns the known middleware identifiers in catalog order.
func (c *Catalog) Middlewares() []string {
	return append([]string(nil), c.middlewares...)
}

// IsMiddleware reports whether id is a known middleware stage.
func (c *Catalog) IsMiddleware(id string) bool {
	return lo.Contains(c.middlewares, id)
}

func (c *Catalog) byCategory(category string) []domain.PluginInfo {
	out := lo.Filter(lo.Values(c.plugins), func(plugin domain.PluginInfo, _ int) bool {
		return lo.Contains(plugin.Categories, category)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}
