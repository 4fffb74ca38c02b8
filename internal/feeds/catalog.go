package feeds

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed catalog.schema.json
var catalogSchemaJSON string

const (
	VariantRSS    = "rss"
	VariantScrape = "scrape"
)

// Selectors locate items on a scraped listing page.
type Selectors struct {
	Item  string `json:"item"`
	Title string `json:"title"`
	Link  string `json:"link,omitempty"`
	Time  string `json:"time,omitempty"`
}

// Definition is one feed in the catalog file.
type Definition struct {
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	Href      string     `json:"href"`
	Variant   string     `json:"variant"`
	Lang      string     `json:"lang,omitempty"`
	Enabled   *bool      `json:"enabled,omitempty"`
	Selectors *Selectors `json:"selectors,omitempty"`
}

// IsEnabled defaults to true when the catalog omits the flag.
func (d Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Catalog is the parsed and validated feed configuration.
type Catalog struct {
	Feeds []Definition `json:"feeds"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// LoadCatalog reads, validates and decodes the catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog validates raw catalog JSON against the embedded schema and
// applies the semantic checks the schema cannot express.
func ParseCatalog(raw []byte) (*Catalog, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode feed catalog JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load catalog schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("catalog schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize catalog JSON: %w", err)
	}

	var catalog Catalog
	if err := json.Unmarshal(normalized, &catalog); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	if err := validateSemantics(&catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("catalog.schema.json", strings.NewReader(catalogSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("catalog.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("catalog contains trailing content")
	}

	return value, nil
}

func validateSemantics(catalog *Catalog) error {
	if catalog == nil || len(catalog.Feeds) == 0 {
		return fmt.Errorf("catalog defines no feeds")
	}

	seen := make(map[string]bool, len(catalog.Feeds))
	for i, def := range catalog.Feeds {
		slug := strings.TrimSpace(def.Slug)
		if slug == "" {
			return fmt.Errorf("feeds[%d]: slug must not be empty", i)
		}
		if seen[slug] {
			return fmt.Errorf("feeds[%d]: duplicate slug %q", i, slug)
		}
		seen[slug] = true

		if _, err := url.ParseRequestURI(strings.TrimSpace(def.Href)); err != nil {
			return fmt.Errorf("feed %q: href is not a valid URI: %w", slug, err)
		}

		switch def.Variant {
		case VariantRSS:
		case VariantScrape:
			if def.Selectors == nil || strings.TrimSpace(def.Selectors.Item) == "" || strings.TrimSpace(def.Selectors.Title) == "" {
				return fmt.Errorf("feed %q: scrape variant requires item and title selectors", slug)
			}
		default:
			return fmt.Errorf("feed %q: unknown variant %q", slug, def.Variant)
		}
	}
	return nil
}
