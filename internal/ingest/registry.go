package ingest

import (
	"embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/david/grant-pipeline/internal/ai"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all data sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // Default: 30
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // Requests per second per host, 0 = unlimited
	ProxyURL       string  `yaml:"proxy_url,omitempty"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"`
	UserAgent      string  `yaml:"user_agent,omitempty"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes,omitempty"` // Default: 25 MiB
}

func (c FetchConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c FetchConfig) maxBody() int64 {
	if c.MaxBodyBytes <= 0 {
		return 25 << 20
	}
	return c.MaxBodyBytes
}

// SourceConfig defines a single data source for ingestion.
type SourceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Strategy string `yaml:"strategy"` // "api_grants_gov", "html_table", "html_links"
	Disabled bool   `yaml:"disabled,omitempty"`
	// Record is the source value stored on every opportunity, e.g. "grants.gov".
	Record  string           `yaml:"record_source"`
	BaseURL string           `yaml:"base_url,omitempty"`
	ListURL string           `yaml:"list_url,omitempty"`
	Seeds   []string         `yaml:"seed_urls,omitempty"`
	Queries []map[string]any `yaml:"queries,omitempty"`

	Selectors SelectorConfig `yaml:"selectors,omitempty"`
	Fetch     FetchConfig    `yaml:"fetch,omitempty"`

	// Template fields are applied to every record of the source and win over
	// the model.
	Template map[string]any `yaml:"template,omitempty"`
	AI       AIConfig       `yaml:"ai,omitempty"`
}

type SelectorConfig struct {
	Table        string `yaml:"table,omitempty"`
	Container    string `yaml:"container,omitempty"` // CSS selector for the list item wrapper
	Link         string `yaml:"link,omitempty"`
	LinkContains string `yaml:"link_contains,omitempty"`
	Date         string `yaml:"date,omitempty"` // Date in listing
	Content      string `yaml:"content,omitempty"`
}

type AIConfig struct {
	// Kind is the prompt used for enrichment; empty disables it.
	Kind string   `yaml:"kind,omitempty"`
	Fill []string `yaml:"fill,omitempty"`
}

// LoadRegistry reads the source registry from path, or the embedded sources.yaml
// when path is empty. ${VAR} references are expanded from the environment.
func LoadRegistry(path string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = sourcesYAML.ReadFile("config/sources.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading source registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("parsing source registry: %w", err)
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Registry) validate() error {
	seen := make(map[string]bool, len(r.Sources))
	for i, s := range r.Sources {
		if s.ID == "" {
			return fmt.Errorf("source #%d: missing id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("source %s: duplicate id", s.ID)
		}
		seen[s.ID] = true

		if _, ok := builders[s.Strategy]; !ok {
			return fmt.Errorf("source %s: unknown strategy %q", s.ID, s.Strategy)
		}
		if s.Record == "" {
			return fmt.Errorf("source %s: missing record_source", s.ID)
		}
		if s.AI.Kind != "" {
			if _, ok := ai.ParsePromptKind(s.AI.Kind); !ok {
				return fmt.Errorf("source %s: unknown ai kind %q", s.ID, s.AI.Kind)
			}
		}
		for k := range s.Template {
			if _, ok := canonicalField(k); !ok {
				return fmt.Errorf("source %s: unknown template field %q", s.ID, k)
			}
		}
		for _, k := range s.AI.Fill {
			if _, ok := canonicalField(k); !ok {
				return fmt.Errorf("source %s: unknown ai fill field %q", s.ID, k)
			}
		}
	}
	return nil
}

// Active returns the sources that are not disabled, in registry order.
func (r *Registry) Active() []SourceConfig {
	out := make([]SourceConfig, 0, len(r.Sources))
	for _, s := range r.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// Find returns the source with the given id.
func (r *Registry) Find(id string) (SourceConfig, bool) {
	for _, s := range r.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// template converts the configured defaults into the pipeline's Template.
func (s SourceConfig) template(lookupByURL bool) Template {
	fields := make(Fields, len(s.Template))
	for k, v := range s.Template {
		name, _ := canonicalField(k)
		fields[name] = v
	}
	kind, _ := ai.ParsePromptKind(s.AI.Kind)
	fill := make([]string, 0, len(s.AI.Fill))
	for _, k := range s.AI.Fill {
		name, _ := canonicalField(k)
		fill = append(fill, name)
	}
	return Template{
		Source:      s.Record,
		Fields:      fields,
		Kind:        kind,
		AIFill:      fill,
		LookupByURL: lookupByURL,
	}
}
