package persona

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var defaultCatalogueYAML []byte

//go:embed personas.schema.json
var catalogueSchemaJSON string

// Catalogue lists the languages, difficulties and starter topics the tutor
// supports.
type Catalogue struct {
	DefaultLanguage   string                `yaml:"default_language"`
	DefaultDifficulty string                `yaml:"default_difficulty"`
	Difficulties      map[string]Difficulty `yaml:"difficulties"`
	Languages         map[string]Language   `yaml:"languages"`
	Topics            []string              `yaml:"topics"`

	welcome map[string]*template.Template
}

// Difficulty maps a user-facing key ("easy") to the level name used in
// prompts ("beginner").
type Difficulty struct {
	Level string `yaml:"level"`
}

// Language describes one target language.
type Language struct {
	DisplayName    string            `yaml:"display_name"`
	SourceLanguage string            `yaml:"source_language"`
	Welcome        string            `yaml:"welcome"`
	LevelNames     map[string]string `yaml:"level_names"`
}

// welcomeData is what a language's welcome template can reference.
type welcomeData struct {
	Language     string
	Level        string
	LevelLocal   string
	ResetCommand string
}

// Default returns the catalogue embedded in the binary.
func Default() *Catalogue {
	c, err := Parse(defaultCatalogueYAML)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded catalogue is invalid: %v", err))
	}
	return c
}

// LoadFile reads and validates a catalogue from a YAML file.
func LoadFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read catalogue: %w", err)
	}
	return Parse(data)
}

// Parse validates data against the catalogue schema and decodes it.
func Parse(data []byte) (*Catalogue, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("persona: decode catalogue: %w", err)
	}

	if _, ok := c.Languages[c.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("persona: default_language %q is not a configured language", c.DefaultLanguage)
	}
	if _, ok := c.Difficulties[c.DefaultDifficulty]; !ok {
		return nil, fmt.Errorf("persona: default_difficulty %q is not a configured difficulty", c.DefaultDifficulty)
	}

	c.welcome = make(map[string]*template.Template, len(c.Languages))
	for key, lang := range c.Languages {
		if _, ok := c.Languages[lang.SourceLanguage]; !ok && lang.SourceLanguage != "" {
			return nil, fmt.Errorf("persona: language %q: unknown source_language %q", key, lang.SourceLanguage)
		}
		tmpl, err := template.New(key).Option("missingkey=error").Parse(lang.Welcome)
		if err != nil {
			return nil, fmt.Errorf("persona: language %q: parse welcome: %w", key, err)
		}
		c.welcome[key] = tmpl
	}
	return &c, nil
}

// validate checks the YAML document against the embedded JSON schema. The
// YAML is round-tripped through JSON so the validator sees JSON types.
func validate(data []byte) error {
	schema, err := jsonschema.CompileString("personas.schema.json", catalogueSchemaJSON)
	if err != nil {
		return fmt.Errorf("persona: compile schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("persona: decode catalogue: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("persona: catalogue is not JSON-compatible: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("persona: re-decode catalogue: %w", err)
	}

	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("persona: invalid catalogue: %w", err)
	}
	return nil
}

// LanguageKeys returns the configured language keys, sorted.
func (c *Catalogue) LanguageKeys() []string {
	keys := make([]string, 0, len(c.Languages))
	for k := range c.Languages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DifficultyKeys returns the configured difficulty keys, sorted.
func (c *Catalogue) DifficultyKeys() []string {
	keys := make([]string, 0, len(c.Difficulties))
	for k := range c.Difficulties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasLanguage reports whether key names a configured language.
func (c *Catalogue) HasLanguage(key string) bool {
	_, ok := c.Languages[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// HasDifficulty reports whether key names a configured difficulty.
func (c *Catalogue) HasDifficulty(key string) bool {
	_, ok := c.Difficulties[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Resolve builds the persona for a profile. A nil profile, or empty fields in
// it, fall back to the catalogue defaults. resetCommand is substituted into
// the welcome message.
func (c *Catalogue) Resolve(p *Profile, resetCommand string) (Persona, error) {
	langKey, diffKey := c.DefaultLanguage, c.DefaultDifficulty
	if p != nil {
		if p.TargetLanguage != "" {
			langKey = strings.ToLower(p.TargetLanguage)
		}
		if p.Difficulty != "" {
			diffKey = strings.ToLower(p.Difficulty)
		}
	}

	lang, ok := c.Languages[langKey]
	if !ok {
		return Persona{}, fmt.Errorf("persona: unknown language %q", langKey)
	}
	diff, ok := c.Difficulties[diffKey]
	if !ok {
		return Persona{}, fmt.Errorf("persona: unknown difficulty %q", diffKey)
	}

	source := lang.SourceLanguage
	if src, ok := c.Languages[source]; ok {
		source = src.DisplayName
	}

	levelLocal := diff.Level
	if name, ok := lang.LevelNames[diff.Level]; ok {
		levelLocal = name
	}

	var buf bytes.Buffer
	err := c.welcome[langKey].Execute(&buf, welcomeData{
		Language:     lang.DisplayName,
		Level:        diff.Level,
		LevelLocal:   levelLocal,
		ResetCommand: resetCommand,
	})
	if err != nil {
		return Persona{}, fmt.Errorf("persona: render welcome for %q: %w", langKey, err)
	}

	return Persona{
		TargetLanguage: lang.DisplayName,
		SourceLanguage: source,
		Difficulty:     diff.Level,
		WelcomeMessage: strings.TrimSpace(buf.String()),
		languageKey:    langKey,
		difficultyKey:  diffKey,
	}, nil
}

// RandomTopic picks a starter topic uniformly.
func (c *Catalogue) RandomTopic() string {
	if len(c.Topics) == 0 {
		return "everyday life"
	}
	return c.Topics[rand.IntN(len(c.Topics))]
}
