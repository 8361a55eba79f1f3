package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fireflow/internal/naming"
)

// Manifest describes a banner run. Relative local paths resolve against the
// manifest's directory.
type Manifest struct {
	Prompts      []string   `yaml:"prompts"`
	PromptsFile  string     `yaml:"prompts_file"`
	Translations []Language `yaml:"translations"`
	LanguageFile string     `yaml:"translations_file"`
	ProductsDir  string     `yaml:"products_dir"`
	Reference    string     `yaml:"reference_image"`
	Template     string     `yaml:"template"`
	RemoteRoot   string     `yaml:"remote_root"`
	Sizes        []string   `yaml:"sizes"`
	ContentClass string     `yaml:"content_class"`
	GenerateSize string     `yaml:"generate_size"`
	Concurrency  int        `yaml:"concurrency"`

	parsedSizes  []naming.Size
	generateSize naming.Size
}

// Language is one translation of the banner text.
type Language struct {
	Code string `yaml:"code"`
	Text string `yaml:"text"`
}

// DefaultSizes are the banner artboards of the stock template.
var DefaultSizes = []string{"1024x1024", "1792x1024", "1408x1024", "1024x1408"}

// LoadManifest reads and validates a YAML manifest, pulling prompts and
// translations from their files when they are given by path.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	m.PromptsFile = resolve(m.PromptsFile)
	m.LanguageFile = resolve(m.LanguageFile)
	m.ProductsDir = resolve(m.ProductsDir)
	m.Reference = resolve(m.Reference)

	if m.PromptsFile != "" {
		lines, err := ReadLines(m.PromptsFile)
		if err != nil {
			return nil, err
		}
		m.Prompts = append(m.Prompts, lines...)
	}
	if m.LanguageFile != "" {
		langs, err := ReadTranslations(m.LanguageFile)
		if err != nil {
			return nil, err
		}
		m.Translations = append(m.Translations, langs...)
	}
	if err := m.normalize(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) normalize() error {
	if len(m.Prompts) == 0 {
		return fmt.Errorf("no prompts")
	}
	if len(m.Translations) == 0 {
		return fmt.Errorf("no translations")
	}
	if m.ProductsDir == "" {
		return fmt.Errorf("products_dir is required")
	}
	if m.Reference == "" {
		return fmt.Errorf("reference_image is required")
	}
	if m.Template == "" {
		return fmt.Errorf("template is required")
	}
	if m.RemoteRoot == "" {
		m.RemoteRoot = "/fireflow"
	}
	m.RemoteRoot = "/" + strings.Trim(m.RemoteRoot, "/")
	if len(m.Sizes) == 0 {
		m.Sizes = DefaultSizes
	}
	sizes, err := naming.ParseSizes(strings.Join(m.Sizes, ","))
	if err != nil {
		return err
	}
	m.parsedSizes = sizes
	if m.ContentClass == "" {
		m.ContentClass = "photo"
	}
	if m.GenerateSize == "" {
		m.GenerateSize = "2048x2048"
	}
	if m.generateSize, err = naming.ParseSize(m.GenerateSize); err != nil {
		return err
	}
	if m.Concurrency <= 0 {
		m.Concurrency = 1
	}
	return nil
}

// SizeList returns the parsed artboard sizes.
func (m *Manifest) SizeList() []naming.Size { return m.parsedSizes }

// ReadLines returns the non-blank lines of a file, trimmed.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// ReadTranslations parses "code,text" lines. Only the first comma splits, so
// the text may contain commas.
func ReadTranslations(path string) ([]Language, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]Language, 0, len(lines))
	for i, line := range lines {
		code, text, ok := strings.Cut(line, ",")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("%s:%d: expected code,text", path, i+1)
		}
		out = append(out, Language{Code: strings.TrimSpace(code), Text: strings.TrimSpace(text)})
	}
	return out, nil
}

// ListProducts returns the image files in dir, sorted by name.
func ListProducts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var products []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".webp":
			products = append(products, e.Name())
		}
	}
	return products, nil
}
