// Package naming derives output file names from the parameters that
// produced an asset.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/language"

	"fireflow/internal/domain"
)

// Size is a target width and height in pixels.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	if s.Width == 0 && s.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize reads "WxH".
func ParseSize(raw string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return Size{}, fmt.Errorf("%w: %q", domain.ErrInvalidSize, raw)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Size{}, fmt.Errorf("%w: %q", domain.ErrInvalidSize, raw)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Size{}, fmt.Errorf("%w: %q", domain.ErrInvalidSize, raw)
	}
	return Size{Width: width, Height: height}, nil
}

// ParseSizes reads a comma separated list of sizes.
func ParseSizes(raw string) ([]Size, error) {
	var sizes []Size
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseSize(part)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, s)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("%w: no sizes in %q", domain.ErrInvalidSize, raw)
	}
	return sizes, nil
}

// Key is the identifying tuple of one output. Empty fields are left out of
// the readable part of the name.
type Key struct {
	Language string
	Product  string
	Prompt   string
	Style    string
	Size     Size
	Seed     int64
	// Run distinguishes repeated runs over the same inputs.
	Run string
	Ext string
}

// OutputName renders k as "<lang>_<product>_<prompt>_<style>_<WxH>_<seed>_<run>-<hash>.<ext>".
// Free text is slugged and never contains "_", so the readable part keeps
// field boundaries; the trailing hash covers the raw tuple so prompts that
// slug identically still get distinct names. Identical keys always produce
// identical names.
func OutputName(k Key) string {
	lang := CanonicalLanguage(k.Language)
	parts := []string{
		lang,
		Slug(k.Product),
		Slug(k.Prompt),
		Slug(k.Style),
		k.Size.String(),
	}
	if k.Seed != 0 {
		parts = append(parts, strconv.FormatInt(k.Seed, 10))
	}
	parts = append(parts, Slug(k.Run))

	var readable []string
	for _, p := range parts {
		if p != "" {
			readable = append(readable, p)
		}
	}
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(k.Ext)), ".")
	if ext == "" {
		ext = "jpg"
	}
	name := strings.Join(readable, "_")
	if name == "" {
		name = "output"
	}
	return name + "-" + fingerprint(k, lang) + "." + ext
}

// Slug lowercases free text into [a-z0-9-].
func Slug(text string) string {
	s := slug.Make(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, "_", "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}

// CanonicalLanguage normalizes a BCP 47 tag ("EN_us" -> "en-us"). Values that
// do not parse are slugged instead.
func CanonicalLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return Slug(raw)
	}
	return strings.ToLower(tag.String())
}

func fingerprint(k Key, lang string) string {
	h := sha256.New()
	for _, field := range []string{
		"lang=" + lang,
		"product=" + k.Product,
		"prompt=" + k.Prompt,
		"style=" + k.Style,
		"size=" + k.Size.String(),
		"seed=" + strconv.FormatInt(k.Seed, 10),
		"run=" + k.Run,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}
