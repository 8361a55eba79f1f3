package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"strings"
	"time"

	"fireflow/internal/domain"
	"fireflow/internal/firefly"
	"fireflow/internal/infra"
	"fireflow/internal/jobs"
	"fireflow/internal/naming"
	"fireflow/internal/pdfservices"
	"fireflow/internal/storage"
)

// ErrEmptyStory reports story text without a single paragraph.
var ErrEmptyStory = errors.New("story has no paragraphs")

// Paragraph is one merged entry of the story document. Image holds an img
// tag the template renders in place; it stays empty when the illustration
// failed.
type Paragraph struct {
	Text    string `json:"text"`
	Summary string `json:"summary"`
	Image   string `json:"image"`
}

// Prompt is the illustration prompt: the summary, or the text when the
// paragraph has none.
func (p Paragraph) Prompt() string {
	if p.Summary != "" {
		return p.Summary
	}
	return p.Text
}

const summaryMarker = "summary:"

// ParseStory splits text on blank lines and cuts each block at its
// "Summary:" line. A block that is only a summary belongs to the paragraph
// before it, since the writer sometimes puts a blank line in between.
func ParseStory(text string) ([]Paragraph, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []Paragraph
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		body, summary := block, ""
		if i := strings.Index(strings.ToLower(block), summaryMarker); i >= 0 {
			body, summary = block[:i], block[i+len(summaryMarker):]
		}
		body = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(body), "*"))
		summary = strings.TrimSpace(strings.Trim(strings.TrimSpace(summary), "*"))

		if body == "" {
			if summary != "" && len(out) > 0 && out[len(out)-1].Summary == "" {
				out[len(out)-1].Summary = summary
			}
			continue
		}
		out = append(out, Paragraph{Text: body, Summary: summary})
	}
	if len(out) == 0 {
		return nil, ErrEmptyStory
	}
	return out, nil
}

// StoryWriter drafts story text from a prompt.
type StoryWriter interface {
	Write(ctx context.Context, prompt string) (string, error)
}

// Illustrator is the text-to-image call the story flow needs.
type Illustrator interface {
	Generate(ctx context.Context, req firefly.GenerateRequest) ([]firefly.Output, error)
}

// DocumentService is the part of the document-generation client the story
// flow needs.
type DocumentService interface {
	UploadAsset(ctx context.Context, file, mediaType string) (pdfservices.Asset, error)
	GenerateDocument(ctx context.Context, assetID, outputFormat string, data json.RawMessage) (jobs.Handle, error)
	Wait(ctx context.Context, h jobs.Handle) (jobs.Result, error)
}

// StoryDeps are the collaborators of a story run. Writer may be nil when the
// paragraphs are supplied.
type StoryDeps struct {
	Writer    StoryWriter
	Images    Illustrator
	Documents DocumentService
	Fetcher   Fetcher
	Store     *storage.FileStore
	Composer  *Composer
	Logger    *infra.Logger
}

// StoryOptions selects the story source and the output.
type StoryOptions struct {
	// Text is used as is when set; otherwise Writer drafts from Prompt.
	Text         string
	Prompt       string
	Template     string
	OutputFormat string
	ContentClass string
	Size         naming.Size
}

// StoryResult groups the reports of both phases.
type StoryResult struct {
	RunID         string
	Paragraphs    []Paragraph
	Illustrations []Report
	Document      Report
	// File is the local copy of the merged document.
	File string
}

// Reports returns every report in phase order.
func (r StoryResult) Reports() []Report {
	out := append([]Report{}, r.Illustrations...)
	if r.Document.Unit != "" {
		out = append(out, r.Document)
	}
	return out
}

// StoryPipeline illustrates every paragraph of a story and merges text and
// pictures into a document template.
type StoryPipeline struct {
	deps StoryDeps
	opts StoryOptions
	run  string
}

// NewStoryPipeline validates dependencies and fills option defaults.
func NewStoryPipeline(opts StoryOptions, deps StoryDeps) (*StoryPipeline, error) {
	if deps.Images == nil || deps.Documents == nil || deps.Fetcher == nil || deps.Store == nil {
		return nil, errors.New("pipeline: story dependencies are incomplete")
	}
	if strings.TrimSpace(opts.Text) == "" && deps.Writer == nil {
		return nil, errors.New("pipeline: story needs paragraphs or a writer")
	}
	if opts.Template == "" {
		return nil, errors.New("pipeline: story template is required")
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = "pdf"
	}
	if opts.ContentClass == "" {
		opts.ContentClass = "art"
	}
	if deps.Logger == nil {
		deps.Logger = infra.NopLogger()
	}
	if deps.Composer == nil {
		deps.Composer = NewComposer(Options{Logger: deps.Logger})
	}
	return &StoryPipeline{deps: deps, opts: opts, run: time.Now().UTC().Format("20060102T150405")}, nil
}

// Run drafts or parses the story, illustrates each paragraph as its own unit
// and merges the result. A failed illustration leaves its paragraph without
// a picture; only a story that cannot be written or parsed aborts the run.
func (p *StoryPipeline) Run(ctx context.Context) (StoryResult, error) {
	result := StoryResult{RunID: p.deps.Composer.RunID()}

	text := p.opts.Text
	if strings.TrimSpace(text) == "" {
		var err error
		if text, err = p.deps.Writer.Write(ctx, p.opts.Prompt); err != nil {
			return result, fmt.Errorf("write story: %w", err)
		}
		p.deps.Logger.Info().Int("chars", len(text)).Msg("pipeline: story drafted")
	}
	paragraphs, err := ParseStory(text)
	if err != nil {
		return result, err
	}

	result.Illustrations = p.deps.Composer.Run(ctx, p.illustrationUnits(paragraphs))
	for i, r := range result.Illustrations {
		if r.Failed() || len(r.Outputs) == 0 {
			continue
		}
		paragraphs[i].Image = `<img src="` + html.EscapeString(r.Outputs[0].URL) + `">`
	}
	result.Paragraphs = paragraphs

	data, err := json.Marshal(map[string]any{"paragraphs": paragraphs})
	if err != nil {
		return result, fmt.Errorf("encode merge data: %w", err)
	}
	result.Document = p.deps.Composer.Run(ctx, []Unit{p.documentUnit(data)})[0]
	if !result.Document.Failed() && len(result.Document.Outputs) > 0 {
		result.File = result.Document.Outputs[0].Path
	}
	return result, nil
}

// illustrationUnits: one picture per paragraph, kept locally as well since
// the service links expire.
func (p *StoryPipeline) illustrationUnits(paragraphs []Paragraph) []Unit {
	units := make([]Unit, 0, len(paragraphs))
	for i, para := range paragraphs {
		prompt := para.Prompt()
		units = append(units, Unit{
			Params: map[string]string{"paragraph": fmt.Sprintf("%02d", i+1)},
			Stages: []Stage{
				{Name: "generate", Run: func(ctx context.Context, _ *Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
					outputs, err := p.deps.Images.Generate(ctx, firefly.GenerateRequest{
						Prompt:       prompt,
						N:            1,
						ContentClass: p.opts.ContentClass,
						Size:         p.opts.Size,
					})
					if err != nil {
						return nil, err
					}
					if len(outputs) == 0 {
						return nil, domain.ErrMissingOutputs
					}
					return []domain.AssetReference{outputs[0].Ref()}, nil
				}},
				{Name: "save", Run: func(ctx context.Context, step *Step, in []domain.AssetReference) ([]domain.AssetReference, error) {
					ref := in[0]
					name := "story/" + naming.OutputName(naming.Key{Prompt: prompt, Size: p.opts.Size, Seed: ref.Seed, Run: p.run})
					dst, err := p.deps.Store.Path(name)
					if err != nil {
						return nil, err
					}
					sum, err := p.deps.Fetcher.Fetch(ctx, ref.URL, dst)
					if err != nil {
						return nil, err
					}
					step.Logger().Debug().Str("file", dst).Str("sha256", sum.SHA256).Msg("pipeline: illustration saved")
					ref.Path = dst
					return []domain.AssetReference{ref}, nil
				}},
			},
		})
	}
	return units
}

// documentUnit: upload the template, merge data into it and download the
// generated document.
func (p *StoryPipeline) documentUnit(data json.RawMessage) Unit {
	docs := p.deps.Documents
	template := p.opts.Template
	format := p.opts.OutputFormat
	base := strings.TrimSuffix(filepath.Base(template), filepath.Ext(template))

	return Unit{
		Params: map[string]string{"document": filepath.Base(template)},
		Stages: []Stage{
			{Name: "upload_template", Run: func(ctx context.Context, _ *Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
				asset, err := docs.UploadAsset(ctx, template, "")
				if err != nil {
					return nil, err
				}
				return []domain.AssetReference{{ID: asset.ID, Storage: domain.StorageExternal}}, nil
			}},
			{Name: "merge", Run: func(ctx context.Context, step *Step, in []domain.AssetReference) ([]domain.AssetReference, error) {
				h, err := docs.GenerateDocument(ctx, in[0].ID, format, data)
				if err != nil {
					return nil, err
				}
				res, err := step.Await(ctx, h, docs)
				if err != nil {
					return nil, err
				}
				if len(res.Outputs) == 0 || res.Outputs[0].URL == "" {
					return nil, domain.ErrMissingOutputs
				}
				return res.Outputs[:1], nil
			}},
			{Name: "download", Run: func(ctx context.Context, step *Step, in []domain.AssetReference) ([]domain.AssetReference, error) {
				name := naming.OutputName(naming.Key{Product: base, Prompt: "story", Run: p.run, Ext: format})
				dst, err := p.deps.Store.Path(name)
				if err != nil {
					return nil, err
				}
				sum, err := p.deps.Fetcher.Fetch(ctx, in[0].URL, dst)
				if err != nil {
					return nil, err
				}
				step.Logger().Info().Str("file", dst).Str("sha256", sum.SHA256).Msg("pipeline: story document saved")
				return []domain.AssetReference{{ID: in[0].ID, URL: in[0].URL, Path: dst, Storage: domain.StorageLocal}}, nil
			}},
		},
	}
}
