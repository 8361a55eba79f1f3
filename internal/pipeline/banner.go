package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"fireflow/internal/domain"
	"fireflow/internal/firefly"
	"fireflow/internal/infra"
	"fireflow/internal/jobs"
	"fireflow/internal/naming"
	"fireflow/internal/photoshop"
	"fireflow/internal/storage"
)

// ImageService is the part of the generative image client the banner flow
// needs.
type ImageService interface {
	Upload(ctx context.Context, path string) (domain.AssetReference, error)
	Generate(ctx context.Context, req firefly.GenerateRequest) ([]firefly.Output, error)
	Expand(ctx context.Context, req firefly.ExpandRequest) ([]firefly.Output, error)
}

// EditingService is the part of the image-editing client the banner flow
// needs.
type EditingService interface {
	RemoveBackground(ctx context.Context, in, out photoshop.Location) (jobs.Handle, error)
	Composite(ctx context.Context, req photoshop.CompositeRequest) (jobs.Handle, error)
	Wait(ctx context.Context, h jobs.Handle) (jobs.Result, error)
}

// Fetcher downloads a URL to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, dst string) (storage.Checksum, error)
}

// BannerDeps are the collaborators of a banner run.
type BannerDeps struct {
	Images   ImageService
	Editing  EditingService
	Stager   storage.Stager
	Fetcher  Fetcher
	Store    *storage.FileStore
	Composer *Composer
	Logger   *infra.Logger
}

// BannerPipeline produces localized banners: every product is cut out of
// its background, every prompt yields a background expanded to each
// artboard size, and every (language, product) pair is composited into the
// template for each prompt.
type BannerPipeline struct {
	deps     BannerDeps
	manifest *Manifest
	run      string
}

// BannerResult groups the reports of every phase.
type BannerResult struct {
	RunID       string
	Knockouts   []Report
	Backgrounds []Report
	Composites  []Report
}

// Reports returns every report in phase order.
func (r BannerResult) Reports() []Report {
	out := make([]Report, 0, len(r.Knockouts)+len(r.Backgrounds)+len(r.Composites))
	out = append(out, r.Knockouts...)
	out = append(out, r.Backgrounds...)
	return append(out, r.Composites...)
}

// NewBannerPipeline validates dependencies. The run stamp is part of every
// output name so repeated runs do not overwrite each other.
func NewBannerPipeline(m *Manifest, deps BannerDeps) (*BannerPipeline, error) {
	if deps.Images == nil || deps.Editing == nil || deps.Stager == nil || deps.Fetcher == nil || deps.Store == nil {
		return nil, errors.New("pipeline: banner dependencies are incomplete")
	}
	if deps.Composer == nil {
		deps.Composer = NewComposer(Options{Concurrency: m.Concurrency, Logger: deps.Logger})
	}
	if deps.Logger == nil {
		deps.Logger = infra.NopLogger()
	}
	return &BannerPipeline{deps: deps, manifest: m, run: time.Now().UTC().Format("20060102T150405")}, nil
}

// Run executes the three phases. Only failures of shared inputs (reference
// image, template link, product listing) abort the whole run; everything
// else is reported per unit.
func (p *BannerPipeline) Run(ctx context.Context) (BannerResult, error) {
	result := BannerResult{RunID: p.deps.Composer.RunID()}
	m := p.manifest

	products, err := ListProducts(m.ProductsDir)
	if err != nil {
		return result, fmt.Errorf("list products: %w", err)
	}

	result.Knockouts = p.deps.Composer.Run(ctx, p.knockoutUnits(products))
	knockouts := map[string]domain.AssetReference{}
	failedKnockouts := map[string]error{}
	for _, r := range result.Knockouts {
		product := r.Params["product"]
		if r.Failed() || len(r.Outputs) == 0 {
			failedKnockouts[product] = r.Err
			continue
		}
		knockouts[product] = r.Outputs[0]
	}

	reference, err := p.deps.Images.Upload(ctx, m.Reference)
	if err != nil {
		return result, fmt.Errorf("upload reference image: %w", err)
	}
	p.deps.Logger.Info().Str("image_id", reference.ID).Msg("pipeline: reference uploaded")

	templateLink, err := p.deps.Stager.ReadLink(ctx, m.Template)
	if err != nil {
		return result, fmt.Errorf("template link: %w", err)
	}
	template := photoshop.Location{Href: templateLink, Storage: p.deps.Stager.Kind()}

	result.Backgrounds = p.deps.Composer.Run(ctx, p.backgroundUnits(reference.ID))

	var (
		composites []Unit
		skipped    []Report
	)
	for _, bg := range result.Backgrounds {
		prompt := bg.Params["prompt"]
		for _, lang := range m.Translations {
			for _, product := range products {
				params := map[string]string{"prompt": prompt, "lang": lang.Code, "product": product}
				switch {
				case bg.Failed():
					skipped = append(skipped, Skipped(params, "composite", fmt.Errorf("background unavailable: %w", bg.Err)))
				case failedKnockouts[product] != nil || knockouts[product].URL == "":
					cause := failedKnockouts[product]
					if cause == nil {
						cause = domain.ErrMissingOutputs
					}
					skipped = append(skipped, Skipped(params, "composite", fmt.Errorf("knockout unavailable: %w", cause)))
				default:
					composites = append(composites, p.compositeUnit(params, lang, template, knockouts[product], bg.Outputs))
				}
			}
		}
	}
	p.deps.Composer.Record(ctx, skipped...)
	result.Composites = append(skipped, p.deps.Composer.Run(ctx, composites)...)
	return result, nil
}

func (p *BannerPipeline) remote(parts ...string) string {
	return path.Join(append([]string{p.manifest.RemoteRoot}, parts...)...)
}

// knockoutUnits: upload the product, remove its background into storage and
// hand on a readable link to the knockout.
func (p *BannerPipeline) knockoutUnits(products []string) []Unit {
	stager := p.deps.Stager
	units := make([]Unit, 0, len(products))
	for _, product := range products {
		local := filepath.Join(p.manifest.ProductsDir, product)
		source := p.remote("input", product)
		knockout := p.remote("knockout", product)
		units = append(units, Unit{
			Params: map[string]string{"product": product},
			Stages: []Stage{
				{Name: "upload", Run: func(ctx context.Context, _ *Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
					ref, err := stager.Upload(ctx, local, source)
					if err != nil {
						return nil, err
					}
					return []domain.AssetReference{ref}, nil
				}},
				{Name: "remove_background", Run: func(ctx context.Context, step *Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
					in, err := stager.ReadLink(ctx, source)
					if err != nil {
						return nil, err
					}
					out, err := stager.WriteLink(ctx, knockout)
					if err != nil {
						return nil, err
					}
					h, err := p.deps.Editing.RemoveBackground(ctx,
						photoshop.Location{Href: in, Storage: stager.Kind()},
						photoshop.Location{Href: out, Storage: stager.Kind()})
					if err != nil {
						return nil, err
					}
					if _, err := step.Await(ctx, h, p.deps.Editing); err != nil {
						return nil, err
					}
					return []domain.AssetReference{{Path: knockout, Storage: stager.Kind()}}, nil
				}},
				{Name: "knockout_link", Run: func(ctx context.Context, _ *Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
					link, err := stager.ReadLink(ctx, knockout)
					if err != nil {
						return nil, err
					}
					return []domain.AssetReference{{URL: link, Path: knockout, Storage: stager.Kind()}}, nil
				}},
			},
		})
	}
	return units
}

// backgroundUnits: generate one background per prompt from the reference
// image, then expand it to every artboard size, keeping a local copy.
func (p *BannerPipeline) backgroundUnits(referenceID string) []Unit {
	m := p.manifest
	units := make([]Unit, 0, len(m.Prompts))
	for _, prompt := range m.Prompts {
		units = append(units, Unit{
			Params: map[string]string{"prompt": prompt},
			Stages: []Stage{
				{Name: "generate", Run: func(ctx context.Context, _ *Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
					outputs, err := p.deps.Images.Generate(ctx, firefly.GenerateRequest{
						Prompt:           prompt,
						N:                1,
						ContentClass:     m.ContentClass,
						Size:             m.generateSize,
						ReferenceImageID: referenceID,
					})
					if err != nil {
						return nil, err
					}
					return []domain.AssetReference{outputs[0].Ref()}, nil
				}},
				{Name: "expand", Run: func(ctx context.Context, step *Step, in []domain.AssetReference) ([]domain.AssetReference, error) {
					refs := make([]domain.AssetReference, 0, len(m.parsedSizes))
					for _, size := range m.parsedSizes {
						outputs, err := p.deps.Images.Expand(ctx, firefly.ExpandRequest{ImageID: in[0].ID, Size: size, N: 1})
						if err != nil {
							return nil, fmt.Errorf("%s: %w", size, err)
						}
						ref := outputs[0].Ref()
						ref.Path = size.String()
						name := "backgrounds/" + naming.OutputName(naming.Key{Prompt: prompt, Size: size, Run: p.run})
						dst, err := p.deps.Store.Path(name)
						if err != nil {
							return nil, err
						}
						sum, err := p.deps.Fetcher.Fetch(ctx, ref.URL, dst)
						if err != nil {
							return nil, err
						}
						step.Logger().Debug().Str("file", dst).Str("sha256", sum.SHA256).Msg("pipeline: background saved")
						refs = append(refs, ref)
					}
					return refs, nil
				}},
			},
		})
	}
	return units
}

// compositeUnit fills the template for one language and product with the
// expanded backgrounds of one prompt. backgrounds carry the size in Path.
func (p *BannerPipeline) compositeUnit(params map[string]string, lang Language, template photoshop.Location, knockout domain.AssetReference, backgrounds []domain.AssetReference) Unit {
	m := p.manifest
	stager := p.deps.Stager
	bySize := make(map[naming.Size]string, len(backgrounds))
	for _, bg := range backgrounds {
		if size, err := naming.ParseSize(bg.Path); err == nil {
			bySize[size] = bg.URL
		}
	}
	prompt := params["prompt"]
	product := strings.TrimSuffix(params["product"], filepath.Ext(params["product"]))

	return Unit{
		Params: params,
		Stages: []Stage{
			{Name: "output_links", Run: func(ctx context.Context, _ *Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
				refs := make([]domain.AssetReference, 0, len(m.parsedSizes))
				for _, size := range m.parsedSizes {
					remote := p.remote("output", naming.OutputName(naming.Key{
						Language: lang.Code, Product: product, Prompt: prompt, Size: size, Run: p.run,
					}))
					link, err := stager.WriteLink(ctx, remote)
					if err != nil {
						return nil, err
					}
					refs = append(refs, domain.AssetReference{URL: link, Path: remote, Storage: stager.Kind()})
				}
				return refs, nil
			}},
			{Name: "composite", Run: func(ctx context.Context, step *Step, in []domain.AssetReference) ([]domain.AssetReference, error) {
				outputs := make([]photoshop.Location, 0, len(in))
				for _, ref := range in {
					outputs = append(outputs, photoshop.Location{Href: ref.URL, Storage: ref.Storage})
				}
				h, err := p.deps.Editing.Composite(ctx, photoshop.CompositeRequest{
					Template:    template,
					Sizes:       m.parsedSizes,
					Text:        lang.Text,
					Backgrounds: bySize,
					Product:     photoshop.Location{Href: knockout.URL, Storage: knockout.Storage},
					Outputs:     outputs,
				})
				if err != nil {
					return nil, err
				}
				if _, err := step.Await(ctx, h, p.deps.Editing); err != nil {
					return nil, err
				}
				written := make([]domain.AssetReference, 0, len(in))
				for _, ref := range in {
					written = append(written, domain.AssetReference{Path: ref.Path, Storage: ref.Storage})
				}
				return written, nil
			}},
		},
	}
}
