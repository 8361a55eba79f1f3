package firefly

import (
	"fireflow/internal/domain"
	"fireflow/internal/naming"
)

// GenerateRequest describes a text-to-image call. N defaults to 1.
type GenerateRequest struct {
	Prompt       string
	N            int
	ContentClass string
	Size         naming.Size
	Presets      []string
	Seeds        []int64
	// ReferenceImageID is an uploaded image id steering the style.
	ReferenceImageID string
	// StructureImageID is an uploaded image id steering the composition.
	StructureImageID string
}

// Alignment anchors the source image inside the expanded canvas.
type Alignment struct {
	Horizontal string `json:"horizontal,omitempty"`
	Vertical   string `json:"vertical,omitempty"`
}

// ExpandRequest outpaints an uploaded image to Size.
type ExpandRequest struct {
	ImageID   string
	Size      naming.Size
	Prompt    string
	N         int
	Seeds     []int64
	Alignment *Alignment
}

// FillRequest inpaints the masked area of an uploaded source image.
type FillRequest struct {
	SourceID string
	MaskID   string
	Prompt   string
	Size     naming.Size
	N        int
}

// Output is one generated image, normalized across the response shapes.
type Output struct {
	Seed    int64
	ImageID string
	URL     string
}

// Ref converts the output to a reference the next stage can consume.
func (o Output) Ref() domain.AssetReference {
	return domain.AssetReference{ID: o.ImageID, URL: o.URL, Storage: domain.StorageFirefly, Seed: o.Seed}
}

// Batch is the outcome of one call in a fan-out: one size of an expand or
// one style set of a generate. Err is set when that call failed.
type Batch struct {
	Size    naming.Size
	Presets []string
	Outputs []Output
	Err     error
}

type sizeBody struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func newSize(s naming.Size) *sizeBody {
	if s.Width == 0 || s.Height == 0 {
		return nil
	}
	return &sizeBody{Width: s.Width, Height: s.Height}
}

type idRef struct {
	ID string `json:"id"`
}

type uploadRef struct {
	UploadID string `json:"uploadId"`
}

type generateBody struct {
	N            int            `json:"n"`
	Prompt       string         `json:"prompt"`
	ContentClass string         `json:"contentClass,omitempty"`
	Size         *sizeBody      `json:"size,omitempty"`
	Seeds        []int64        `json:"seeds,omitempty"`
	Styles       *stylesBody    `json:"styles,omitempty"`
	Structure    *structureBody `json:"structure,omitempty"`
}

type stylesBody struct {
	Presets        []string `json:"presets,omitempty"`
	ReferenceImage *idRef   `json:"referenceImage,omitempty"`
}

type structureBody struct {
	ImageReference struct {
		Source uploadRef `json:"source"`
	} `json:"imageReference"`
}

type expandBody struct {
	N         int            `json:"n"`
	Image     idRef          `json:"image"`
	Size      *sizeBody      `json:"size,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Seeds     []int64        `json:"seeds,omitempty"`
	Placement *placementBody `json:"placement,omitempty"`
}

type placementBody struct {
	Alignment Alignment `json:"alignment"`
}

type fillBody struct {
	NumVariations int       `json:"numVariations"`
	Size          *sizeBody `json:"size,omitempty"`
	Prompt        string    `json:"prompt,omitempty"`
	Image         struct {
		Mask   uploadRef `json:"mask"`
		Source uploadRef `json:"source"`
	} `json:"image"`
}

type imageDoc struct {
	ID           string `json:"id"`
	PresignedURL string `json:"presignedUrl"`
	URL          string `json:"url"`
}

type outputDoc struct {
	Seed  int64    `json:"seed"`
	Image imageDoc `json:"image"`
}

// resultDoc covers generate/fill ("outputs") and expand ("images").
type resultDoc struct {
	Outputs []outputDoc `json:"outputs"`
	Images  []outputDoc `json:"images"`
}

func (r resultDoc) normalize() []Output {
	docs := r.Outputs
	if len(docs) == 0 {
		docs = r.Images
	}
	out := make([]Output, 0, len(docs))
	for _, d := range docs {
		url := d.Image.PresignedURL
		if url == "" {
			url = d.Image.URL
		}
		out = append(out, Output{Seed: d.Seed, ImageID: d.Image.ID, URL: url})
	}
	return out
}

type uploadDoc struct {
	Images []struct {
		ID string `json:"id"`
	} `json:"images"`
}
