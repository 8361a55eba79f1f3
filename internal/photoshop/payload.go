package photoshop

import (
	"encoding/json"
	"fmt"

	"fireflow/internal/domain"
	"fireflow/internal/naming"
)

// Location is a storage descriptor: the href is used verbatim.
type Location struct {
	Href    string             `json:"href"`
	Storage domain.StorageKind `json:"storage"`
}

// Output is a storage descriptor for a job result.
type Output struct {
	Href         string             `json:"href"`
	Storage      domain.StorageKind `json:"storage"`
	Type         string             `json:"type,omitempty"`
	Overwrite    bool               `json:"overwrite,omitempty"`
	TrimToCanvas bool               `json:"trimToCanvas,omitempty"`
	Layers       []LayerRef         `json:"layers,omitempty"`
}

// LayerRef selects a layer (an artboard in the banner template) to render.
type LayerRef struct {
	Name string `json:"name"`
}

type senseiBody struct {
	Input  Location `json:"input"`
	Output Output   `json:"output"`
}

type actionBody struct {
	Inputs  []Location `json:"inputs"`
	Options struct {
		ActionJSON json.RawMessage `json:"actionJSON"`
	} `json:"options"`
	Outputs []Output `json:"outputs"`
}

// DocumentOperations is the body of a template composite job.
type DocumentOperations struct {
	Inputs  []Location `json:"inputs"`
	Options struct {
		Layers []LayerEdit `json:"layers"`
	} `json:"options"`
	Outputs []Output `json:"outputs"`
}

// LayerEdit replaces the content of one named layer.
type LayerEdit struct {
	Name  string    `json:"name"`
	Edit  struct{}  `json:"edit"`
	Text  *TextEdit `json:"text,omitempty"`
	Input *Location `json:"input,omitempty"`
}

// TextEdit sets a text layer's content.
type TextEdit struct {
	Content string `json:"content"`
}

// CompositeRequest fills a multi-artboard template once per size. Each size
// has an artboard named "WxH" holding "WxH-text", "WxH-background" and
// "WxH-product" layers.
type CompositeRequest struct {
	Template Location
	Sizes    []naming.Size
	Text     string
	// Backgrounds maps each size to the readable href of its background.
	Backgrounds map[naming.Size]string
	// Product is the readable href of the knockout placed on every artboard.
	Product Location
	// Outputs holds one writable location per size, in Sizes order.
	Outputs []Location
}

// BuildComposite produces the document-operations payload for req. Hrefs are
// copied verbatim from the request.
func BuildComposite(req CompositeRequest) (DocumentOperations, error) {
	var doc DocumentOperations
	if req.Template.Href == "" {
		return doc, fmt.Errorf("composite: template href is required")
	}
	if len(req.Sizes) == 0 {
		return doc, fmt.Errorf("composite: %w: no sizes", domain.ErrInvalidSize)
	}
	if len(req.Outputs) != len(req.Sizes) {
		return doc, fmt.Errorf("composite: %d outputs for %d sizes", len(req.Outputs), len(req.Sizes))
	}
	doc.Inputs = []Location{req.Template}
	doc.Options.Layers = make([]LayerEdit, 0, 3*len(req.Sizes))
	doc.Outputs = make([]Output, 0, len(req.Sizes))

	for i, size := range req.Sizes {
		background, ok := req.Backgrounds[size]
		if !ok || background == "" {
			return DocumentOperations{}, fmt.Errorf("composite: no background for %s", size)
		}
		artboard := size.String()
		product := req.Product
		doc.Options.Layers = append(doc.Options.Layers,
			LayerEdit{Name: artboard + "-text", Text: &TextEdit{Content: req.Text}},
			LayerEdit{Name: artboard + "-background", Input: &Location{Href: background, Storage: domain.StorageExternal}},
			LayerEdit{Name: artboard + "-product", Input: &product},
		)
		doc.Outputs = append(doc.Outputs, Output{
			Href:         req.Outputs[i].Href,
			Storage:      req.Outputs[i].Storage,
			Type:         "image/jpeg",
			TrimToCanvas: true,
			Layers:       []LayerRef{{Name: artboard}},
		})
	}
	return doc, nil
}
