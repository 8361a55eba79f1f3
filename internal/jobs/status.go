package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"fireflow/internal/domain"
)

// ErrMissingStatus is returned when a status document carries no status in
// any of the shapes the services use.
var ErrMissingStatus = errors.New("status document has no status field")

type link struct {
	Href    string `json:"href"`
	Storage string `json:"storage"`
}

// statusDoc is the union of the three status shapes:
//
//	{"status": "running", ...}                          editing service, cutout/mask
//	{"outputs": [{"status": "running", ...}]}           editing service, document operations
//	{"status": "in progress", "asset": {...}}           document-generation service
type statusDoc struct {
	Status  string          `json:"status"`
	Output  *outputDoc      `json:"output"`
	Outputs []outputDoc     `json:"outputs"`
	Asset   *assetDoc       `json:"asset"`
	Error   json.RawMessage `json:"error"`
}

type outputDoc struct {
	Status  string          `json:"status"`
	Input   string          `json:"input"`
	Href    string          `json:"href"`
	Storage string          `json:"storage"`
	Errors  json.RawMessage `json:"errors"`
	Links   struct {
		Renditions []link `json:"renditions"`
	} `json:"_links"`
}

type assetDoc struct {
	AssetID     string `json:"assetID"`
	DownloadURI string `json:"downloadUri"`
}

// decodeStatus reads the status field from whichever shape is present and
// normalizes it to the job vocabulary.
func decodeStatus(raw []byte) (domain.JobStatus, statusDoc, error) {
	var doc statusDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", doc, err
	}
	value := doc.Status
	if value == "" && len(doc.Outputs) > 0 {
		value = doc.Outputs[0].Status
	}
	if value == "" {
		return "", doc, ErrMissingStatus
	}
	return normalizeStatus(value), doc, nil
}

func normalizeStatus(value string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "succeeded", "done", "success":
		return domain.JobStatusSucceeded
	case "failed", "failure", "error":
		return domain.JobStatusFailed
	case "pending", "queued", "not_started", "starting":
		return domain.JobStatusPending
	default:
		// "running", "in progress" and anything the services add later.
		return domain.JobStatusRunning
	}
}

func (d statusDoc) outputs() []domain.AssetReference {
	var refs []domain.AssetReference
	add := func(href, storage string) {
		if href == "" {
			return
		}
		refs = append(refs, domain.AssetReference{URL: href, Storage: storageKind(storage)})
	}
	if d.Output != nil {
		add(d.Output.Href, d.Output.Storage)
	}
	for _, out := range d.Outputs {
		for _, r := range out.Links.Renditions {
			add(r.Href, r.Storage)
		}
		add(out.Href, out.Storage)
	}
	if d.Asset != nil && d.Asset.DownloadURI != "" {
		refs = append(refs, domain.AssetReference{ID: d.Asset.AssetID, URL: d.Asset.DownloadURI, Storage: domain.StorageExternal})
	}
	return refs
}

func (d statusDoc) detail() string {
	if len(d.Error) > 0 && string(d.Error) != "null" {
		return string(d.Error)
	}
	for _, out := range d.Outputs {
		if len(out.Errors) > 0 && string(out.Errors) != "null" {
			return string(out.Errors)
		}
	}
	return ""
}

func storageKind(s string) domain.StorageKind {
	if s == "" {
		return domain.StorageExternal
	}
	return domain.StorageKind(s)
}
