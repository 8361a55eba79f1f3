package domain

// StorageKind names where a referenced asset lives, using the values the
// editing service expects in its storage descriptors.
type StorageKind string

const (
	StorageDropbox  StorageKind = "dropbox"
	StorageExternal StorageKind = "external"
	StorageFirefly  StorageKind = "firefly"
	StorageLocal    StorageKind = "local"
)

// AssetReference points at binary content held by a remote service or the
// storage provider. References are created by uploads and job outputs and
// are never mutated once handed to the next stage.
type AssetReference struct {
	ID      string
	URL     string
	Path    string
	Storage StorageKind
	Seed    int64
}

// Href returns the addressable form of the reference: URL when present,
// otherwise the storage path, otherwise the service id.
func (a AssetReference) Href() string {
	switch {
	case a.URL != "":
		return a.URL
	case a.Path != "":
		return a.Path
	default:
		return a.ID
	}
}
