package storage

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"golang.org/x/oauth2"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
)

const dropboxTokenURL = "https://api.dropboxapi.com/oauth2/token"

// filesAPI is the part of the Dropbox files client the stager uses.
type filesAPI interface {
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
	GetTemporaryLink(arg *files.GetTemporaryLinkArg) (*files.GetTemporaryLinkResult, error)
	GetTemporaryUploadLink(arg *files.GetTemporaryUploadLinkArg) (*files.GetTemporaryUploadLinkResult, error)
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)
}

// DropboxOptions configures a DropboxStager.
type DropboxOptions struct {
	AppKey       string
	AppSecret    string
	RefreshToken string
	TokenURL     string
	LinkExpiry   time.Duration
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// DropboxStager stages files in a Dropbox app folder. Access tokens are
// minted from the long-lived refresh token and renewed when they expire.
type DropboxStager struct {
	tokens     oauth2.TokenSource
	newClient  func(token string) filesAPI
	linkExpiry time.Duration
	logger     *infra.Logger
}

// NewDropboxStager builds a stager from app credentials and a refresh token.
func NewDropboxStager(ctx context.Context, opts DropboxOptions) *DropboxStager {
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = dropboxTokenURL
	}
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	conf := &oauth2.Config{
		ClientID:     opts.AppKey,
		ClientSecret: opts.AppSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &DropboxStager{
		tokens: conf.TokenSource(ctx, &oauth2.Token{RefreshToken: opts.RefreshToken}),
		newClient: func(token string) filesAPI {
			return files.New(dropbox.Config{Token: token, LogLevel: dropbox.LogOff})
		},
		linkExpiry: clampExpiry(opts.LinkExpiry, time.Minute, 4*time.Hour),
		logger:     logger,
	}
}

func (s *DropboxStager) Kind() domain.StorageKind { return domain.StorageDropbox }

func (s *DropboxStager) client() (filesAPI, error) {
	tok, err := s.tokens.Token()
	if err != nil {
		return nil, &domain.AuthError{Service: "dropbox", Err: err}
	}
	return s.newClient(tok.AccessToken), nil
}

// Upload writes the local file to remotePath, replacing any existing file.
func (s *DropboxStager) Upload(ctx context.Context, localPath, remotePath string) (domain.AssetReference, error) {
	if err := ctx.Err(); err != nil {
		return domain.AssetReference{}, err
	}
	remotePath = dropboxPath(remotePath)
	dbx, err := s.client()
	if err != nil {
		return domain.AssetReference{}, err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return domain.AssetReference{}, &domain.TransferError{Op: "dropbox upload", Target: localPath, Err: err}
	}
	defer f.Close()

	arg := files.NewUploadArg(remotePath)
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	meta, err := dbx.Upload(arg, f)
	if err != nil {
		return domain.AssetReference{}, &domain.TransferError{Op: "dropbox upload", Target: remotePath, Err: err}
	}
	s.logger.Debug().Str("path", remotePath).Uint64("bytes", meta.Size).Msg("storage: uploaded")
	return domain.AssetReference{ID: meta.Id, Path: meta.PathDisplay, Storage: domain.StorageDropbox}, nil
}

// Download streams remotePath to dst.
func (s *DropboxStager) Download(ctx context.Context, remotePath, dst string) (Checksum, error) {
	if err := ctx.Err(); err != nil {
		return Checksum{}, err
	}
	remotePath = dropboxPath(remotePath)
	dbx, err := s.client()
	if err != nil {
		return Checksum{}, err
	}
	_, body, err := dbx.Download(files.NewDownloadArg(remotePath))
	if err != nil {
		return Checksum{}, &domain.TransferError{Op: "dropbox download", Target: remotePath, Err: err}
	}
	defer body.Close()
	sum, err := writeFile(dst, body)
	if err != nil {
		return Checksum{}, &domain.TransferError{Op: "dropbox download", Target: remotePath, Err: err}
	}
	return sum, nil
}

// ReadLink returns a temporary direct-download link for an existing file.
func (s *DropboxStager) ReadLink(ctx context.Context, remotePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	remotePath = dropboxPath(remotePath)
	dbx, err := s.client()
	if err != nil {
		return "", err
	}
	res, err := dbx.GetTemporaryLink(files.NewGetTemporaryLinkArg(remotePath))
	if err != nil {
		return "", &domain.TransferError{Op: "dropbox read link", Target: remotePath, Err: err}
	}
	return res.Link, nil
}

// WriteLink returns a temporary upload link that overwrites remotePath.
func (s *DropboxStager) WriteLink(ctx context.Context, remotePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	remotePath = dropboxPath(remotePath)
	dbx, err := s.client()
	if err != nil {
		return "", err
	}
	commit := files.NewCommitInfo(remotePath)
	commit.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	arg := files.NewGetTemporaryUploadLinkArg(commit)
	arg.Duration = s.linkExpiry.Seconds()
	res, err := dbx.GetTemporaryUploadLink(arg)
	if err != nil {
		return "", &domain.TransferError{Op: "dropbox write link", Target: remotePath, Err: err}
	}
	return res.Link, nil
}

// List returns the files directly inside folder.
func (s *DropboxStager) List(ctx context.Context, folder string) ([]Entry, error) {
	folder = dropboxPath(folder)
	dbx, err := s.client()
	if err != nil {
		return nil, err
	}
	res, err := dbx.ListFolder(files.NewListFolderArg(folder))
	if err != nil {
		return nil, &domain.TransferError{Op: "dropbox list", Target: folder, Err: err}
	}
	var entries []Entry
	for {
		for _, e := range res.Entries {
			if f, ok := e.(*files.FileMetadata); ok {
				entries = append(entries, Entry{Name: f.Name, Path: f.PathDisplay, Size: int64(f.Size)})
			}
		}
		if !res.HasMore {
			return entries, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err = dbx.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, &domain.TransferError{Op: "dropbox list", Target: folder, Err: err}
		}
	}
}

// dropboxPath makes p absolute; the API rejects relative paths and wants ""
// for the app root.
func dropboxPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

var _ Stager = (*DropboxStager)(nil)
