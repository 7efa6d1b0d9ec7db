package filestore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
)

const b2AuthURL = "https://api.backblazeb2.com"

// B2 talks to the Backblaze B2 native API: authorize once, then list,
// download and upload against the account's assigned API hosts.
type B2 struct {
	client   *resty.Client
	keyID    string
	appKey   string
	bucketID string
	bucket   string
	folder   string

	// authBase is swapped out by tests.
	authBase string

	mu          sync.Mutex
	token       string
	apiURL      string
	downloadURL string
}

func NewB2(cfg Config) *B2 {
	return &B2{
		client:   resty.New(),
		keyID:    cfg.KeyID,
		appKey:   cfg.ApplicationKey,
		bucketID: cfg.BucketID,
		bucket:   cfg.Bucket,
		folder:   cfg.Folder,
		authBase: b2AuthURL,
	}
}

type b2Auth struct {
	AuthorizationToken string `json:"authorizationToken"`
	APIURL             string `json:"apiUrl"`
	DownloadURL        string `json:"downloadUrl"`
}

func (b *B2) authorize(ctx context.Context) (b2Auth, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" {
		return b2Auth{AuthorizationToken: b.token, APIURL: b.apiURL, DownloadURL: b.downloadURL}, nil
	}

	var auth b2Auth
	resp, err := b.client.R().
		SetContext(ctx).
		SetBasicAuth(b.keyID, b.appKey).
		SetResult(&auth).
		Get(b.authBase + "/b2api/v2/b2_authorize_account")
	if err != nil {
		return b2Auth{}, fmt.Errorf("b2: authorize: %w", err)
	}
	if resp.IsError() {
		return b2Auth{}, fmt.Errorf("b2: authorize: %s: %s", resp.Status(), resp.String())
	}

	b.token = auth.AuthorizationToken
	b.apiURL = auth.APIURL
	b.downloadURL = auth.DownloadURL
	return auth, nil
}

// dropAuth forces a fresh b2_authorize_account on the next call, used after
// a 401 from an expired token.
func (b *B2) dropAuth() {
	b.mu.Lock()
	b.token = ""
	b.mu.Unlock()
}

func (b *B2) key(name string) string {
	if b.folder == "" {
		return name
	}
	return b.folder + "/" + name
}

func (b *B2) Exists(ctx context.Context, name string) (bool, error) {
	auth, err := b.authorize(ctx)
	if err != nil {
		return false, err
	}

	var out struct {
		Files []struct {
			FileName string `json:"fileName"`
		} `json:"files"`
	}
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Authorization", auth.AuthorizationToken).
		SetBody(map[string]any{
			"bucketId":      b.bucketID,
			"startFileName": b.key(name),
			"maxFileCount":  1,
		}).
		SetResult(&out).
		Post(auth.APIURL + "/b2api/v2/b2_list_file_names")
	if err != nil {
		return false, fmt.Errorf("b2: list %s: %w", name, err)
	}
	if resp.StatusCode() == 401 {
		b.dropAuth()
		return false, fmt.Errorf("b2: list %s: authorization expired", name)
	}
	if resp.IsError() {
		return false, fmt.Errorf("b2: list %s: %s: %s", name, resp.Status(), resp.String())
	}

	return len(out.Files) > 0 && out.Files[0].FileName == b.key(name), nil
}

func (b *B2) Fetch(ctx context.Context, name string) ([]byte, error) {
	auth, err := b.authorize(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Authorization", auth.AuthorizationToken).
		Get(auth.DownloadURL + "/file/" + b.bucket + "/" + escapeKey(b.key(name)))
	if err != nil {
		return nil, fmt.Errorf("b2: download %s: %w", name, err)
	}
	if resp.StatusCode() == 401 {
		b.dropAuth()
		return nil, fmt.Errorf("b2: download %s: authorization expired", name)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("b2: download %s: %s: %s", name, resp.Status(), resp.String())
	}
	return resp.Body(), nil
}

func (b *B2) Put(ctx context.Context, name string, data []byte) error {
	auth, err := b.authorize(ctx)
	if err != nil {
		return err
	}

	var upload struct {
		UploadURL          string `json:"uploadUrl"`
		AuthorizationToken string `json:"authorizationToken"`
	}
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Authorization", auth.AuthorizationToken).
		SetBody(map[string]any{"bucketId": b.bucketID}).
		SetResult(&upload).
		Post(auth.APIURL + "/b2api/v2/b2_get_upload_url")
	if err != nil {
		return fmt.Errorf("b2: get upload url: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 401 {
			b.dropAuth()
		}
		return fmt.Errorf("b2: get upload url: %s: %s", resp.Status(), resp.String())
	}

	sum := sha1.Sum(data)
	resp, err = b.client.R().
		SetContext(ctx).
		SetHeader("Authorization", upload.AuthorizationToken).
		SetHeader("X-Bz-File-Name", escapeKey(b.key(name))).
		SetHeader("Content-Type", "b2/x-auto").
		SetHeader("X-Bz-Content-Sha1", hex.EncodeToString(sum[:])).
		SetBody(data).
		Post(upload.UploadURL)
	if err != nil {
		return fmt.Errorf("b2: upload %s: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("b2: upload %s: %s: %s", name, resp.Status(), resp.String())
	}
	return nil
}

// escapeKey percent-encodes a file name for the B2 API, keeping the path
// separators that express the folder prefix.
func escapeKey(key string) string {
	// PathEscape encodes '/', but B2 expects literal separators.
	return strings.ReplaceAll(url.PathEscape(key), "%2F", "/")
}
