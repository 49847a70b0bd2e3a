package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"vaxledger/internal/platform/config"
	"vaxledger/pkg/platform/sentinel"
)

// GCS stores artifacts in a Google Cloud Storage bucket.
type GCS struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCS opens a storage client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg config.ContentStoreConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET is required for the gcs content store")
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Put writes the artifact only if the object does not exist yet. An existing
// object with the same key already holds these bytes.
func (g *GCS) Put(ctx context.Context, data []byte, metadata map[string]string) (Object, error) {
	hash := Hash(data)
	key := ObjectKey(hash)

	w := g.client.Bucket(g.bucket).Object(key).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	w.ContentType = "image/png"
	w.Metadata = metadata

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusPreconditionFailed {
			return Object{}, fmt.Errorf("close object %s: %w", key, err)
		}
	}
	return Object{ContentHash: hash, URI: g.uri(key)}, nil
}

func (g *GCS) Get(ctx context.Context, contentHash string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(ObjectKey(contentHash)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) uri(key string) string {
	if g.publicBaseURL != "" {
		return g.publicBaseURL + "/" + key
	}
	return "gs://" + g.bucket + "/" + key
}
