package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/inago/internal/domain"
	"github.com/alanyoungcy/inago/internal/market"
)

// maxCatalogSize bounds the catalog object read into memory.
const maxCatalogSize = 1 << 20

// Reader implements domain.BlobReader using an S3-compatible backend.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader for the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.s3, bucket: c.bucket}
}

// Get returns the object body at path; the caller closes it. A missing
// object yields domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return output.Body, nil
}

// Exists reports whether an object exists at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", path, err)
	}
	return true, nil
}

// CatalogReader loads the instrument catalog from a JSON array object such
// as [{"id":"ES","name":"E-mini S&P 500","basePrice":5200,"volatility":5}].
// It implements market.CatalogSource.
type CatalogReader struct {
	blobs domain.BlobReader
	key   string
}

// NewCatalogReader creates a CatalogReader for the object at key.
func NewCatalogReader(blobs domain.BlobReader, key string) *CatalogReader {
	return &CatalogReader{blobs: blobs, key: key}
}

// Load fetches, decodes and validates the catalog object.
func (c *CatalogReader) Load(ctx context.Context) ([]domain.InstrumentSpec, error) {
	body, err := c.blobs.Get(ctx, c.key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	specs, err := decodeCatalog(io.LimitReader(body, maxCatalogSize))
	if err != nil {
		return nil, fmt.Errorf("s3blob: catalog %s: %w", c.key, err)
	}
	return specs, nil
}

func decodeCatalog(r io.Reader) ([]domain.InstrumentSpec, error) {
	var specs []domain.InstrumentSpec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, fmt.Errorf("decode: %w: %w", domain.ErrParse, err)
	}
	if err := market.ValidateCatalog(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// isNotFound reports whether err means the object does not exist. GetObject
// returns NoSuchKey, HeadObject a bare 404.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

// Compile-time interface checks.
var (
	_ domain.BlobReader    = (*Reader)(nil)
	_ market.CatalogSource = (*CatalogReader)(nil)
)
