package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// Source fetches a manifest by URL and returns its decompressed body.
type Source interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// NewSource returns the source matching the URL scheme: plain HTTP(S) for
// upstream manifests, blob storage (file://, gs://, s3://) for mirrors.
func NewSource(rawURL string) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url %s: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPSource(), nil
	case "file", "gs", "s3":
		return &BucketSource{}, nil
	default:
		return nil, fmt.Errorf("unsupported manifest url scheme %q", u.Scheme)
	}
}

// HTTPSource fetches manifests over HTTP(S).
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource creates an HTTP manifest source.
func NewHTTPSource() *HTTPSource {
	return &HTTPSource{
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Open issues a GET for the manifest and returns the body, transparently
// decompressing gzip payloads.
func (s *HTTPSource) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %s", rawURL, resp.Status)
	}

	if strings.HasSuffix(rawURL, ".gz") && resp.Header.Get("Content-Encoding") == "" {
		return gzipReadCloser(resp.Body)
	}
	return resp.Body, nil
}

// BucketSource reads manifests from blob storage via gocloud.dev, so a
// mirrored manifest in a bucket or on local disk works the same as the
// upstream HTTP one.
type BucketSource struct{}

// Open opens the blob named by rawURL. The last path element is the object
// key; the remainder is the bucket URL.
func (s *BucketSource) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse blob url %s: %w", rawURL, err)
	}

	key := path.Base(u.Path)
	dir := *u
	dir.Path = path.Dir(u.Path)

	bucket, err := blob.OpenBucket(ctx, dir.String())
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", dir.String(), err)
	}

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("open blob %s: %w", rawURL, err)
	}

	rc := io.ReadCloser(&bucketReader{Reader: r, bucket: bucket})
	if strings.HasSuffix(key, ".gz") {
		return gzipReadCloser(rc)
	}
	return rc, nil
}

// bucketReader closes the bucket together with the blob reader.
type bucketReader struct {
	*blob.Reader
	bucket *blob.Bucket
}

func (r *bucketReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.bucket.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// gzipReadCloser wraps rc in a gzip decoder, closing both on Close.
func gzipReadCloser(rc io.ReadCloser) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return &multiReadCloser{Reader: gz, closers: []io.Closer{gz, rc}}, nil
}

type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
