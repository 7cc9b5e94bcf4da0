package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgraph "github.com/kgraph-ai/kgraph"
)

func TestFSSourceFetch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	src := NewFSSource(dir)
	fetched, err := src.Fetch(ctx, Descriptor{SourceID: "notes", Origin: kgraph.OriginFS, Location: "notes.txt"})
	require.NoError(t, err)
	defer fetched.Body.Close()

	assert.Equal(t, kgraph.FormatText, fetched.Document.Format)
	assert.Equal(t, "notes", fetched.Document.SourceID)
	assert.False(t, fetched.Document.FetchedAt.IsZero())

	data, err := io.ReadAll(fetched.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFSSourceUnknownExtension(t *testing.T) {
	ctx := context.Background()
	src := NewFSSource(t.TempDir())

	_, err := src.Fetch(ctx, Descriptor{SourceID: "x", Origin: kgraph.OriginFS, Location: "report.docx"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kgraph.ErrUnsupportedFormat))
}

func TestFSSourceExplicitFormatWins(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.export"), []byte(`{"a":1}`), 0o644))

	src := NewFSSource(dir)
	fetched, err := src.Fetch(ctx, Descriptor{
		SourceID: "data",
		Origin:   kgraph.OriginFS,
		Location: "data.export",
		Format:   kgraph.FormatJSON,
	})
	require.NoError(t, err)
	defer fetched.Body.Close()
	assert.Equal(t, kgraph.FormatJSON, fetched.Document.Format)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", *params.Key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3SourceFetch(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{"papers/a.csv": []byte("h\n1\n")}}

	src, err := NewS3Source(ctx, S3Options{Bucket: "corpus", Client: fake})
	require.NoError(t, err)

	fetched, err := src.Fetch(ctx, Descriptor{SourceID: "a", Origin: kgraph.OriginS3, Location: "papers/a.csv"})
	require.NoError(t, err)
	defer fetched.Body.Close()

	assert.Equal(t, kgraph.FormatCSV, fetched.Document.Format)
	assert.Equal(t, "s3://corpus/papers/a.csv", fetched.Document.RawRef)
}

func TestS3SourceMissingBucket(t *testing.T) {
	_, err := NewS3Source(context.Background(), S3Options{})
	assert.Error(t, err)
}

func TestArxivSourceFetch(t *testing.T) {
	ctx := context.Background()
	pdfBody := []byte("%PDF-1.4 fake")

	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("search_query"), "analytical engine")
		fmt.Fprintf(w, `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.01234v1</id>
    <title>Notes on the Analytical Engine</title>
    <link href="%s/pdf/2401.01234v1" title="pdf" type="application/pdf"/>
  </entry>
</feed>`, server.URL)
	})
	mux.HandleFunc("/pdf/2401.01234v1", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pdfBody)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	src := NewArxivSource(ArxivOptions{
		APIURL:      server.URL + "/api/query",
		DownloadDir: t.TempDir(),
		Client:      server.Client(),
	})

	fetched, err := src.Fetch(ctx, Descriptor{Origin: kgraph.OriginFeed, Location: "analytical engine"})
	require.NoError(t, err)
	defer fetched.Body.Close()

	assert.Equal(t, kgraph.FormatPDF, fetched.Document.Format)
	assert.Equal(t, "2401.01234v1", fetched.Document.SourceID)

	data, err := io.ReadAll(fetched.Body)
	require.NoError(t, err)
	assert.Equal(t, pdfBody, data)
}

func TestArxivSourceNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`)
	}))
	defer server.Close()

	src := NewArxivSource(ArxivOptions{APIURL: server.URL, DownloadDir: t.TempDir(), Client: server.Client()})
	_, err := src.Fetch(context.Background(), Descriptor{Origin: kgraph.OriginFeed, Location: "nothing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kgraph.ErrNotFound))
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	reg := NewRegistry()
	reg.Register(kgraph.OriginFS, NewFSSource(dir))

	fetched, err := reg.Fetch(ctx, Descriptor{SourceID: "a", Origin: kgraph.OriginFS, Location: "a.txt"})
	require.NoError(t, err)
	fetched.Body.Close()

	_, err = reg.Fetch(ctx, Descriptor{Origin: kgraph.OriginS3, Location: "x"})
	assert.Error(t, err)
}
