package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	kgraph "github.com/kgraph-ai/kgraph"
)

const defaultArxivAPI = "https://export.arxiv.org/api/query"

// ArxivSource fetches papers from the arXiv Atom feed. The descriptor
// location is a search query; the most recently submitted match is
// downloaded as a PDF into DownloadDir before being streamed back.
type ArxivSource struct {
	apiURL      string
	downloadDir string
	client      *http.Client
}

// ArxivOptions configuration for the arXiv source.
type ArxivOptions struct {
	// APIURL overrides the arXiv API endpoint, used in tests.
	APIURL      string
	DownloadDir string
	Client      *http.Client
}

// NewArxivSource creates an arXiv feed source.
func NewArxivSource(opts ArxivOptions) *ArxivSource {
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = defaultArxivAPI
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	dir := opts.DownloadDir
	if dir == "" {
		dir = "downloads"
	}
	return &ArxivSource{apiURL: apiURL, downloadDir: dir, client: client}
}

// atomFeed is the subset of the arXiv Atom response the source reads.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID    string     `xml:"id"`
	Title string     `xml:"title"`
	Links []atomLink `xml:"link"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

// Fetch searches arXiv and downloads the newest matching paper.
func (s *ArxivSource) Fetch(ctx context.Context, desc Descriptor) (*kgraph.FetchedDocument, error) {
	entry, err := s.search(ctx, desc.Location)
	if err != nil {
		return nil, err
	}

	pdfURL := entry.pdfLink()
	if pdfURL == "" {
		return nil, fmt.Errorf("arxiv entry %s has no pdf link", entry.ID)
	}

	path, err := s.download(ctx, entry, pdfURL)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open downloaded paper: %w", err)
	}

	doc := newDocument(desc, kgraph.FormatPDF, path)
	if doc.SourceID == "" {
		doc.SourceID = entry.paperID()
	}

	return &kgraph.FetchedDocument{Document: doc, Body: f}, nil
}

// search queries the Atom feed for the newest submission matching query.
func (s *ArxivSource) search(ctx context.Context, query string) (*atomEntry, error) {
	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("max_results", "1")
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build arxiv request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv query returned status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode arxiv feed: %w", err)
	}

	if len(feed.Entries) == 0 {
		return nil, fmt.Errorf("%w: no arxiv results for %q", kgraph.ErrNotFound, query)
	}

	return &feed.Entries[0], nil
}

// download saves the paper PDF under the download directory.
func (s *ArxivSource) download(ctx context.Context, entry *atomEntry, pdfURL string) (string, error) {
	if err := os.MkdirAll(s.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paper download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paper download returned status %d", resp.StatusCode)
	}

	path := filepath.Join(s.downloadDir, entry.paperID()+".pdf")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	return path, nil
}

// pdfLink returns the entry's PDF url, or empty when absent.
func (e *atomEntry) pdfLink() string {
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			return l.Href
		}
	}
	return ""
}

// paperID returns the trailing id segment of the entry url, e.g. 2401.01234v1.
func (e *atomEntry) paperID() string {
	parts := strings.Split(strings.TrimSuffix(e.ID, "/"), "/")
	return parts[len(parts)-1]
}
