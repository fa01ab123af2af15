// Package source turns a document reference (URL or local path) into
// plain text ready for chunking.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxBytes caps how much of a document is read.
const MaxBytes = 32 << 20

var (
	// ErrEmptyDocument is returned when a source yields no text.
	ErrEmptyDocument = errors.New("document has no text")

	// ErrTooLarge is returned when a source exceeds MaxBytes.
	ErrTooLarge = errors.New("document exceeds size limit")

	// ErrInvalidSAS is returned by BlobURL for a URL without a query string.
	ErrInvalidSAS = errors.New("container URL has no SAS query")
)

// Text is an extracted document.
type Text struct {
	Title   string
	Source  string
	Content string
}

type format int

const (
	formatPlain format = iota
	formatMarkdown
	formatHTML
	formatPDF
)

// formatFor picks a format from a file extension, falling back to the
// media type when the extension says nothing.
func formatFor(name, mediaType string) format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return formatPDF
	case ".md", ".markdown":
		return formatMarkdown
	case ".html", ".htm":
		return formatHTML
	}
	switch mediaType {
	case "application/pdf":
		return formatPDF
	case "text/markdown":
		return formatMarkdown
	case "text/html", "application/xhtml+xml":
		return formatHTML
	}
	return formatPlain
}

// Load reads ref and extracts its text. http and https references are
// fetched with client (http.DefaultClient when nil); anything else is a
// local path.
func Load(ctx context.Context, ref string, client *http.Client) (Text, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Text{}, errors.New("empty document reference")
	}

	var (
		out Text
		err error
	)
	if u, perr := url.Parse(ref); perr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		out, err = fetch(ctx, u, client)
	} else {
		out, err = readFile(ref)
	}
	if err != nil {
		return Text{}, err
	}

	out.Content = strings.TrimSpace(out.Content)
	if out.Content == "" {
		return Text{}, fmt.Errorf("%s: %w", ref, ErrEmptyDocument)
	}
	return out, nil
}

func readFile(name string) (Text, error) {
	f, err := os.Open(name)
	if err != nil {
		return Text{}, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	data, err := readLimited(f)
	if err != nil {
		return Text{}, fmt.Errorf("reading %s: %w", name, err)
	}

	content, title, err := extract(data, formatFor(name, ""))
	if err != nil {
		return Text{}, fmt.Errorf("extracting %s: %w", name, err)
	}
	if title == "" {
		title = filepath.Base(name)
	}
	return Text{Title: title, Source: name, Content: content}, nil
}

func fetch(ctx context.Context, u *url.URL, client *http.Client) (Text, error) {
	if client == nil {
		client = http.DefaultClient
	}
	// The query of a SAS URL is a credential; keep it out of errors.
	display := redact(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Text{}, fmt.Errorf("creating request for %s: %w", display, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return Text{}, fmt.Errorf("fetching %s: %w", display, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Text{}, fmt.Errorf("fetching %s: unexpected status %d", display, resp.StatusCode)
	}

	data, err := readLimited(resp.Body)
	if err != nil {
		return Text{}, fmt.Errorf("reading %s: %w", display, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	content, title, err := extract(data, formatFor(u.Path, mediaType))
	if err != nil {
		return Text{}, fmt.Errorf("extracting %s: %w", display, err)
	}
	if title == "" {
		title = path.Base(u.Path)
		if title == "/" || title == "." {
			title = u.Host
		}
	}
	return Text{Title: title, Source: display, Content: content}, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// extract returns the text of data and, when the format carries one, its title.
func extract(data []byte, f format) (content, title string, err error) {
	switch f {
	case formatPDF:
		content, err = pdfText(bytes.NewReader(data), int64(len(data)))
		return content, "", err
	case formatMarkdown:
		return markdownText(data), "", nil
	case formatHTML:
		content, title = htmlText(bytes.NewReader(data))
		return content, title, nil
	}
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), "�"), "", nil
	}
	return string(data), "", nil
}

func redact(u *url.URL) string {
	c := *u
	if c.RawQuery != "" {
		c.RawQuery = "REDACTED"
	}
	c.User = nil
	return c.String()
}

// BlobURL builds the URL of blobName inside the container addressed by
// containerSAS, keeping the SAS query string.
func BlobURL(containerSAS, blobName string) (string, error) {
	base, qs, ok := strings.Cut(containerSAS, "?")
	if !ok {
		return "", ErrInvalidSAS
	}
	blobName = strings.TrimLeft(strings.TrimSpace(blobName), "/")
	if blobName == "" {
		return "", errors.New("empty blob name")
	}
	escaped := strings.Split(blobName, "/")
	for i, seg := range escaped {
		escaped[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(escaped, "/") + "?" + qs, nil
}
