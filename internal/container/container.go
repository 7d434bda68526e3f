// Package container is the tar/MIME collaborator spec.md §1/§9 scopes
// out of the core: it parses a container blob (a tar archive) and
// resolves a sub-URI within it to a MIME type and byte payload. No repo
// in the retrieval pack vendors a third-party tar or MIME-sniffing
// library, so this uses stdlib archive/tar and mime directly.
package container

import (
	"archive/tar"
	"bytes"
	"io"
	"mime"
	"path/filepath"

	"github.com/indutny/naughtd/internal/naughterr"
)

// Container is a parsed, in-memory tar archive.
type Container struct {
	files map[string][]byte
}

// Parse unpacks blob as a tar archive. Parse failure is reported
// deterministically as a BadRequest error.
func Parse(blob []byte) (*Container, error) {
	tr := tar.NewReader(bytes.NewReader(blob))
	files := make(map[string][]byte)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, naughterr.BadRequest("malformed tar archive: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, naughterr.BadRequest("malformed tar archive: %v", err)
		}
		files[normalize(hdr.Name)] = data
	}

	return &Container{files: files}, nil
}

// normalize strips a leading "./" the way tar writers commonly emit it,
// so "./index.html" and "index.html" resolve identically.
func normalize(name string) string {
	for len(name) >= 2 && name[0] == '.' && name[1] == '/' {
		name = name[2:]
	}
	return name
}

// Resolve maps a request sub-URI to its file content and MIME type.
// An empty sub-URI, "index.htm", and "index.html" all resolve to the
// index entry, per spec.md §4.4/§9.
func (c *Container) Resolve(subURI string) (mimeType string, data []byte, err error) {
	name := normalize(subURI)
	if name == "" || name == "index.htm" || name == "index.html" {
		if data, ok := c.files["index.html"]; ok {
			return typeFor("index.html"), data, nil
		}
		if data, ok := c.files["index.htm"]; ok {
			return typeFor("index.htm"), data, nil
		}
		return "", nil, naughterr.NotFound("index not found in container")
	}

	data, ok := c.files[name]
	if !ok {
		return "", nil, naughterr.NotFound("file %q not found in container", subURI)
	}
	return typeFor(name), data, nil
}

func typeFor(name string) string {
	ext := filepath.Ext(name)
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
