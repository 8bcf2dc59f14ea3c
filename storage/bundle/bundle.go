// Package bundle moves the objects named by a manifest between stores as a
// deterministic TAR archive.
//
// Layout:
//
//	blocks/<hex digest>.der   one entry per object, full DER encoding
//	index.json                optional, non-authoritative summary
package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/manifest"
	"xdao.co/keycircle/storage"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 1

const blockExt = ".der"

var epoch0 = time.Unix(0, 0).UTC()

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// View is recorded in index.json when set.
	View string
	// IncludeIndex controls whether index.json is included.
	IncludeIndex bool
}

// Export writes a deterministic TAR bundle containing every object in m.
//
// Entries follow the manifest's ascending digest order and TAR headers are
// normalized, so equal manifests over equal stores produce equal bytes.
// Each object read from store is re-checked against its digest.
func Export(w io.Writer, store storage.ObjectStore, m manifest.Manifest, opts ExportOptions) error {
	if store == nil {
		return fmt.Errorf("bundle: nil object store")
	}

	tw := tar.NewWriter(w)

	blocks := make([]indexBlock, 0, m.Len())
	for _, d := range m.Digests() {
		obj, err := store.Get(d)
		if err != nil {
			_ = tw.Close()
			return fmt.Errorf("bundle: %s: %w", d, err)
		}
		if obj.Digest() != d {
			_ = tw.Close()
			return storage.ErrDigestMismatch
		}
		der, err := obj.Encode()
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "blocks/"+d.Hex()+blockExt, der); err != nil {
			_ = tw.Close()
			return err
		}
		blocks = append(blocks, indexBlock{Digest: d.Hex(), CID: d.CID().String(), Size: len(der)})
	}

	if opts.IncludeIndex {
		idx := indexJSON{
			Version:  FormatVersion,
			Hash:     "sha1",
			View:     opts.View,
			Manifest: m.Digest().Hex(),
			Blocks:   blocks,
		}
		b, err := marshalCanonicalIndexJSON(idx)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "index.json", b); err != nil {
			_ = tw.Close()
			return err
		}
	}

	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown controls whether unknown TAR entries are ignored.
	//
	// Default (false) is fail-closed: unknown entries cause Import to return an error.
	IgnoreUnknown bool
}

// Import reads a bundle from r, stores every object in store and returns the
// manifest of the imported digests.
func Import(r io.Reader, store storage.ObjectStore) (manifest.Manifest, error) {
	return ImportWithOptions(r, store, ImportOptions{})
}

// ImportWithOptions is Import with explicit options.
//
// Each entry must decode to an object whose digest matches its file name.
func ImportWithOptions(r io.Reader, store storage.ObjectStore, opts ImportOptions) (manifest.Manifest, error) {
	if store == nil {
		return manifest.Manifest{}, fmt.Errorf("bundle: nil object store")
	}

	tr := tar.NewReader(r)
	seen := map[digest.Digest]struct{}{}
	var imported []digest.Digest

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return manifest.New(imported), nil
		}
		if err != nil {
			return manifest.Manifest{}, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return manifest.Manifest{}, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}

		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return manifest.Manifest{}, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if name == "index.json" {
			_, _ = io.Copy(io.Discard, tr)
			continue
		}

		if !strings.HasPrefix(name, "blocks/") || !strings.HasSuffix(name, blockExt) {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return manifest.Manifest{}, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		want, perr := digest.Parse(strings.TrimSuffix(strings.TrimPrefix(name, "blocks/"), blockExt))
		if perr != nil || !want.Defined() {
			return manifest.Manifest{}, storage.ErrInvalidDigest
		}

		payload, rerr := io.ReadAll(tr)
		if rerr != nil {
			return manifest.Manifest{}, rerr
		}
		obj, derr := item.Decode(payload)
		if derr != nil || obj.Digest() != want {
			return manifest.Manifest{}, storage.ErrDigestMismatch
		}

		if _, ok := seen[want]; ok {
			return manifest.Manifest{}, fmt.Errorf("bundle: duplicate block entry: %s", want)
		}
		seen[want] = struct{}{}

		got, serr := store.Put(obj)
		if serr != nil {
			return manifest.Manifest{}, serr
		}
		if got != want {
			return manifest.Manifest{}, storage.ErrDigestMismatch
		}
		imported = append(imported, want)
	}
}

type indexJSON struct {
	Version  int          `json:"version"`
	Hash     string       `json:"hash"`
	View     string       `json:"view,omitempty"`
	Manifest string       `json:"manifest"`
	Blocks   []indexBlock `json:"blocks"`
}

type indexBlock struct {
	Digest string `json:"digest"`
	CID    string `json:"cid"`
	Size   int    `json:"size"`
}

func marshalCanonicalIndexJSON(idx indexJSON) ([]byte, error) {
	// Structs and slices only, so encoding/json output is deterministic.
	b, err := json.Marshal(idx)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}

	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
