package bundle_test

import (
	"archive/tar"
	"bytes"
	"errors"
	"testing"
	"time"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/manifest"
	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/bundle"
	"xdao.co/keycircle/storage/localfs"
	"xdao.co/keycircle/storage/testkit"
)

func newStore(t *testing.T) *localfs.Store {
	t.Helper()
	s, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func putAll(t *testing.T, s storage.ObjectStore, accts ...string) []digest.Digest {
	t.Helper()
	var out []digest.Digest
	for i, a := range accts {
		d, err := s.Put(testkit.Object(a, int64(i+1)))
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, d)
	}
	return out
}

func TestBundle_ExportIsDeterministic(t *testing.T) {
	s := newStore(t)
	ds := putAll(t, s, "hello", "world")

	var outA bytes.Buffer
	if err := bundle.Export(&outA, s, manifest.New([]digest.Digest{ds[1], ds[0]}), bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}
	var outB bytes.Buffer
	if err := bundle.Export(&outB, s, manifest.New(ds), bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(outA.Bytes(), outB.Bytes()) {
		t.Fatalf("expected deterministic bundle bytes")
	}
}

func TestBundle_ImportRoundTrip(t *testing.T) {
	src := newStore(t)
	m := manifest.New(putAll(t, src, "alice", "bob", "carol"))

	var buf bytes.Buffer
	if err := bundle.Export(&buf, src, m, bundle.ExportOptions{IncludeIndex: true, View: "KeychainV0"}); err != nil {
		t.Fatal(err)
	}

	dst := newStore(t)
	got, err := bundle.Import(bytes.NewReader(buf.Bytes()), dst)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(m) {
		t.Fatalf("imported manifest differs")
	}
	for _, d := range m.Digests() {
		obj, err := dst.Get(d)
		if err != nil {
			t.Fatalf("Get(%s): %v", d, err)
		}
		if obj.Digest() != d {
			t.Fatalf("digest mismatch after import")
		}
	}
}

func TestBundle_ExportMissingObject(t *testing.T) {
	s := newStore(t)
	missing := testkit.Object("ghost", 1).Digest()
	var buf bytes.Buffer
	err := bundle.Export(&buf, s, manifest.New([]digest.Digest{missing}), bundle.ExportOptions{})
	if !storage.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBundle_ImportRejectsDigestMismatch(t *testing.T) {
	good, err := testkit.Object("good", 1).Encode()
	if err != nil {
		t.Fatal(err)
	}
	other := testkit.Object("other", 1).Digest()

	// Name says "other" but bytes are "good".
	bundleBytes := makeDeterministicTar(t, "blocks/"+other.Hex()+".der", good)

	_, err = bundle.Import(bytes.NewReader(bundleBytes), newStore(t))
	if !errors.Is(err, storage.ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
}

func TestBundle_ImportRejectsUnknownEntry(t *testing.T) {
	bundleBytes := makeDeterministicTar(t, "notes.txt", []byte("hi"))

	if _, err := bundle.Import(bytes.NewReader(bundleBytes), newStore(t)); err == nil {
		t.Fatalf("expected unknown entry to fail")
	}
	m, err := bundle.ImportWithOptions(bytes.NewReader(bundleBytes), newStore(t), bundle.ImportOptions{IgnoreUnknown: true})
	if err != nil {
		t.Fatalf("IgnoreUnknown: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty manifest, got %d", m.Len())
	}
}

func TestBundle_ImportRejectsTraversal(t *testing.T) {
	bundleBytes := makeDeterministicTar(t, "blocks/../evil.der", []byte("x"))
	if _, err := bundle.Import(bytes.NewReader(bundleBytes), newStore(t)); err == nil {
		t.Fatalf("expected traversal path to fail")
	}
}

func makeDeterministicTar(t *testing.T, name string, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	h := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
