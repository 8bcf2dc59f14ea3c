package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xdao.co/keycircle/datastore"
	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/model"
	"xdao.co/keycircle/storage"
)

// mergingStore persists objects received over gRPC and merges them into the
// daemon's content store. Objects without a derivable primary key are refused
// before they reach the backend.
type mergingStore struct {
	storage.ObjectStore

	mu    sync.Mutex
	store *datastore.Store
}

func (m *mergingStore) Put(obj item.Object) (digest.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := item.PrimaryKeyDigest(obj); err != nil {
		return digest.Digest{}, err
	}
	d, err := m.ObjectStore.Put(obj)
	if err != nil {
		return d, err
	}
	if _, err := m.store.InsertOrMerge(obj); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}

func (m *mergingStore) manifest(view string) model.ManifestView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.FromManifest(view, m.store.BuildManifest(view))
}

func newRouter(reg *prometheus.Registry, objs *mergingStore) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/manifest/{view}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, objs.manifest(chi.URLParam(req, "view")))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
