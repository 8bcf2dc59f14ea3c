package model

import (
	"sort"
	"time"

	"xdao.co/keycircle/datastore"
	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/manifest"
	"xdao.co/keycircle/peer"
)

// FromIdentity projects a peer identity. Gestalt values that are not strings
// are omitted.
func FromIdentity(id *peer.Identity) PeerInfo {
	g := map[string]string{}
	for k, v := range id.Gestalt() {
		if s, ok := v.AsString(); ok {
			g[k] = s
		}
	}
	escrow := make([]string, 0)
	for k := range id.EscrowRecords() {
		escrow = append(escrow, k)
	}
	sort.Strings(escrow)
	t := id.Transport()
	return PeerInfo{
		Fingerprint:        id.SigningKey().Fingerprint(),
		SigningKey:         id.SigningKey().String(),
		Role:               id.Role().String(),
		Serial:             id.Serial(),
		Version:            id.Version(),
		HashAlg:            id.HashAlg(),
		DeviceID:           id.DeviceID(),
		Gestalt:            g,
		Transport:          Transport{Type: t.Type, IDS: t.IDS, Fragmentation: t.Fragmentation, ACKModel: t.ACKModel},
		Views:              nonNil(id.Views()),
		SecurityProperties: nonNil(id.SecurityProperties()),
		EscrowSources:      escrow,
		Endorsed:           len(id.GroupSignature()) > 0,
		Digest:             digest.Sum(id.Encode()).CID().String(),
	}
}

func FromManifest(view string, m manifest.Manifest) ManifestView {
	out := ManifestView{
		View:    view,
		Digest:  m.Digest().Hex(),
		Count:   m.Len(),
		Entries: make([]ManifestEntry, 0, m.Len()),
	}
	for i := 0; i < m.Len(); i++ {
		d := m.At(i)
		out.Entries = append(out.Entries, ManifestEntry{Digest: d.Hex(), CID: d.CID().String()})
	}
	return out
}

func FromObject(o item.Object) ItemInfo {
	info := ItemInfo{Digest: o.Digest().Hex(), Class: o.Class()}
	if pk, err := item.PrimaryKeyDigest(o); err == nil {
		info.PrimaryKey = pk.Hex()
	}
	attrs := o.Attrs()
	info.Account, _ = attrs.GetString(item.AttrAccount)
	info.Service, _ = attrs.GetString(item.AttrService)
	info.Server, _ = attrs.GetString(item.AttrServer)
	info.Label, _ = attrs.GetString(item.AttrLabel)
	if t := o.ModTime(); !t.IsZero() {
		info.Modified = t.UTC().Format(time.RFC3339)
	}
	return info
}

func FromHydrateReport(r datastore.HydrateReport, m manifest.Manifest) MergeReport {
	out := MergeReport{
		Outcomes: make(map[string]int, len(r.Outcomes)),
		Missing:  hexes(r.Missing),
		Rejected: hexes(r.Rejected),
		Manifest: m.Digest().Hex(),
	}
	for o, n := range r.Outcomes {
		out.Outcomes[o.String()] = n
	}
	return out
}

func hexes(ds []digest.Digest) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Hex())
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
