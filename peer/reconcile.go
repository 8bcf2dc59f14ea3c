package peer

import (
	"fmt"

	"github.com/google/uuid"

	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/keys"
)

// Policy lists what a local identity must satisfy before it is published.
type Policy struct {
	MinVersion       uint32
	RequireSerial    bool
	RequireDeviceID  bool
	DeviceID         string // used when a device ID is missing; empty means a random UUID
	RequireTransport bool
	Transport        Transport
	RequiredViews    []string
	ExcludedViews    []string
}

// Validate rejects unknown views, views that are both required and excluded,
// and versions newer than this package writes.
func (p Policy) Validate() error {
	if p.MinVersion > CurrentVersion {
		return kcerr.New(kcerr.KindSchema, "KC-POLICY-004",
			fmt.Sprintf("minimum version %d is newer than the supported version %d", p.MinVersion, CurrentVersion))
	}
	for _, v := range p.RequiredViews {
		if !IsKnownView(v) {
			return kcerr.New(kcerr.KindSchema, "KC-POLICY-001", fmt.Sprintf("unknown required view %q", v))
		}
		if contains(normalizeSet(p.ExcludedViews), v) {
			return kcerr.New(kcerr.KindSchema, "KC-POLICY-002", fmt.Sprintf("view %q is both required and excluded", v))
		}
	}
	for _, v := range p.ExcludedViews {
		if !IsKnownView(v) {
			return kcerr.New(kcerr.KindSchema, "KC-POLICY-001", fmt.Sprintf("unknown excluded view %q", v))
		}
	}
	if p.RequireTransport && p.Transport.Type == "" {
		return kcerr.New(kcerr.KindSchema, "KC-POLICY-003", "required transport needs a type")
	}
	return nil
}

type ReconcileResult int

const (
	NoUpdateNeeded ReconcileResult = iota + 1
	Updated
)

func (r ReconcileResult) String() string {
	switch r {
	case NoUpdateNeeded:
		return "no-update-needed"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("ReconcileResult(%d)", int(r))
	}
}

// Deficiencies lists the policy checks id fails, in a fixed order.
func (p Policy) Deficiencies(id *Identity) []string {
	var out []string
	if id.version < p.MinVersion {
		out = append(out, "version")
	}
	if p.RequireSerial && id.serial == 0 {
		out = append(out, "serial")
	}
	if p.RequireDeviceID && id.deviceID == "" {
		out = append(out, "device-id")
	}
	if p.RequireTransport && id.transport.Type == "" {
		out = append(out, "transport")
	}
	for _, v := range p.RequiredViews {
		if !id.HasView(v) {
			out = append(out, "view:+"+v)
		}
	}
	for _, v := range p.ExcludedViews {
		if id.HasView(v) {
			out = append(out, "view:-"+v)
		}
	}
	return out
}

// Reconcile brings the identity into line with p using at most one signed
// update. The private key is resolved even when nothing needs fixing, so a
// missing key is always reported.
func (h *Handle) Reconcile(p Policy) (ReconcileResult, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	before := h.id
	err := h.ApplySignedUpdate(TransformFunc(func(cur *Identity, key keys.Signer) (*Identity, error) {
		if len(p.Deficiencies(cur)) == 0 {
			return cur, nil
		}
		d := cur.Draft()
		if d.Version < p.MinVersion {
			d.Version = p.MinVersion
			if d.Version >= CurrentVersion {
				d.HashAlg = keys.HashSHA3256
			}
		}
		if p.RequireDeviceID && d.DeviceID == "" {
			d.DeviceID = p.DeviceID
			if d.DeviceID == "" {
				d.DeviceID = uuid.NewString()
			}
		}
		if p.RequireTransport && d.Transport.Type == "" {
			d.Transport = p.Transport
		}
		for _, v := range p.RequiredViews {
			d.Views, _ = toggle(d.Views, v, true)
		}
		for _, v := range p.ExcludedViews {
			d.Views, _ = toggle(d.Views, v, false)
		}
		// A missing serial is fixed by the bump every update makes.
		d.Serial++
		return d.Sign(key)
	}))
	if err != nil {
		return 0, err
	}
	if h.id == before {
		return NoUpdateNeeded, nil
	}
	return Updated, nil
}
