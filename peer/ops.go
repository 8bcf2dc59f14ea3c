package peer

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/keys"
	"xdao.co/keycircle/plist"
)

// ViewResult reports a view's state after UpdateView.
type ViewResult int

const (
	ViewMember ViewResult = iota + 1
	ViewNotMember
	NoSuchView
)

func (r ViewResult) String() string {
	switch r {
	case ViewMember:
		return "member"
	case ViewNotMember:
		return "not-member"
	case NoSuchView:
		return "no-such-view"
	default:
		return fmt.Sprintf("ViewResult(%d)", int(r))
	}
}

// SecurityPropertyResult reports a property's state after UpdateSecurityProperty.
type SecurityPropertyResult int

const (
	SecurityPropertyValid SecurityPropertyResult = iota + 1
	SecurityPropertyNotValid
	NoSuchSecurityProperty
)

func (r SecurityPropertyResult) String() string {
	switch r {
	case SecurityPropertyValid:
		return "valid"
	case SecurityPropertyNotValid:
		return "not-valid"
	case NoSuchSecurityProperty:
		return "no-such-property"
	default:
		return fmt.Sprintf("SecurityPropertyResult(%d)", int(r))
	}
}

// edit returns a transform that applies fn to a draft of the current identity.
// When fn reports no change the current identity is returned as-is; otherwise
// the serial is bumped and the draft re-signed.
func edit(fn func(d *Draft) (changed bool, err error)) Transform {
	return TransformFunc(func(cur *Identity, key keys.Signer) (*Identity, error) {
		d := cur.Draft()
		changed, err := fn(d)
		if err != nil {
			return nil, err
		}
		if !changed {
			return cur, nil
		}
		d.Serial++
		return d.Sign(key)
	})
}

func (h *Handle) UpdateGestalt(g plist.Dict) error {
	if err := plist.GestaltSchema.Validate(g); err != nil {
		return err
	}
	g, err := g.Normalize()
	if err != nil {
		return err
	}
	return h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		if d.Gestalt.Equal(g) {
			return false, nil
		}
		d.Gestalt = g.Clone()
		return true, nil
	}))
}

func (h *Handle) SetDeviceID(id string) error {
	return h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		if d.DeviceID == norm.NFC.String(id) {
			return false, nil
		}
		d.DeviceID = id
		return true, nil
	}))
}

func (h *Handle) SetTransport(t Transport) error {
	return h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		if d.Transport == t {
			return false, nil
		}
		d.Transport = t
		return true, nil
	}))
}

// SetBackupKey records the device's backup public key. A nil key clears it.
func (h *Handle) SetBackupKey(pub []byte) error {
	return h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		if string(d.BackupKey) == string(pub) {
			return false, nil
		}
		d.BackupKey = append([]byte(nil), pub...)
		return true, nil
	}))
}

// AddEscrowRecord sets the escrow record for one data source, replacing any
// existing record for it.
func (h *Handle) AddEscrowRecord(source string, rec plist.Dict) error {
	if source == "" {
		return kcerr.New(kcerr.KindSchema, "KC-SCHEMA-003", "escrow data source id is required")
	}
	source = norm.NFC.String(source)
	rec, err := rec.Normalize()
	if err != nil {
		return err
	}
	return h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		if old, ok := d.Escrow[source]; ok && old.Equal(rec) {
			return false, nil
		}
		if d.Escrow == nil {
			d.Escrow = map[string]plist.Dict{}
		}
		d.Escrow[source] = rec.Clone()
		return true, nil
	}))
}

func (h *Handle) ReplaceEscrowRecords(recs map[string]plist.Dict) error {
	return h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		if escrowEqual(d.Escrow, recs) {
			return false, nil
		}
		d.Escrow = make(map[string]plist.Dict, len(recs))
		for k, v := range recs {
			d.Escrow[k] = v.Clone()
		}
		return true, nil
	}))
}

// UpdateView enables or disables view. Unknown views return NoSuchView
// without touching the identity or the key store.
func (h *Handle) UpdateView(view string, enable bool) (ViewResult, error) {
	if !IsKnownView(view) {
		return NoSuchView, nil
	}
	err := h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		var changed bool
		d.Views, changed = toggle(d.Views, view, enable)
		return changed, nil
	}))
	if err != nil {
		return 0, err
	}
	if h.id.HasView(view) {
		return ViewMember, nil
	}
	return ViewNotMember, nil
}

func (h *Handle) UpdateSecurityProperty(prop string, enable bool) (SecurityPropertyResult, error) {
	if !IsKnownSecurityProperty(prop) {
		return NoSuchSecurityProperty, nil
	}
	err := h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		var changed bool
		d.SecurityProperties, changed = toggle(d.SecurityProperties, prop, enable)
		return changed, nil
	}))
	if err != nil {
		return 0, err
	}
	if h.id.HasSecurityProperty(prop) {
		return SecurityPropertyValid, nil
	}
	return SecurityPropertyNotValid, nil
}

// RefreshPing stores a fresh random nonce so peers can tell the device is live.
func (h *Handle) RefreshPing() error {
	return h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		d.Ping = uuid.NewString()
		return true, nil
	}))
}

// Promote turns an application into a circle member endorsed by group.
// Promoting a member that group already endorses is a no-op.
func (h *Handle) Promote(group keys.Signer) error {
	return h.ApplySignedUpdate(TransformFunc(func(cur *Identity, key keys.Signer) (*Identity, error) {
		switch cur.Role() {
		case RoleApplication:
		case RoleMember:
			if cur.VerifyMember(group.Public()) == nil {
				return cur, nil
			}
		default:
			return nil, kcerr.New(kcerr.KindTransformRejected, "KC-PEER-006", fmt.Sprintf("cannot promote a %s identity", cur.Role()))
		}
		d := cur.Draft()
		d.Role = RoleMember
		if err := d.Endorse(group); err != nil {
			return nil, err
		}
		d.Serial++
		return d.Sign(key)
	}))
}

// UpgradeSignatures re-signs a legacy identity with the current body hash and
// raises its version.
func (h *Handle) UpgradeSignatures() error {
	return h.ApplySignedUpdate(edit(func(d *Draft) (bool, error) {
		if d.HashAlg == keys.HashSHA3256 && d.Version >= CurrentVersion {
			return false, nil
		}
		d.HashAlg = keys.HashSHA3256
		if d.Version < CurrentVersion {
			d.Version = CurrentVersion
		}
		return true, nil
	}))
}

// toggle adds or removes s from the sorted set and reports whether it changed.
func toggle(set []string, s string, on bool) ([]string, bool) {
	if contains(set, s) == on {
		return set, false
	}
	if on {
		return normalizeSet(append(set, s)), true
	}
	out := make([]string, 0, len(set))
	for _, v := range set {
		if v != s {
			out = append(out, v)
		}
	}
	return out, true
}

func escrowEqual(a, b map[string]plist.Dict) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}
