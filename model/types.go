package model

// Transport mirrors peer.Transport.
type Transport struct {
	Type          string `json:"type"`
	IDS           bool   `json:"ids"`
	Fragmentation bool   `json:"fragmentation"`
	ACKModel      bool   `json:"ackModel"`
}

type PeerInfo struct {
	Fingerprint        string            `json:"fingerprint"`
	SigningKey         string            `json:"signingKey"`
	Role               string            `json:"role"`
	Serial             uint64            `json:"serial"`
	Version            uint32            `json:"version"`
	HashAlg            string            `json:"hashAlg"`
	DeviceID           string            `json:"deviceID"`
	Gestalt            map[string]string `json:"gestalt"`
	Transport          Transport         `json:"transport"`
	Views              []string          `json:"views"`
	SecurityProperties []string          `json:"securityProperties"`
	EscrowSources      []string          `json:"escrowSources"`
	Endorsed           bool              `json:"endorsed"`
	// Digest is the SHA-1 of the identity encoding, as a CIDv1.
	Digest string `json:"digest"`
}

type ManifestEntry struct {
	Digest string `json:"digest"`
	CID    string `json:"cid"`
}

type ManifestView struct {
	View    string          `json:"view"`
	Digest  string          `json:"digest"`
	Count   int             `json:"count"`
	Entries []ManifestEntry `json:"entries"`
}

type ItemInfo struct {
	Digest     string `json:"digest"`
	PrimaryKey string `json:"primaryKey,omitempty"`
	Class      string `json:"class"`
	Account    string `json:"account,omitempty"`
	Service    string `json:"service,omitempty"`
	Server     string `json:"server,omitempty"`
	Label      string `json:"label,omitempty"`
	Modified   string `json:"modified,omitempty"`
}

// MergeReport summarises a hydrate or import. Outcome keys are the merge
// outcome names (Created, KeptLocal, AcceptedRemote, AcceptedMerged).
type MergeReport struct {
	Outcomes map[string]int `json:"outcomes"`
	Missing  []string       `json:"missing"`
	Rejected []string       `json:"rejected"`
	Manifest string         `json:"manifest"`
}
