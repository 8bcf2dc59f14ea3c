// Package model defines stable boundary types for the CLI and daemon.
//
// Canonical identity (DER encodings and content digests) is unaffected by any
// projection. These structs are the only types intended for direct JSON
// serialization by consumers.
package model
