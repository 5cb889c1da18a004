// Package models holds the registry's plain record types and the pure
// derivation rules on them. No I/O happens here.
package models

import "time"

// Account represents a registry user. The name is the stable opaque
// identifier supplied by the external identity provider.
type Account struct {
	Name    string
	Created time.Time
	Updated time.Time
}
