package models

import "time"

// Token is an API token owned by exactly one account. Key is the secret
// material; it is only ever handed out at creation time by the layer that
// mints the token.
type Token struct {
	ID      string
	Name    string
	Key     string
	Created time.Time
}
