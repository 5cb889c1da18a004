package repository

import (
	"fmt"
	"strings"

	"github.com/eruvanos/warehouse14/internal/common"
)

// Key prefixes of the flat keyspace. Every record is addressed by a
// (partition, sort) pair; four record shapes share the space and are told
// apart only by these prefixes, so all key construction and parsing is
// funneled through the typed keys below.
const (
	accountPrefix = "account#"
	tokenPrefix   = "token#"
	projectPrefix = "project#"

	// publicAccountID is the reserved ACL account id marking a project as
	// public. It can never collide with a real account because identity
	// providers hand out opaque ids, not the bare word "public".
	publicAccountID = "public"
)

// RecordKey is the tagged sum of all key shapes stored in the keyspace.
type RecordKey interface {
	// Encode returns the (partition, sort) pair of the record.
	Encode() (pk string, sk string)
}

// AccountKey addresses an account header row.
type AccountKey struct {
	AccountID string
}

func (k AccountKey) Encode() (string, string) {
	pk := accountPrefix + k.AccountID
	return pk, pk
}

// TokenKey addresses an API token row within an account partition.
type TokenKey struct {
	AccountID string
	TokenID   string
}

func (k TokenKey) Encode() (string, string) {
	return accountPrefix + k.AccountID, tokenPrefix + k.TokenID
}

// ProjectHeaderKey addresses the project header row, which embeds the full
// version map.
type ProjectHeaderKey struct {
	// NormalizedName must already be in canonical form.
	NormalizedName string
}

func (k ProjectHeaderKey) Encode() (string, string) {
	pk := projectPrefix + k.NormalizedName
	return pk, pk
}

// ProjectACLKey addresses one membership fact: (project, account, role).
// AccountID == publicAccountID marks the project public.
type ProjectACLKey struct {
	NormalizedName string
	AccountID      string
}

func (k ProjectACLKey) Encode() (string, string) {
	return projectPrefix + k.NormalizedName, accountPrefix + k.AccountID
}

func publicMarkerKey(normalized string) ProjectACLKey {
	return ProjectACLKey{NormalizedName: normalized, AccountID: publicAccountID}
}

// ParseKey reconstructs the typed key from a stored (partition, sort) pair.
// Unknown prefix combinations are reported as integrity errors, since they
// can only appear when the keyspace is corrupt.
func ParseKey(pk, sk string) (RecordKey, error) {
	switch {
	case strings.HasPrefix(pk, accountPrefix):
		accountID := strings.TrimPrefix(pk, accountPrefix)
		switch {
		case sk == pk:
			return AccountKey{AccountID: accountID}, nil
		case strings.HasPrefix(sk, tokenPrefix):
			return TokenKey{AccountID: accountID, TokenID: strings.TrimPrefix(sk, tokenPrefix)}, nil
		}

	case strings.HasPrefix(pk, projectPrefix):
		normalized := strings.TrimPrefix(pk, projectPrefix)
		switch {
		case sk == pk:
			return ProjectHeaderKey{NormalizedName: normalized}, nil
		case strings.HasPrefix(sk, accountPrefix):
			return ProjectACLKey{NormalizedName: normalized, AccountID: strings.TrimPrefix(sk, accountPrefix)}, nil
		}
	}

	return nil, fmt.Errorf("%w: unparsable record key pk=%q sk=%q", common.ErrIntegrity, pk, sk)
}
