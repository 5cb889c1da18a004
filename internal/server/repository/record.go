package repository

import (
	"fmt"
	"sort"
	"time"

	"github.com/eruvanos/warehouse14/internal/common"
	"github.com/eruvanos/warehouse14/internal/server/models"
)

const (
	roleAdmin  = "admin"
	roleMember = "member"

	timeLayout = time.RFC3339Nano
)

// record is the storage-level shape of one keyspace row. All four record
// kinds share it; unused fields stay empty. The dynamodbav tags drive the
// DynamoDB marshaling, the json tags the Postgres attrs column.
type record struct {
	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`

	Name     string                    `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Role     string                    `dynamodbav:"role,omitempty" json:"role,omitempty"`
	Key      string                    `dynamodbav:"key,omitempty" json:"key,omitempty"`
	Created  string                    `dynamodbav:"created,omitempty" json:"created,omitempty"`
	Updated  string                    `dynamodbav:"updated,omitempty" json:"updated,omitempty"`
	Versions map[string]models.Version `dynamodbav:"versions,omitempty" json:"versions,omitempty"`
}

func newRecord(key RecordKey) record {
	pk, sk := key.Encode()
	return record{PK: pk, SK: sk}
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", value, err)
	}
	return t, nil
}

func (r record) account(accountID string) (*models.Account, error) {
	created, err := parseTime(r.Created)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(r.Updated)
	if err != nil {
		return nil, err
	}
	return &models.Account{Name: accountID, Created: created, Updated: updated}, nil
}

func (r record) token() (models.Token, error) {
	key, err := ParseKey(r.PK, r.SK)
	if err != nil {
		return models.Token{}, err
	}
	tokenKey, ok := key.(TokenKey)
	if !ok {
		return models.Token{}, fmt.Errorf("%w: expected token row, got pk=%q sk=%q", common.ErrIntegrity, r.PK, r.SK)
	}

	created, err := parseTime(r.Created)
	if err != nil {
		return models.Token{}, err
	}
	return models.Token{ID: tokenKey.TokenID, Name: r.Name, Key: r.Key, Created: created}, nil
}

// buildProject reconstructs the aggregate from all rows of one project
// partition, classifying each row by its parsed key and role attribute.
// Returns nil when no header row is present.
func buildProject(rows []record) (*models.Project, error) {
	var header *record
	var admins, members []string
	public := false

	for i := range rows {
		key, err := ParseKey(rows[i].PK, rows[i].SK)
		if err != nil {
			return nil, err
		}

		switch k := key.(type) {
		case ProjectHeaderKey:
			header = &rows[i]
		case ProjectACLKey:
			if k.AccountID == publicAccountID {
				public = true
				continue
			}
			switch rows[i].Role {
			case roleAdmin:
				admins = append(admins, k.AccountID)
			case roleMember:
				members = append(members, k.AccountID)
			}
		default:
			return nil, fmt.Errorf("%w: foreign row in project partition pk=%q sk=%q", common.ErrIntegrity, rows[i].PK, rows[i].SK)
		}
	}

	if header == nil {
		return nil, nil
	}

	versions := header.Versions
	if versions == nil {
		versions = map[string]models.Version{}
	}

	return &models.Project{
		Name:     header.Name,
		Admins:   admins,
		Members:  members,
		Public:   public,
		Versions: versions,
	}, nil
}

// diffMembers computes the set difference between the persisted and the
// desired membership. Results are sorted so batches are deterministic.
func diffMembers(current, desired []string) (toAdd, toRemove []string) {
	currentSet := make(map[string]struct{}, len(current))
	for _, m := range current {
		currentSet[m] = struct{}{}
	}
	desiredSet := make(map[string]struct{}, len(desired))
	for _, m := range desired {
		desiredSet[m] = struct{}{}
	}

	for m := range desiredSet {
		if _, ok := currentSet[m]; !ok {
			toAdd = append(toAdd, m)
		}
	}
	for m := range currentSet {
		if _, ok := desiredSet[m]; !ok {
			toRemove = append(toRemove, m)
		}
	}

	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}

// projectWriteSet derives the batch that converges the persisted state onto
// the desired project: a full header overwrite, the public marker put or
// delete, and one put/delete per ACL membership change. current may be nil
// for a project saved the first time.
func projectWriteSet(desired, current *models.Project) (puts []record, deletes []RecordKey) {
	normalized := desired.NormalizedName()

	var currentAdmins, currentMembers []string
	if current != nil {
		currentAdmins = current.Admins
		currentMembers = current.Members
	}

	header := newRecord(ProjectHeaderKey{NormalizedName: normalized})
	header.Name = desired.Name
	header.Versions = desired.Versions
	if header.Versions == nil {
		header.Versions = map[string]models.Version{}
	}
	puts = append(puts, header)

	if desired.Public {
		marker := newRecord(publicMarkerKey(normalized))
		marker.Role = roleMember
		puts = append(puts, marker)
	} else {
		deletes = append(deletes, publicMarkerKey(normalized))
	}

	addAdmins, removeAdmins := diffMembers(currentAdmins, desired.Admins)
	for _, admin := range addAdmins {
		row := newRecord(ProjectACLKey{NormalizedName: normalized, AccountID: admin})
		row.Name = admin
		row.Role = roleAdmin
		puts = append(puts, row)
	}
	for _, admin := range removeAdmins {
		deletes = append(deletes, ProjectACLKey{NormalizedName: normalized, AccountID: admin})
	}

	addMembers, removeMembers := diffMembers(currentMembers, desired.Members)
	for _, member := range addMembers {
		row := newRecord(ProjectACLKey{NormalizedName: normalized, AccountID: member})
		row.Name = member
		row.Role = roleMember
		puts = append(puts, row)
	}
	for _, member := range removeMembers {
		deletes = append(deletes, ProjectACLKey{NormalizedName: normalized, AccountID: member})
	}

	// A role change (admin to member or back) produces both a put and a
	// delete of the same key; the put alone converges the row, and batch
	// writes reject duplicate keys.
	putKeys := make(map[string]struct{}, len(puts))
	for _, p := range puts {
		putKeys[p.PK+"\x00"+p.SK] = struct{}{}
	}
	kept := deletes[:0]
	for _, d := range deletes {
		pk, sk := d.Encode()
		if _, ok := putKeys[pk+"\x00"+sk]; !ok {
			kept = append(kept, d)
		}
	}

	return puts, kept
}
