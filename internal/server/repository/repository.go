// Package repository implements the registry's metadata backend: a single
// flat keyspace holding accounts, API tokens, projects and project ACLs,
// with a reverse index for token resolution. Three interchangeable
// implementations exist (DynamoDB, Postgres, in-memory).
package repository

import (
	"context"

	"github.com/eruvanos/warehouse14/internal/server/models"
)

// Backend is the durable store consumed by the protocol handler and the
// management layer.
//
// Absent records are reported as common.ErrNotFound. The only fatal
// condition is a token id resolving to more than one account, surfaced as
// common.ErrIntegrity by ResolveToken.
type Backend interface {
	// AccountSave upserts the account header. The original Created
	// timestamp is preserved across saves; Updated is always refreshed.
	// The persisted record is re-read and returned.
	AccountSave(ctx context.Context, accountID string) (*models.Account, error)

	// AccountGet loads the account header.
	AccountGet(ctx context.Context, accountID string) (*models.Account, error)

	// AccountTokenAdd inserts a token row. The token id is caller-supplied
	// and not checked for collisions; a colliding id silently overwrites
	// the earlier row.
	AccountTokenAdd(ctx context.Context, accountID, tokenID, name, key string) (*models.Token, error)

	// AccountTokenList returns all tokens of the account. Order is a
	// storage artifact, not a contract.
	AccountTokenList(ctx context.Context, accountID string) ([]models.Token, error)

	// AccountTokenDelete removes a token row. Deleting an absent token is
	// not an error.
	AccountTokenDelete(ctx context.Context, accountID, tokenID string) error

	// ResolveToken finds the account owning the given token id via the
	// reverse index. More than one owner means the stored data is corrupt
	// and yields common.ErrIntegrity.
	ResolveToken(ctx context.Context, tokenID string) (*models.Account, error)

	// ProjectSave persists the whole project aggregate: the header row is
	// overwritten with the full version map, and the ACL rows are
	// reconciled against the currently persisted membership by set diff,
	// all in one batch. The persisted project is re-read and returned;
	// callers rely on read-after-write visibility.
	ProjectSave(ctx context.Context, project *models.Project) (*models.Project, error)

	// ProjectGet loads a project by raw or normalized name.
	ProjectGet(ctx context.Context, name string) (*models.Project, error)

	// ProjectList returns every project. Implemented as a full scan plus
	// one ProjectGet per header; acceptable for small catalogs only.
	ProjectList(ctx context.Context) ([]*models.Project, error)
}
