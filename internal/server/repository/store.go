package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/eruvanos/warehouse14/internal/common"
	"github.com/eruvanos/warehouse14/internal/server/models"
)

// keyspace is the driver-level contract each storage engine provides: point
// and range access to the flat (partition, sort) keyspace, a reverse lookup
// by sort key, and an atomic write batch. All semantic rules live above it
// in store, so the engines stay pure plumbing.
type keyspace interface {
	// Get returns the record at key, or nil when absent.
	Get(ctx context.Context, key RecordKey) (*record, error)

	// Put upserts a single record.
	Put(ctx context.Context, rec record) error

	// Delete removes the record at key. Absent keys are not an error.
	Delete(ctx context.Context, key RecordKey) error

	// QueryPartition returns all records of one partition whose sort key
	// starts with skPrefix (empty prefix matches the whole partition).
	QueryPartition(ctx context.Context, pk, skPrefix string) ([]record, error)

	// QueryBySort returns all records with exactly the given sort key,
	// across partitions. This is the reverse index.
	QueryBySort(ctx context.Context, sk string) ([]record, error)

	// ScanProjectHeaders returns every project header row in the keyspace.
	ScanProjectHeaders(ctx context.Context) ([]record, error)

	// WriteBatch applies all puts and deletes as one atomic batch.
	WriteBatch(ctx context.Context, puts []record, deletes []RecordKey) error
}

// store implements Backend on top of a keyspace driver.
type store struct {
	ks  keyspace
	now func() time.Time
}

func newStore(ks keyspace) *store {
	return &store{ks: ks, now: time.Now}
}

func (s *store) AccountSave(ctx context.Context, accountID string) (*models.Account, error) {
	key := AccountKey{AccountID: accountID}

	// Keep the original creation date when the account already exists.
	created := s.now()
	existing, err := s.ks.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load account %q: %w", accountID, err)
	}
	if existing != nil {
		parsed, err := parseTime(existing.Created)
		if err != nil {
			return nil, err
		}
		created = parsed
	}

	rec := newRecord(key)
	rec.Created = created.Format(timeLayout)
	rec.Updated = s.now().Format(timeLayout)
	if err := s.ks.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("save account %q: %w", accountID, err)
	}

	return s.AccountGet(ctx, accountID)
}

func (s *store) AccountGet(ctx context.Context, accountID string) (*models.Account, error) {
	rec, err := s.ks.Get(ctx, AccountKey{AccountID: accountID})
	if err != nil {
		return nil, fmt.Errorf("load account %q: %w", accountID, err)
	}
	if rec == nil {
		return nil, common.ErrNotFound
	}
	return rec.account(accountID)
}

func (s *store) AccountTokenAdd(ctx context.Context, accountID, tokenID, name, key string) (*models.Token, error) {
	now := s.now()

	rec := newRecord(TokenKey{AccountID: accountID, TokenID: tokenID})
	rec.Name = name
	rec.Key = key
	rec.Created = now.Format(timeLayout)
	if err := s.ks.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("add token to account %q: %w", accountID, err)
	}

	return &models.Token{ID: tokenID, Name: name, Key: key, Created: now}, nil
}

func (s *store) AccountTokenList(ctx context.Context, accountID string) ([]models.Token, error) {
	rows, err := s.ks.QueryPartition(ctx, accountPrefix+accountID, tokenPrefix)
	if err != nil {
		return nil, fmt.Errorf("list tokens of account %q: %w", accountID, err)
	}

	tokens := make([]models.Token, 0, len(rows))
	for _, row := range rows {
		token, err := row.token()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (s *store) AccountTokenDelete(ctx context.Context, accountID, tokenID string) error {
	if err := s.ks.Delete(ctx, TokenKey{AccountID: accountID, TokenID: tokenID}); err != nil {
		return fmt.Errorf("delete token of account %q: %w", accountID, err)
	}
	return nil
}

func (s *store) ResolveToken(ctx context.Context, tokenID string) (*models.Account, error) {
	rows, err := s.ks.QueryBySort(ctx, tokenPrefix+tokenID)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	switch len(rows) {
	case 0:
		return nil, common.ErrNotFound
	case 1:
	default:
		// Never guess between owners; the stored data is corrupt.
		return nil, fmt.Errorf("%w: token id owned by %d accounts", common.ErrIntegrity, len(rows))
	}

	key, err := ParseKey(rows[0].PK, rows[0].SK)
	if err != nil {
		return nil, err
	}
	tokenKey, ok := key.(TokenKey)
	if !ok {
		return nil, fmt.Errorf("%w: reverse index returned non-token row pk=%q sk=%q", common.ErrIntegrity, rows[0].PK, rows[0].SK)
	}

	return s.AccountGet(ctx, tokenKey.AccountID)
}

func (s *store) ProjectSave(ctx context.Context, project *models.Project) (*models.Project, error) {
	normalized := project.NormalizedName()

	current, err := s.ProjectGet(ctx, normalized)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	puts, deletes := projectWriteSet(project, current)
	if err := s.ks.WriteBatch(ctx, puts, deletes); err != nil {
		return nil, fmt.Errorf("save project %q: %w", normalized, err)
	}

	return s.ProjectGet(ctx, normalized)
}

func (s *store) ProjectGet(ctx context.Context, name string) (*models.Project, error) {
	normalized := models.NormalizeName(name)

	rows, err := s.ks.QueryPartition(ctx, projectPrefix+normalized, "")
	if err != nil {
		return nil, fmt.Errorf("load project %q: %w", normalized, err)
	}

	project, err := buildProject(rows)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, common.ErrNotFound
	}
	return project, nil
}

func (s *store) ProjectList(ctx context.Context) ([]*models.Project, error) {
	headers, err := s.ks.ScanProjectHeaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan projects: %w", err)
	}

	projects := make([]*models.Project, 0, len(headers))
	for _, h := range headers {
		project, err := s.ProjectGet(ctx, h.Name)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}
