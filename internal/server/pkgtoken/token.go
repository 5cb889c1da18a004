// Package pkgtoken mints and verifies the upload credentials handed out to
// package consumers. A credential is "wh14-" followed by an HS256 JWT signed
// with the per-token secret; the jti claim carries the token id so the owning
// account can be looked up before the signature is checked.
package pkgtoken

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/eruvanos/warehouse14/internal/common"
	"github.com/eruvanos/warehouse14/internal/server/models"
)

const prefix = "wh14-"

// Claims carries the registered claims plus an optional project scope.
// An empty Projects list leaves the credential valid for every project.
type Claims struct {
	jwt.RegisteredClaims
	Projects []string `json:"projects,omitempty"`
}

// Mint signs a credential for the given token id with that token's secret.
func Mint(domain, tokenID, key string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   domain,
			ID:       tokenID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	})

	signed, err := token.SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return prefix + signed, nil
}

// Identifier extracts the token id without verifying the signature. The
// caller resolves the id to the owning account and only then verifies
// against that account's stored secret.
func Identifier(raw string) (string, error) {
	jwtPart, ok := strings.CutPrefix(raw, prefix)
	if !ok {
		return "", common.ErrInvalidToken
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(jwtPart, claims); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if claims.ID == "" {
		return "", common.ErrInvalidToken
	}
	return claims.ID, nil
}

// Verify checks the credential signature against the stored secret and, when
// the credential carries a project scope, that the given project is covered.
// An empty project skips the scope check.
func Verify(raw, key, project string) error {
	jwtPart, ok := strings.CutPrefix(raw, prefix)
	if !ok {
		return common.ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(jwtPart, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return common.ErrInvalidToken
	}

	if project == "" || len(claims.Projects) == 0 {
		return nil
	}

	normalized := models.NormalizeName(project)
	for _, scoped := range claims.Projects {
		if models.NormalizeName(scoped) == normalized {
			return nil
		}
	}
	return fmt.Errorf("%w: project %q not in token scope", common.ErrInvalidToken, project)
}

// Issue generates a fresh token record plus the dumped credential. The secret
// only leaves this function inside the credential and the record; it is never
// derivable again later.
func Issue(domain, name string) (models.Token, string, error) {
	key, err := common.MakeRandHexString(16)
	if err != nil {
		return models.Token{}, "", err
	}

	token := models.Token{
		ID:      uuid.New().String(),
		Name:    name,
		Key:     key,
		Created: time.Now(),
	}

	credential, err := Mint(domain, token.ID, token.Key)
	if err != nil {
		return models.Token{}, "", err
	}
	return token, credential, nil
}
