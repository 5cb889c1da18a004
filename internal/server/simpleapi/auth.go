package simpleapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eruvanos/warehouse14/internal/common"
	"github.com/eruvanos/warehouse14/internal/server/pkgtoken"
)

// tokenUsername is the fixed basic-auth username installers send alongside a
// capability token.
const tokenUsername = "__token__"

const userContextKey = "authenticated-user"

// authenticate resolves the basic-auth credential to an account. Any failure,
// whatever the cause, collapses into one 401 so the response leaks nothing
// about which step rejected the request.
func (a *API) authenticate(c *gin.Context) {
	user, err := a.resolveCredential(c.Request.Context(), c.Request)
	if err != nil {
		if errors.Is(err, common.ErrIntegrity) {
			a.log.Error(c.Request.Context(), "token resolution hit inconsistent data", "error", err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		a.log.Info(c.Request.Context(), "authentication rejected", "error", err)
		c.Header("WWW-Authenticate", `Basic realm="warehouse14"`)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	c.Set(userContextKey, user)
	c.Next()
}

func (a *API) resolveCredential(ctx context.Context, r *http.Request) (string, error) {
	username, credential, ok := r.BasicAuth()
	if !ok {
		return "", fmt.Errorf("missing basic auth: %w", common.ErrUnauthorized)
	}
	if username != tokenUsername {
		return "", fmt.Errorf("unexpected username %q: %w", username, common.ErrUnauthorized)
	}

	tokenID, err := pkgtoken.Identifier(credential)
	if err != nil {
		return "", err
	}

	account, err := a.db.ResolveToken(ctx, tokenID)
	if err != nil {
		return "", err
	}

	tokens, err := a.db.AccountTokenList(ctx, account.Name)
	if err != nil {
		return "", err
	}

	for _, token := range tokens {
		if token.ID != tokenID {
			continue
		}
		if err := pkgtoken.Verify(credential, token.Key, ""); err != nil {
			return "", err
		}
		return account.Name, nil
	}
	return "", fmt.Errorf("token %s not present on account: %w", tokenID, common.ErrUnauthorized)
}

func currentUser(c *gin.Context) string {
	return c.GetString(userContextKey)
}
