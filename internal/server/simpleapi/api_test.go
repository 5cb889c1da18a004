package simpleapi

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eruvanos/warehouse14/internal/logging"
	"github.com/eruvanos/warehouse14/internal/server/models"
	"github.com/eruvanos/warehouse14/internal/server/pkgtoken"
	"github.com/eruvanos/warehouse14/internal/server/repository"
	"github.com/eruvanos/warehouse14/internal/server/storage"
)

type testEnv struct {
	db     repository.Backend
	store  storage.PackageStorage
	router *gin.Engine
}

func newTestEnv(t *testing.T, allowProjectCreation bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := repository.NewMemoryBackend()
	store, err := storage.NewFileStorage(t.TempDir(), false)
	require.NoError(t, err)

	api := New(db, store, logging.NewJSON(io.Discard), allowProjectCreation)
	return &testEnv{db: db, store: store, router: api.Router()}
}

// registerUser creates an account with one API token and returns the dumped
// credential.
func (e *testEnv) registerUser(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()

	_, err := e.db.AccountSave(ctx, name)
	require.NoError(t, err)

	token, credential, err := pkgtoken.Issue("warehouse14", "test")
	require.NoError(t, err)
	_, err = e.db.AccountTokenAdd(ctx, name, token.ID, token.Name, token.Key)
	require.NoError(t, err)

	return credential
}

func (e *testEnv) do(t *testing.T, req *http.Request, credential string) *httptest.ResponseRecorder {
	t.Helper()
	if credential != "" {
		req.SetBasicAuth("__token__", credential)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type uploadForm struct {
	fields   map[string]string
	filename string
	content  string
}

func defaultUpload() uploadForm {
	return uploadForm{
		fields: map[string]string{
			":action":          "file_upload",
			"protocol_version": "1",
			"name":             "example-pkg",
			"version":          "0.0.1",
			"filetype":         "sdist",
			"summary":          "An example package",
			"sha256_digest":    "f2ca1bb6c7e907d06dafe4687e579fce76b37e4e93b7605022da52e6ccc26fd2",
		},
		filename: "example_pkg-0.0.1.tar.gz",
		content:  "fake archive bytes",
	}
}

func (e *testEnv) upload(t *testing.T, credential string, form uploadForm) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range form.fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if form.filename != "" {
		part, err := writer.CreateFormFile("content", form.filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(form.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/simple/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.do(t, req, credential)
}

func TestUpload_EndToEnd(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	w := env.upload(t, credential, defaultUpload())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"upload": "successfully"}`, w.Body.String())

	project, err := env.db.ProjectGet(context.Background(), "example-pkg")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"userX"}, project.Admins)
	require.Contains(t, project.Versions, "0.0.1")
	version := project.Versions["0.0.1"]
	assert.Equal(t, "An example package", version.Summary())
	require.Len(t, version.Files, 1)
	assert.Equal(t, "example_pkg-0.0.1.tar.gz", version.Files[0].Filename)

	reader, err := env.store.Get(context.Background(), "example-pkg", "example_pkg-0.0.1.tar.gz")
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "fake archive bytes", string(data))
}

func TestUpload_ValidationFailures(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	t.Run("wrong action", func(t *testing.T) {
		form := defaultUpload()
		form.fields[":action"] = "submit"
		assert.Equal(t, http.StatusForbidden, env.upload(t, credential, form).Code)
	})

	t.Run("wrong protocol version", func(t *testing.T) {
		form := defaultUpload()
		form.fields["protocol_version"] = "2"
		assert.Equal(t, http.StatusForbidden, env.upload(t, credential, form).Code)
	})

	t.Run("missing content file", func(t *testing.T) {
		form := defaultUpload()
		form.filename = ""
		assert.Equal(t, http.StatusForbidden, env.upload(t, credential, form).Code)
	})

	for _, field := range []string{"name", "version", "filetype", "summary", "sha256_digest"} {
		t.Run("missing "+field, func(t *testing.T) {
			form := defaultUpload()
			delete(form.fields, field)
			assert.Equal(t, http.StatusForbidden, env.upload(t, credential, form).Code)
		})
	}
}

func TestUpload_ExistingFileConflicts(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	require.Equal(t, http.StatusOK, env.upload(t, credential, defaultUpload()).Code)
	assert.Equal(t, http.StatusConflict, env.upload(t, credential, defaultUpload()).Code)
}

func TestUpload_ProjectCreationDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	credential := env.registerUser(t, "userX")

	assert.Equal(t, http.StatusUnauthorized, env.upload(t, credential, defaultUpload()).Code)
}

func TestUpload_NonAdminRejected(t *testing.T) {
	env := newTestEnv(t, true)
	_ = env.registerUser(t, "owner")
	stranger := env.registerUser(t, "stranger")

	_, err := env.db.ProjectSave(context.Background(), &models.Project{Name: "example-pkg", Admins: []string{"owner"}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, env.upload(t, stranger, defaultUpload()).Code)
}

func TestUpload_MergesMetadataForNewVersion(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	form := defaultUpload()
	form.fields["keywords"] = "packaging, registry"
	require.Equal(t, http.StatusOK, env.upload(t, credential, form).Code)

	second := defaultUpload()
	second.filename = "example_pkg-0.0.1-py3-none-any.whl"
	second.fields["filetype"] = "bdist_wheel"
	second.fields["author"] = "Jane Doe"
	require.Equal(t, http.StatusOK, env.upload(t, credential, second).Code)

	project, err := env.db.ProjectGet(context.Background(), "example-pkg")
	require.NoError(t, err)
	version := project.Versions["0.0.1"]
	assert.Equal(t, []any{"packaging", "registry"}, normalizeStrings(version.Metadata["keywords"]))
	assert.Equal(t, "Jane Doe", version.Author())
	assert.Len(t, version.Files, 2)
}

// normalizeStrings maps []string and []any onto a comparable []any shape.
func normalizeStrings(v any) []any {
	switch values := v.(type) {
	case []string:
		out := make([]any, len(values))
		for i, s := range values {
			out[i] = s
		}
		return out
	case []any:
		return values
	}
	return nil
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	t.Run("no credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/simple/", nil)
		assert.Equal(t, http.StatusUnauthorized, env.do(t, req, "").Code)
	})

	t.Run("wrong username", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/simple/", nil)
		req.SetBasicAuth("userX", credential)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/simple/", nil)
		assert.Equal(t, http.StatusUnauthorized, env.do(t, req, "not-a-token").Code)
	})

	t.Run("revoked token", func(t *testing.T) {
		token, revoked, err := pkgtoken.Issue("warehouse14", "old")
		require.NoError(t, err)
		ctx := context.Background()
		_, err = env.db.AccountTokenAdd(ctx, "userX", token.ID, token.Name, token.Key)
		require.NoError(t, err)
		require.NoError(t, env.db.AccountTokenDelete(ctx, "userX", token.ID))

		req := httptest.NewRequest(http.MethodGet, "/simple/", nil)
		assert.Equal(t, http.StatusUnauthorized, env.do(t, req, revoked).Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/simple/", nil)
		assert.Equal(t, http.StatusOK, env.do(t, req, credential).Code)
	})
}

func TestListProjects(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")
	ctx := context.Background()

	for _, p := range []*models.Project{
		{Name: "Zeta.Pkg", Public: true},
		{Name: "alpha", Members: []string{"userX"}},
		{Name: "hidden", Admins: []string{"someone-else"}},
	} {
		_, err := env.db.ProjectSave(ctx, p)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/simple/", nil)
	w := env.do(t, req, credential)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `<a href="/simple/alpha/">alpha</a>`)
	assert.Contains(t, body, `<a href="/simple/zeta-pkg/">Zeta.Pkg</a>`)
	assert.NotContains(t, body, "hidden")
	// sorted by display name
	assert.Less(t, strings.Index(body, "Zeta.Pkg"), strings.Index(body, "alpha"))
}

func TestListFiles(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")
	require.Equal(t, http.StatusOK, env.upload(t, credential, defaultUpload()).Code)

	req := httptest.NewRequest(http.MethodGet, "/simple/example-pkg/", nil)
	w := env.do(t, req, credential)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "example_pkg-0.0.1.tar.gz")
	assert.Contains(t, body, "../../packages/example-pkg/example_pkg-0.0.1.tar.gz#sha256=f2ca1bb6c7e907d06dafe4687e579fce76b37e4e93b7605022da52e6ccc26fd2")
}

func TestListFiles_RedirectsUnnormalizedName(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	req := httptest.NewRequest(http.MethodGet, "/simple/Example.Pkg/", nil)
	w := env.do(t, req, credential)
	require.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/simple/example-pkg/", w.Header().Get("Location"))
}

func TestListFiles_UnknownProject(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	req := httptest.NewRequest(http.MethodGet, "/simple/ghost/", nil)
	assert.Equal(t, http.StatusNotFound, env.do(t, req, credential).Code)
}

func TestListFiles_InvisibleProject(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	_, err := env.db.ProjectSave(context.Background(), &models.Project{Name: "private", Admins: []string{"owner"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/simple/private/", nil)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, req, credential).Code)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")
	require.Equal(t, http.StatusOK, env.upload(t, credential, defaultUpload()).Code)

	req := httptest.NewRequest(http.MethodGet, "/packages/example-pkg/example_pkg-0.0.1.tar.gz", nil)
	w := env.do(t, req, credential)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "fake archive bytes", w.Body.String())
}

func TestDownload_RedirectsUnnormalizedName(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")

	req := httptest.NewRequest(http.MethodGet, "/packages/Example.Pkg/file.tar.gz", nil)
	w := env.do(t, req, credential)
	require.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/packages/example-pkg/file.tar.gz", w.Header().Get("Location"))
}

func TestVisibilityToggle(t *testing.T) {
	env := newTestEnv(t, true)
	owner := env.registerUser(t, "owner")
	stranger := env.registerUser(t, "stranger")
	ctx := context.Background()

	require.Equal(t, http.StatusOK, env.upload(t, owner, defaultUpload()).Code)

	listing := httptest.NewRequest(http.MethodGet, "/simple/example-pkg/", nil)
	download := httptest.NewRequest(http.MethodGet, "/packages/example-pkg/example_pkg-0.0.1.tar.gz", nil)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, listing.Clone(ctx), stranger).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, download.Clone(ctx), stranger).Code)

	project, err := env.db.ProjectGet(ctx, "example-pkg")
	require.NoError(t, err)
	project.Public = true
	_, err = env.db.ProjectSave(ctx, project)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, env.do(t, listing.Clone(ctx), stranger).Code)
	assert.Equal(t, http.StatusOK, env.do(t, download.Clone(ctx), stranger).Code)
}

func TestProjectWithEmptyACLs(t *testing.T) {
	env := newTestEnv(t, true)
	caller := env.registerUser(t, "caller")
	ctx := context.Background()

	project := &models.Project{
		Name: "loner",
		Versions: map[string]models.Version{
			"0.0.1": {
				Version: "0.0.1",
				Files:   []models.File{{Filename: "loner-0.0.1.tar.gz", SHA256Digest: "abc"}},
			},
		},
	}
	_, err := env.db.ProjectSave(ctx, project)
	require.NoError(t, err)
	require.NoError(t, env.store.Add(ctx, "loner", "loner-0.0.1.tar.gz", strings.NewReader("bytes")))

	listing := httptest.NewRequest(http.MethodGet, "/simple/loner/", nil)
	download := httptest.NewRequest(http.MethodGet, "/packages/loner/loner-0.0.1.tar.gz", nil)

	// no admins, no members, not public: nobody may see it
	assert.Equal(t, http.StatusUnauthorized, env.do(t, listing.Clone(ctx), caller).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, download.Clone(ctx), caller).Code)

	project.Public = true
	_, err = env.db.ProjectSave(ctx, project)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, env.do(t, listing.Clone(ctx), caller).Code)
	assert.Equal(t, http.StatusOK, env.do(t, download.Clone(ctx), caller).Code)
}

func TestDownload_MissingFile(t *testing.T) {
	env := newTestEnv(t, true)
	credential := env.registerUser(t, "userX")
	require.Equal(t, http.StatusOK, env.upload(t, credential, defaultUpload()).Code)

	req := httptest.NewRequest(http.MethodGet, "/packages/example-pkg/ghost.tar.gz", nil)
	assert.Equal(t, http.StatusNotFound, env.do(t, req, credential).Code)
}

func TestMergeMetadata(t *testing.T) {
	meta := map[string]any{"summary": "old", "license": "MIT"}

	mergeMetadata(meta, map[string][]string{
		"summary":     {"new"},
		"keywords":    {"a, b , ,c"},
		"classifiers": {"Programming Language :: Python", "License :: OSI Approved"},
		"ignored":     {"nope"},
	})

	assert.Equal(t, "new", meta["summary"])
	assert.Equal(t, "MIT", meta["license"])
	assert.Equal(t, []string{"a", "b", "c"}, meta["keywords"])
	assert.Equal(t, []string{"Programming Language :: Python", "License :: OSI Approved"}, meta["classifiers"])
	assert.NotContains(t, meta, "ignored")
}
