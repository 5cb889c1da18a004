// Package simpleapi implements the installer-facing HTTP surface: the PEP 503
// simple index, the package download endpoint and the multipart upload
// endpoint. All routes sit behind token authentication.
package simpleapi

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eruvanos/warehouse14/internal/common"
	"github.com/eruvanos/warehouse14/internal/logging"
	"github.com/eruvanos/warehouse14/internal/server/models"
	"github.com/eruvanos/warehouse14/internal/server/repository"
	"github.com/eruvanos/warehouse14/internal/server/storage"
)

var requiredUploadFields = []string{"name", "version", "filetype", "summary", "sha256_digest"}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
  <head><title>Simple index</title></head>
  <body>
{{- range . }}
    <a href="/simple/{{ .Normalized }}/">{{ .Display }}</a><br>
{{- end }}
  </body>
</html>
`))

var projectTemplate = template.Must(template.New("project").Parse(`<!DOCTYPE html>
<html>
  <head><title>Links for {{ .Display }}</title></head>
  <body>
    <h1>Links for {{ .Display }}</h1>
{{- range .Links }}
    <a href="{{ .Href }}">{{ .Filename }}</a><br>
{{- end }}
  </body>
</html>
`))

type indexEntry struct {
	Display    string
	Normalized string
}

type fileLink struct {
	Filename string
	Href     string
}

type projectPage struct {
	Display string
	Links   []fileLink
}

// API serves the simple-index protocol over a metadata backend and a blob
// store.
type API struct {
	db                   repository.Backend
	store                storage.PackageStorage
	log                  logging.Logger
	allowProjectCreation bool
}

func New(db repository.Backend, store storage.PackageStorage, log logging.Logger, allowProjectCreation bool) *API {
	return &API{
		db:                   db,
		store:                store,
		log:                  log.With("component", "simpleapi"),
		allowProjectCreation: allowProjectCreation,
	}
}

// Router builds the gin engine with all protocol routes registered.
func (a *API) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	authed := engine.Group("/", a.authenticate)
	authed.GET("/simple/", a.listProjects)
	authed.POST("/simple/", a.upload)
	authed.GET("/simple/:project/", a.listFiles)
	authed.GET("/packages/:project/:filename", a.download)

	return engine
}

// abortForError translates backend errors into protocol status codes.
// Integrity violations are the one class that must never pass silently.
func (a *API) abortForError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		c.AbortWithStatus(http.StatusNotFound)
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		c.AbortWithStatus(http.StatusUnauthorized)
	case errors.Is(err, common.ErrValidation):
		c.AbortWithStatus(http.StatusForbidden)
	case errors.Is(err, common.ErrConflict):
		c.AbortWithStatus(http.StatusConflict)
	default:
		a.log.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}

func (a *API) listProjects(c *gin.Context) {
	user := currentUser(c)

	projects, err := a.db.ProjectList(c.Request.Context())
	if err != nil {
		a.abortForError(c, err)
		return
	}

	var entries []indexEntry
	for _, p := range projects {
		if !p.Visible(user) {
			continue
		}
		entries = append(entries, indexEntry{Display: p.Name, Normalized: p.NormalizedNameForURL()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Display < entries[j].Display })

	a.renderHTML(c, indexTemplate, entries)
}

func (a *API) listFiles(c *gin.Context) {
	name := c.Param("project")
	if normalized := models.NormalizeName(name); normalized != name {
		c.Redirect(http.StatusMovedPermanently, "/simple/"+models.NormalizeNameForURL(name)+"/")
		return
	}

	project, err := a.loadVisibleProject(c, name)
	if err != nil {
		a.abortForError(c, err)
		return
	}

	page := projectPage{Display: project.Name}
	for _, file := range project.Files() {
		page.Links = append(page.Links, fileLink{
			Filename: file.Filename,
			Href:     fmt.Sprintf("../../packages/%s/%s#sha256=%s", project.NormalizedNameForURL(), file.Filename, file.SHA256Digest),
		})
	}
	sort.Slice(page.Links, func(i, j int) bool { return page.Links[i].Filename < page.Links[j].Filename })

	a.renderHTML(c, projectTemplate, page)
}

func (a *API) download(c *gin.Context) {
	name := c.Param("project")
	filename := c.Param("filename")

	if normalized := models.NormalizeName(name); normalized != name {
		c.Redirect(http.StatusMovedPermanently, fmt.Sprintf("/packages/%s/%s", models.NormalizeNameForURL(name), filename))
		return
	}

	project, err := a.loadVisibleProject(c, name)
	if err != nil {
		a.abortForError(c, err)
		return
	}

	reader, err := a.store.Get(c.Request.Context(), project.NormalizedName(), filename)
	if err != nil {
		a.abortForError(c, err)
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
	})
}

func (a *API) upload(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	form, err := c.MultipartForm()
	if err != nil {
		a.abortForError(c, fmt.Errorf("malformed multipart body: %w", common.ErrValidation))
		return
	}

	if formValue(form.Value, ":action") != "file_upload" {
		a.abortForError(c, fmt.Errorf("unsupported action: %w", common.ErrValidation))
		return
	}
	if formValue(form.Value, "protocol_version") != "1" {
		a.abortForError(c, fmt.Errorf("unsupported protocol version: %w", common.ErrValidation))
		return
	}

	contentFiles := form.File["content"]
	if len(contentFiles) == 0 {
		a.abortForError(c, fmt.Errorf("missing content file: %w", common.ErrValidation))
		return
	}
	content := contentFiles[0]

	for _, field := range requiredUploadFields {
		if formValue(form.Value, field) == "" {
			a.abortForError(c, fmt.Errorf("missing field %s: %w", field, common.ErrValidation))
			return
		}
	}

	name := formValue(form.Value, "name")
	versionField := formValue(form.Value, "version")
	digest := formValue(form.Value, "sha256_digest")

	project, err := a.db.ProjectGet(ctx, name)
	switch {
	case err == nil:
		if !project.IsAdmin(user) {
			a.abortForError(c, fmt.Errorf("user %s does not administer %s: %w", user, name, common.ErrUnauthorized))
			return
		}
	case errors.Is(err, common.ErrNotFound):
		if !a.allowProjectCreation {
			a.abortForError(c, fmt.Errorf("project %s does not exist: %w", name, common.ErrUnauthorized))
			return
		}
		project = &models.Project{Name: name, Admins: []string{user}}
		a.log.Info(ctx, "creating project on first upload", "project", project.NormalizedName(), "admin", user)
	default:
		a.abortForError(c, err)
		return
	}

	blob, err := content.Open()
	if err != nil {
		a.abortForError(c, fmt.Errorf("open uploaded file: %w", err))
		return
	}
	defer blob.Close()

	if err := a.store.Add(ctx, project.NormalizedName(), content.Filename, blob); err != nil {
		a.abortForError(c, err)
		return
	}

	if project.Versions == nil {
		project.Versions = map[string]models.Version{}
	}
	version, ok := project.Versions[versionField]
	if !ok {
		version = models.Version{Version: versionField, Metadata: map[string]any{}}
	}
	if version.Metadata == nil {
		version.Metadata = map[string]any{}
	}
	mergeMetadata(version.Metadata, form.Value)
	project.Versions[versionField] = version

	project.AddFile(versionField, models.File{Filename: content.Filename, SHA256Digest: digest})

	if _, err := a.db.ProjectSave(ctx, project); err != nil {
		a.abortForError(c, err)
		return
	}

	a.log.Info(ctx, "file uploaded",
		"project", project.NormalizedName(),
		"version", versionField,
		"filename", content.Filename,
	)
	c.JSON(http.StatusOK, gin.H{"upload": "successfully"})
}

// loadVisibleProject fetches the project and applies the visibility rule:
// an invisible project answers exactly like a forbidden one.
func (a *API) loadVisibleProject(c *gin.Context, name string) (*models.Project, error) {
	project, err := a.db.ProjectGet(c.Request.Context(), name)
	if err != nil {
		return nil, err
	}
	if !project.Visible(currentUser(c)) {
		return nil, fmt.Errorf("project %s not visible: %w", name, common.ErrUnauthorized)
	}
	return project, nil
}

func (a *API) renderHTML(c *gin.Context, tmpl *template.Template, data any) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		a.abortForError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(b.String()))
}

func formValue(values map[string][]string, key string) string {
	if vs, ok := values[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
