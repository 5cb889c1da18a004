package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ex.Ample_Name", "ex-ample-name"},
		{"example-pkg", "example-pkg"},
		{"A__b..C--d", "a-b-c-d"},
		{"Django", "django"},
		{"zope.interface", "zope-interface"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in))
	}
}

func TestNormalizeName_Idempotent(t *testing.T) {
	for _, name := range []string{"Ex.Ample_Name", "foo_bar", "A-.-_B"} {
		once := NormalizeName(name)
		assert.Equal(t, once, NormalizeName(once))
	}
}

func TestProject_Visible(t *testing.T) {
	private := Project{Name: "p", Admins: []string{"admin1"}, Members: []string{"member1"}}

	assert.True(t, private.Visible("admin1"))
	assert.True(t, private.Visible("member1"))
	assert.False(t, private.Visible("stranger"))

	public := Project{Name: "p", Public: true}
	assert.True(t, public.Visible("anyone"))
}

func TestProject_IsAdmin(t *testing.T) {
	p := Project{Name: "p", Admins: []string{"admin1"}, Members: []string{"member1"}}

	assert.True(t, p.IsAdmin("admin1"))
	assert.False(t, p.IsAdmin("member1"))
	assert.False(t, p.IsAdmin("stranger"))
}

func TestProject_AddFile_CreatesVersion(t *testing.T) {
	p := Project{Name: "p"}

	p.AddFile("0.0.1", File{Filename: "p-0.0.1.tar.gz", SHA256Digest: "abc"})

	v, ok := p.Versions["0.0.1"]
	assert.True(t, ok)
	assert.Equal(t, "0.0.1", v.Version)
	assert.Len(t, v.Files, 1)
	assert.NotNil(t, v.Metadata)
}

func TestProject_AddFile_AppendsToExistingVersion(t *testing.T) {
	p := Project{Name: "p", Versions: map[string]Version{
		"0.0.1": {Version: "0.0.1", Files: []File{{Filename: "a"}}},
	}}

	p.AddFile("0.0.1", File{Filename: "b"})

	assert.Len(t, p.Versions["0.0.1"].Files, 2)
}

func TestProject_Files_CollectsAcrossVersions(t *testing.T) {
	p := Project{Name: "p", Versions: map[string]Version{
		"0.0.1": {Version: "0.0.1", Files: []File{{Filename: "a"}}},
		"0.0.2": {Version: "0.0.2", Files: []File{{Filename: "b"}, {Filename: "c"}}},
	}}

	assert.Len(t, p.Files(), 3)
}

func TestProject_LatestVersion(t *testing.T) {
	empty := Project{Name: "p"}
	assert.Nil(t, empty.LatestVersion())

	p := Project{Name: "p", Versions: map[string]Version{
		"0.0.1": {Version: "0.0.1"},
		"0.0.9": {Version: "0.0.9"},
		"0.0.2": {Version: "0.0.2"},
	}}
	assert.Equal(t, "0.0.9", p.LatestVersion().Version)
}

func TestVersion_MetadataAccessors(t *testing.T) {
	v := Version{Version: "1.0", Metadata: map[string]any{
		"summary":     "Example",
		"classifiers": []any{"Programming Language :: Python"},
	}}

	assert.Equal(t, "Example", v.Summary())
	assert.Equal(t, "", v.Author())
	assert.Equal(t, []string{"Programming Language :: Python"}, v.Classifiers())
}
