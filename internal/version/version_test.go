package version

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

// withBuild подменяет значения, которые в релизе приходят из -ldflags.
func withBuild(t *testing.T, v, c, d string) {
	t.Helper()
	prevVersion, prevCommit, prevDate := version, commit, date
	version, commit, date = v, c, d
	t.Cleanup(func() { version, commit, date = prevVersion, prevCommit, prevDate })
}

func TestDefaultsForLocalBuild(t *testing.T) {
	v, c, d := Info()
	assert.Equal(t, "dev", v)
	assert.Equal(t, "unknown", c)
	assert.Equal(t, "unknown", d)
	assert.Equal(t, v, GetVersion())
	assert.Equal(t, c, GetCommit())
	assert.Equal(t, d, GetDate())
}

func TestReleaseBuildInfo(t *testing.T) {
	withBuild(t, "v1.3.0", "9f2c1ab", "2024-03-01T10:00:00Z")

	assert.Equal(t, "version=v1.3.0 commit=9f2c1ab date=2024-03-01T10:00:00Z", String())
	assert.Equal(t, "v1.3.0", Fields()["version"])
	assert.Equal(t, "9f2c1ab", Fields()["commit"])
	assert.Equal(t, "2024-03-01T10:00:00Z", Fields()["build_date"])
}

func TestClientID(t *testing.T) {
	validClientID := regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

	tests := []struct {
		name      string
		version   string
		component string
		want      string
	}{
		{name: "local build", version: "dev", component: "storefront", want: "shawlshop-storefront-dev"},
		{name: "release tag", version: "v1.3.0", component: "dlq-reprocess", want: "shawlshop-dlq-reprocess-v1.3.0"},
		{name: "dirty semver build", version: "v1.3.0+dirty", component: "storefront", want: "shawlshop-storefront-v1.3.0_dirty"},
		{name: "component with spaces", version: "dev", component: " load test ", want: "shawlshop-load_test-dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuild(t, tt.version, "c", "d")
			got := ClientID(tt.component)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, validClientID, got)
		})
	}
}
