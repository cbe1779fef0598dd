package release

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cassini-chris/chroma/pkg/utils"
)

func testPlanConfig() PlanConfig {
	return PlanConfig{
		PackageName:    "chromadb",
		Organization:   "chroma-core",
		NpmRegistry:    "https://registry.npmjs.org",
		GithubRegistry: "https://npm.pkg.github.com",
		NpmTokenEnv:    "NPM_TOKEN",
		GithubTokenEnv: "GITHUB_TOKEN",
	}
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		channel Channel
		version string
		wantErr bool
	}{
		{"stable release", "js_release_1.2.3", ChannelStable, "1.2.3", false},
		{"alpha release", "js_release_alpha_0.9.0", ChannelAlpha, "0.9.0", false},
		{"multi digit", "js_release_10.20.30", ChannelStable, "10.20.30", false},
		{"plain semver tag", "v1.2.3", "", "", true},
		{"missing patch", "js_release_1.2", "", "", true},
		{"trailing suffix", "js_release_1.2.3-rc1", "", "", true},
		{"leading prefix", "refs/tags/js_release_1.2.3", "", "", true},
		{"alpha missing version", "js_release_alpha_", "", "", true},
		{"empty ref", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, err := ParseTag(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
				assert.Nil(t, rel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.channel, rel.Channel)
			assert.Equal(t, tt.version, rel.Version)
		})
	}
}

func TestReleaseScript(t *testing.T) {
	stable, err := ParseTag("js_release_1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "release", stable.Script())

	alpha, err := ParseTag("js_release_alpha_0.9.0")
	require.NoError(t, err)
	assert.Equal(t, "release_alpha", alpha.Script())
}

func TestNewPlanStable(t *testing.T) {
	plan, err := NewPlan("js_release_1.2.3", testPlanConfig())
	require.NoError(t, err)

	assert.Equal(t, "release", plan.Script)
	assert.Equal(t, "1.2.3", plan.Release.Version)
	require.Len(t, plan.Targets, 2)

	npm := plan.Targets[0]
	assert.Equal(t, "npm", npm.Name)
	assert.Equal(t, "https://registry.npmjs.org", npm.Registry)
	assert.Equal(t, "chromadb", npm.PackageName, "public npm keeps the original name")
	assert.Equal(t, "NPM_TOKEN", npm.TokenEnv)

	github := plan.Targets[1]
	assert.Equal(t, "github", github.Name)
	assert.Equal(t, "https://npm.pkg.github.com", github.Registry)
	assert.Equal(t, "@chroma-core/chromadb", github.PackageName)
	assert.Equal(t, "GITHUB_TOKEN", github.TokenEnv)
}

func TestNewPlanAlpha(t *testing.T) {
	plan, err := NewPlan("js_release_alpha_0.9.0", testPlanConfig())
	require.NoError(t, err)

	assert.Equal(t, "release_alpha", plan.Script)
	assert.Equal(t, ChannelAlpha, plan.Release.Channel)
	require.Len(t, plan.Targets, 2)
	assert.Equal(t, "@chroma-core/chromadb", plan.Targets[1].PackageName)
}

func TestNewPlanRejectsNonReleaseRef(t *testing.T) {
	plan, err := NewPlan("v1.2.3", testPlanConfig())
	require.Error(t, err)
	assert.Nil(t, plan, "no targets are planned for a non-release ref")
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
}

func TestNewPlanRequiresPackageName(t *testing.T) {
	cfg := testPlanConfig()
	cfg.PackageName = ""
	_, err := NewPlan("js_release_1.2.3", cfg)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
}

func TestScopedName(t *testing.T) {
	assert.Equal(t, "@chroma-core/chromadb", ScopedName("chroma-core", "chromadb"))
	assert.Equal(t, "@chroma-core/client", ScopedName("chroma-core", "@other-org/client"))
}
