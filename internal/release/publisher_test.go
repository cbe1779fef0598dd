package release

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cassini-chris/chroma/pkg/utils"
)

// stagedPackage writes a minimal npm package to a temp dir
func stagedPackage(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	pkg := map[string]interface{}{
		"name":    "chromadb",
		"version": "0.0.0",
		"scripts": map[string]string{
			"release":       "npm publish",
			"release_alpha": "npm publish --tag alpha",
		},
	}
	data, err := json.Marshal(pkg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), data, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("module.exports = {}\n"), 0644))

	return dir
}

// recordedRun captures one invocation of the command runner
type recordedRun struct {
	dir  string
	name string
	args []string
	pkg  string // package.json name in the scratch dir at run time
}

func fakeTokens(vals map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func TestPublishRunsScriptPerTarget(t *testing.T) {
	plan, err := NewPlan("js_release_1.2.3", testPlanConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	var runs []recordedRun

	p := NewPublisher(stagedPackage(t))
	p.lookupEnv = fakeTokens(map[string]string{
		"NPM_TOKEN":    "npm-secret",
		"GITHUB_TOKEN": "gh-secret",
	})
	p.runner = func(ctx context.Context, dir string, env []string, name string, args ...string) error {
		data, err := os.ReadFile(filepath.Join(dir, "package.json"))
		require.NoError(t, err)
		var pkg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &pkg))

		mu.Lock()
		defer mu.Unlock()
		runs = append(runs, recordedRun{dir: dir, name: name, args: args, pkg: pkg["name"].(string)})
		return nil
	}

	require.NoError(t, p.Publish(context.Background(), plan))
	require.Len(t, runs, 2)

	names := map[string]bool{}
	for _, run := range runs {
		assert.Equal(t, "npm", run.name)
		assert.Equal(t, []string{"run", "release"}, run.args)
		names[run.pkg] = true

		npmrc, err := os.ReadFile(filepath.Join(run.dir, ".npmrc"))
		require.NoError(t, err)
		assert.Contains(t, string(npmrc), "_authToken=")
	}

	assert.True(t, names["chromadb"], "public npm target keeps the original name")
	assert.True(t, names["@chroma-core/chromadb"], "GitHub target gets the scoped name")
}

func TestPublishAlphaScript(t *testing.T) {
	plan, err := NewPlan("js_release_alpha_0.9.0", testPlanConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	var args [][]string

	p := NewPublisher(stagedPackage(t))
	p.lookupEnv = fakeTokens(map[string]string{
		"NPM_TOKEN":    "npm-secret",
		"GITHUB_TOKEN": "gh-secret",
	})
	p.runner = func(ctx context.Context, dir string, env []string, name string, a ...string) error {
		mu.Lock()
		defer mu.Unlock()
		args = append(args, a)
		return nil
	}

	require.NoError(t, p.Publish(context.Background(), plan))
	require.Len(t, args, 2)
	for _, a := range args {
		assert.Equal(t, []string{"run", "release_alpha"}, a)
	}
}

func TestPublishMissingTokenFails(t *testing.T) {
	plan, err := NewPlan("js_release_1.2.3", testPlanConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	ran := 0

	p := NewPublisher(stagedPackage(t))
	p.lookupEnv = fakeTokens(map[string]string{
		"NPM_TOKEN": "npm-secret",
		// GITHUB_TOKEN intentionally absent
	})
	p.runner = func(ctx context.Context, dir string, env []string, name string, args ...string) error {
		mu.Lock()
		defer mu.Unlock()
		ran++
		return nil
	}

	err = p.Publish(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodePublish))
	assert.Contains(t, err.Error(), "github")
	assert.Equal(t, 1, ran, "the healthy target still ran")
}

func TestPublishScratchDirLeavesSourceUntouched(t *testing.T) {
	plan, err := NewPlan("js_release_1.2.3", testPlanConfig())
	require.NoError(t, err)

	src := stagedPackage(t)

	p := NewPublisher(src)
	p.lookupEnv = fakeTokens(map[string]string{
		"NPM_TOKEN":    "npm-secret",
		"GITHUB_TOKEN": "gh-secret",
	})
	p.runner = func(ctx context.Context, dir string, env []string, name string, args ...string) error {
		assert.NotEqual(t, src, dir, "publish runs from a scratch copy")
		return nil
	}

	require.NoError(t, p.Publish(context.Background(), plan))

	data, err := os.ReadFile(filepath.Join(src, "package.json"))
	require.NoError(t, err)
	var pkg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &pkg))
	assert.Equal(t, "chromadb", pkg["name"], "source package.json keeps its name")

	_, err = os.Stat(filepath.Join(src, ".npmrc"))
	assert.True(t, os.IsNotExist(err), "no .npmrc written into the source tree")
}
