// File: internal/release/publisher.go
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Cassini-chris/chroma/pkg/utils"
)

// commandRunner executes an external command; swapped out in tests
type commandRunner func(ctx context.Context, dir string, env []string, name string, args ...string) error

// Publisher publishes a package to every target of a plan in parallel.
// Each target gets its own scratch copy of the package so the name
// rewrite for one registry never leaks into another.
type Publisher struct {
	packageDir string
	logger     *logrus.Entry
	runner     commandRunner
	lookupEnv  func(string) (string, bool)
}

// NewPublisher creates a publisher for the package rooted at packageDir
func NewPublisher(packageDir string) *Publisher {
	return &Publisher{
		packageDir: packageDir,
		logger:     utils.ComponentLogger("publisher"),
		runner:     runCommand,
		lookupEnv:  os.LookupEnv,
	}
}

// Publish runs the plan's script against every target. Targets run in
// parallel; a failure on any target fails the publish with every error
// reported.
func (p *Publisher) Publish(ctx context.Context, plan *Plan) error {
	var wg sync.WaitGroup
	errs := make([]error, len(plan.Targets))

	for i, target := range plan.Targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			errs[i] = p.publishTarget(ctx, plan, target)
		}(i, target)
	}

	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"target": plan.Targets[i].Name,
				"error":  err,
			}).Error("Publish target failed")
			failed = append(failed, fmt.Errorf("%s: %w", plan.Targets[i].Name, err))
		}
	}

	if len(failed) > 0 {
		details := ""
		for _, err := range failed {
			if details != "" {
				details += "; "
			}
			details += err.Error()
		}
		return utils.NewAppError(utils.ErrCodePublish, "Publish failed", details)
	}

	p.logger.WithFields(logrus.Fields{
		"version": plan.Release.Version,
		"script":  plan.Script,
		"targets": len(plan.Targets),
	}).Info("Publish completed")

	return nil
}

// publishTarget publishes to a single registry
func (p *Publisher) publishTarget(ctx context.Context, plan *Plan, target Target) error {
	token, ok := p.lookupEnv(target.TokenEnv)
	if !ok || token == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Missing registry auth token", target.TokenEnv)
	}

	scratch, err := os.MkdirTemp("", "chroma-release-"+target.Name+"-")
	if err != nil {
		return utils.NewAppError(utils.ErrCodePublish, "Failed to create scratch directory", err.Error())
	}
	defer os.RemoveAll(scratch)

	if err := copyDir(p.packageDir, scratch); err != nil {
		return utils.NewAppError(utils.ErrCodePublish, "Failed to stage package", err.Error())
	}

	if err := rewritePackageName(filepath.Join(scratch, "package.json"), target.PackageName); err != nil {
		return err
	}

	if err := writeNpmrc(scratch, target.Registry, token); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"target":   target.Name,
		"registry": target.Registry,
		"package":  target.PackageName,
		"script":   plan.Script,
	}).Info("Publishing")

	env := append(os.Environ(),
		"NODE_AUTH_TOKEN="+token,
		"npm_config_registry="+target.Registry,
	)

	if err := p.runner(ctx, scratch, env, "npm", "run", plan.Script); err != nil {
		return utils.NewAppError(utils.ErrCodePublish, "npm publish failed", err.Error())
	}

	return nil
}

// rewritePackageName sets the name field of a package.json; a name equal
// to the current one is left untouched.
func rewritePackageName(path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return utils.NewAppError(utils.ErrCodePublish, "Failed to read package.json", err.Error())
	}

	var pkg map[string]interface{}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return utils.NewAppError(utils.ErrCodePublish, "Failed to parse package.json", err.Error())
	}

	if current, _ := pkg["name"].(string); current == name {
		return nil
	}
	pkg["name"] = name

	out, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return utils.NewAppError(utils.ErrCodePublish, "Failed to encode package.json", err.Error())
	}

	if err := os.WriteFile(path, append(out, '\n'), 0644); err != nil {
		return utils.NewAppError(utils.ErrCodePublish, "Failed to write package.json", err.Error())
	}

	return nil
}

// writeNpmrc writes a scratch .npmrc pointing at the target registry with
// its auth token
func writeNpmrc(dir, registry, token string) error {
	u, err := url.Parse(registry)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid registry URL", err.Error())
	}

	content := fmt.Sprintf("registry=%s\n//%s/:_authToken=%s\n", registry, u.Host, token)
	if err := os.WriteFile(filepath.Join(dir, ".npmrc"), []byte(content), 0600); err != nil {
		return utils.NewAppError(utils.ErrCodePublish, "Failed to write .npmrc", err.Error())
	}

	return nil
}

// copyDir copies a directory tree, skipping node_modules
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && info.Name() == "node_modules" {
			return filepath.SkipDir
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}

// runCommand executes an external command, streaming its output
func runCommand(ctx context.Context, dir string, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
