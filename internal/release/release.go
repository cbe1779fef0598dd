// File: internal/release/release.go
package release

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Cassini-chris/chroma/pkg/utils"
)

// Channel identifies the release track selected by the tag pattern
type Channel string

const (
	ChannelStable Channel = "stable"
	ChannelAlpha  Channel = "alpha"
)

var (
	stableTagPattern = regexp.MustCompile(`^js_release_([0-9]+)\.([0-9]+)\.([0-9]+)$`)
	alphaTagPattern  = regexp.MustCompile(`^js_release_alpha_([0-9]+)\.([0-9]+)\.([0-9]+)$`)
)

// Release is a parsed release tag
type Release struct {
	Channel Channel `json:"channel"`
	Version string  `json:"version"`
}

// Script returns the npm script the release runs
func (r Release) Script() string {
	if r.Channel == ChannelAlpha {
		return "release_alpha"
	}
	return "release"
}

// ParseTag matches a git ref against the release tag patterns. Any ref
// that matches neither pattern is rejected before any publish step runs.
func ParseTag(ref string) (*Release, error) {
	if m := stableTagPattern.FindStringSubmatch(ref); m != nil {
		return &Release{
			Channel: ChannelStable,
			Version: fmt.Sprintf("%s.%s.%s", m[1], m[2], m[3]),
		}, nil
	}
	if m := alphaTagPattern.FindStringSubmatch(ref); m != nil {
		return &Release{
			Channel: ChannelAlpha,
			Version: fmt.Sprintf("%s.%s.%s", m[1], m[2], m[3]),
		}, nil
	}
	return nil, utils.NewAppError(utils.ErrCodeValidation, "Tag does not match a release pattern", ref)
}

// Target is one registry the package is published to
type Target struct {
	Name        string `json:"name"`         // npm, github
	Registry    string `json:"registry"`     // registry URL
	PackageName string `json:"package_name"` // name used for this registry
	TokenEnv    string `json:"token_env"`    // env var holding the auth token
}

// Plan is a complete publish plan for one release tag
type Plan struct {
	Release Release  `json:"release"`
	Script  string   `json:"script"`
	Targets []Target `json:"targets"`
}

// PlanConfig carries the registry and package settings for planning
type PlanConfig struct {
	PackageName    string
	Organization   string
	NpmRegistry    string
	GithubRegistry string
	NpmTokenEnv    string
	GithubTokenEnv string
}

// NewPlan builds the publish plan for a ref: the same package goes to the
// public npm registry under its original name and to the GitHub registry
// under an organization-scoped name.
func NewPlan(ref string, cfg PlanConfig) (*Plan, error) {
	rel, err := ParseTag(ref)
	if err != nil {
		return nil, err
	}

	if cfg.PackageName == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Package name is required", "")
	}
	if cfg.Organization == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Organization is required", "")
	}

	return &Plan{
		Release: *rel,
		Script:  rel.Script(),
		Targets: []Target{
			{
				Name:        "npm",
				Registry:    cfg.NpmRegistry,
				PackageName: cfg.PackageName,
				TokenEnv:    cfg.NpmTokenEnv,
			},
			{
				Name:        "github",
				Registry:    cfg.GithubRegistry,
				PackageName: ScopedName(cfg.Organization, cfg.PackageName),
				TokenEnv:    cfg.GithubTokenEnv,
			},
		},
	}, nil
}

// ScopedName rewrites a package name with an organization scope prefix.
// An already-scoped name is re-scoped to the given organization.
func ScopedName(organization, name string) string {
	if strings.HasPrefix(name, "@") {
		if idx := strings.Index(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
	}
	return fmt.Sprintf("@%s/%s", organization, name)
}
