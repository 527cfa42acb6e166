package workspace

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the decoded .muse/config.toml. The file holds the auth
// token, so it is written with 0600 and its contents never reach the
// log.
type Config struct {
	User      UserConfig          `toml:"user,omitempty"`
	Auth      AuthConfig          `toml:"auth,omitempty"`
	Remotes   map[string]Remote   `toml:"remotes,omitempty"`
	Upstreams map[string]Upstream `toml:"upstream,omitempty"`
}

// UserConfig is the commit author identity.
type UserConfig struct {
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
}

// AuthConfig carries the hub bearer token.
type AuthConfig struct {
	Token string `toml:"token,omitempty"`
}

// Remote names a hub endpoint plus the repository it serves.
type Remote struct {
	URL    string `toml:"url"`
	RepoID string `toml:"repo_id"`
}

// Upstream records which remote branch a local branch pushes to and
// pulls from.
type Upstream struct {
	Remote string `toml:"remote"`
	Branch string `toml:"branch"`
}

// LoadConfig reads .muse/config.toml. A missing file is an empty
// config, not an error.
func (w *Workspace) LoadConfig() (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(w.configPath())
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", w.configPath(), err)
	}
	return &cfg, nil
}

// SaveConfig writes the config with owner-only permissions.
func (w *Workspace) SaveConfig(cfg *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(w.configPath(), buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Remote looks up a named remote.
func (c *Config) Remote(name string) (Remote, bool) {
	r, ok := c.Remotes[name]
	return r, ok
}

// SetRemote adds or replaces a remote entry.
func (c *Config) SetRemote(name string, r Remote) {
	if c.Remotes == nil {
		c.Remotes = make(map[string]Remote)
	}
	c.Remotes[name] = r
}

// RemoveRemote deletes a remote and any upstreams pointing at it.
func (c *Config) RemoveRemote(name string) {
	delete(c.Remotes, name)
	for branch, up := range c.Upstreams {
		if up.Remote == name {
			delete(c.Upstreams, branch)
		}
	}
}

// SetUpstream records the tracking target for a local branch.
func (c *Config) SetUpstream(localBranch, remote, remoteBranch string) {
	if c.Upstreams == nil {
		c.Upstreams = make(map[string]Upstream)
	}
	c.Upstreams[localBranch] = Upstream{Remote: remote, Branch: remoteBranch}
}

// UpstreamFor resolves the remote and branch a local branch tracks.
// Without explicit upstream config, a lone remote plus the same branch
// name is assumed.
func (c *Config) UpstreamFor(localBranch string) (remote, branch string, ok bool) {
	if up, found := c.Upstreams[localBranch]; found {
		return up.Remote, up.Branch, true
	}
	if len(c.Remotes) == 1 {
		for name := range c.Remotes {
			return name, localBranch, true
		}
	}
	if _, found := c.Remotes["origin"]; found {
		return "origin", localBranch, true
	}
	return "", "", false
}
