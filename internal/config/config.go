// Package config persists the agent's YAML configuration document
// (server, file, id sections) the way the teacher's WingConfig does —
// a plain struct tree loaded/saved with gopkg.in/yaml.v3 — generalized
// to the ignore-list regex and relay-address fields this domain needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the persistent on-disk document: three required
// top-level sections.
type Config struct {
	Server ServerConfig `yaml:"server"`
	File   FileConfig   `yaml:"file"`
	ID     IDConfig     `yaml:"id"`
}

type ServerConfig struct {
	Domain       string `yaml:"domain"`
	ServerPort   uint16 `yaml:"server_port"`
	P2PPort      uint16 `yaml:"p2p_port"`
	Hash         string `yaml:"hash"`
	P2PRelayAddr string `yaml:"p2p_relay_addr"`
}

// Address returns the rendezvous server's dial address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Domain, s.ServerPort)
}

type FileConfig struct {
	Workspace   string    `yaml:"workspace"`
	RefreshTime uint64    `yaml:"refresh_time"` // milliseconds
	IgnoreList  IgnoreList `yaml:"ignore_list"`
}

// IgnoreList is a list of regex patterns tested against individual
// path components (see spec's open question on ignore-list semantics:
// a component-name match, not a path-prefix match). It compiles
// lazily on the first MatchesComponent call; a pattern that does not
// compile is skipped silently and never matches, matching the
// teacher's permissive load-then-use style.
type IgnoreList struct {
	Patterns []string
	compiled []*regexp.Regexp
}

// UnmarshalYAML accepts a plain sequence of regex strings, mirroring
// PathList's approach of handling the wire shape explicitly instead of
// relying on the default []string decode so the type carries its own
// Match behavior.
func (l *IgnoreList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return &yaml.TypeError{Errors: []string{"ignore_list: expected sequence"}}
	}
	var patterns []string
	for _, item := range value.Content {
		if item.Kind != yaml.ScalarNode {
			return &yaml.TypeError{Errors: []string{"ignore_list: expected scalar entries"}}
		}
		patterns = append(patterns, item.Value)
	}
	l.Patterns = patterns
	l.compiled = nil
	return nil
}

func (l IgnoreList) MarshalYAML() (any, error) {
	return l.Patterns, nil
}

// compile lazily builds the regexp set. Patterns that fail to compile
// are dropped without an error, at match time rather than at load time.
func (l *IgnoreList) compile() {
	if l.compiled != nil || len(l.Patterns) == 0 {
		return
	}
	l.compiled = make([]*regexp.Regexp, 0, len(l.Patterns))
	for _, p := range l.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		l.compiled = append(l.compiled, re)
	}
}

// MatchesComponent reports whether any configured pattern matches the
// given path component name.
func (l *IgnoreList) MatchesComponent(name string) bool {
	l.compile()
	for _, re := range l.compiled {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

type IDConfig struct {
	GroupID  uuid.UUID `yaml:"group_id"`
	MyID     uuid.UUID `yaml:"my_id"`
	Nickname string    `yaml:"nickname"`
}

// NewConfig builds a fresh Config the way set_config does: group_id
// derived via UUIDv5 in the OID namespace from the group name, my_id a
// fresh UUIDv4, and defaults filled in for unspecified server fields.
func NewConfig(workspace, groupName, nickname string, opts ServerConfig) Config {
	if opts.Domain == "" {
		opts.Domain = "127.0.0.1"
	}
	if opts.ServerPort == 0 {
		opts.ServerPort = 7878
	}
	if opts.P2PPort == 0 {
		opts.P2PPort = 4001
	}
	if opts.Hash == "" {
		opts.Hash = "12D3KooWA768LzHMatxkjD1f9DrYW375GZJr6MHPCNEdDtHeTNRt"
	}
	opts.P2PRelayAddr = fmt.Sprintf("/ip4/%s/tcp/%d/p2p/%s", opts.Domain, opts.P2PPort, opts.Hash)

	return Config{
		Server: opts,
		File: FileConfig{
			Workspace:   workspace,
			RefreshTime: 600,
		},
		ID: IDConfig{
			GroupID:  uuid.NewSHA1(uuid.NameSpaceOID, []byte(groupName)),
			MyID:     uuid.New(),
			Nickname: nickname,
		},
	}
}

// Load reads and parses path. Non-existence is reported via the
// returned error; callers use IsFirstRun to distinguish that case
// before calling Load.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: serializing: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// IsFirstRun reports whether path does not yet exist as a regular file.
func IsFirstRun(path string) bool {
	info, err := os.Stat(path)
	return err != nil || info.IsDir()
}

// ResolveHome expands a leading "~" in p to homeDir, per §6.5.
func ResolveHome(p, homeDir string) string {
	if p == "~" {
		return homeDir
	}
	if len(p) >= 2 && p[0] == '~' && (p[1] == '/' || p[1] == filepath.Separator) {
		return filepath.Join(homeDir, p[2:])
	}
	return p
}
