// Package credentials loads MCP server bearer tokens from standard locations.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when credentials file has overly permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds per-server tokens loaded from credentials.toml:
//
//	[default]
//	token = "..."
//
//	[github]
//	token = "..."
type Credentials struct {
	// Default is used when a server has no section of its own.
	Default *ServerCreds

	servers map[string]*ServerCreds
}

// ServerCreds holds credentials for a single MCP server.
type ServerCreds struct {
	Token string `toml:"token"`
}

// StandardPaths returns the standard credential file locations in order of priority
func StandardPaths() []string {
	paths := []string{"credentials.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "mcpbridge", "credentials.toml"),
			filepath.Join(home, ".mcpbridge", "credentials.toml"),
		)
	}
	return paths
}

// Load loads credentials from the first available standard location
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil // No credentials file found (not an error)
}

// LoadFile loads credentials from a specific file.
// Returns ErrInsecurePermissions if file is readable by group or others.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		// Credentials must be 0400 (owner read-only)
		if mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var sections map[string]ServerCreds
	if _, err := toml.DecodeFile(path, &sections); err != nil {
		return nil, err
	}

	creds := &Credentials{servers: make(map[string]*ServerCreds)}
	for name, section := range sections {
		if section.Token == "" {
			continue
		}
		sc := section
		if name == "default" {
			creds.Default = &sc
		} else {
			creds.servers[name] = &sc
		}
	}
	return creds, nil
}

// Token returns the bearer token for an MCP server.
// Priority: [server] section > [default] section > environment variable.
func (c *Credentials) Token(server string) string {
	if c != nil {
		if sc, ok := c.servers[server]; ok {
			return sc.Token
		}
		if sc, ok := c.servers[normalize(server)]; ok {
			return sc.Token
		}
		if c.Default != nil {
			return c.Default.Token
		}
	}
	return os.Getenv(EnvVar(server))
}

// EnvVar returns the environment variable consulted for a server's token,
// e.g. MCPBRIDGE_GITHUB_TOKEN.
func EnvVar(server string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(server))
	return "MCPBRIDGE_" + name + "_TOKEN"
}

func normalize(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "-", ""))
}
