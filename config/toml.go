package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	tmos "github.com/wot-technology/wellspring/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and panics if it fails.
func EnsureRoot(rootDir string) {
	if err := tmos.EnsureDir(rootDir, defaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), defaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultDataDir), defaultDirPerm); err != nil {
		panic(err.Error())
	}
}

// WriteConfigFile renders config using the template and writes it to
// <rootDir>/config/config.toml.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by the
// path, in the default toml template and does not mangle the path or
// filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	return os.WriteFile(path, buffer.Bytes(), 0644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/wellspring/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.wellspring" by default, but could be changed via $WSHOME env
# variable or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# TCP address for the sync listener to bind to
listen-addr = "{{ .BaseConfig.ListenAddr }}"

# Database backend: goleveldb | memdb | badgerdb
db-backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db-dir = "{{ js .BaseConfig.DBPath }}"

# Output level for logging
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

# Path to the JSON file containing the node key and identity
node-key-file = "{{ js .BaseConfig.NodeKey }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###           Trust Engine Configuration            ###
#######################################################
[trust]

# Per-hop attenuation applied to transitive trust
decay = {{ .Trust.Decay }}

# Default traversal depth bound for trust queries
max-hops = {{ .Trust.MaxHops }}

# Recursion depth bound for groundedness scoring
groundedness-depth = {{ .Trust.GroundednessDepth }}

# Cache trust scores until the next write
cache-scores = {{ .Trust.CacheScores }}

#######################################################
###            Scope Sync Configuration             ###
#######################################################
[sync]

# Peer addresses to reconcile with, host:port
peers = [{{ range .Sync.Peers }}"{{ . }}", {{ end }}]

# Scopes to reconcile, as sha256:<hex> digests; empty syncs every scope
# this node holds a membership for
scopes = [{{ range .Sync.Scopes }}"{{ . }}", {{ end }}]

# How often to start a reconciliation pass against each peer
interval = "{{ .Sync.Interval }}"

# Item count at or below which a range is enumerated instead of
# sub-fingerprinted
enumerate-threshold = {{ .Sync.EnumerateThreshold }}

# Sub-ranges a mismatched range splits into, between 4 and 32
branching = {{ .Sync.Branching }}

# Reconciliation rounds before a conversation gives up
max-rounds = {{ .Sync.MaxRounds }}

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# prometheus-listen-addr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus-listen-addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
