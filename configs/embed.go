// Package configs embeds the starter configuration templates so every
// distribution of the binary can write them, whether installed from
// source or a release artifact.
//
// Layering (see internal/config.Load): hardcoded defaults, then the
// user config at ~/.config/conrag/config.yaml, then the project
// .conrag.yaml, then CONRAG_* environment variables.
package configs

import _ "embed"

// ProjectConfigTemplate is the starter .conrag.yaml written into a
// project root by `conrag doctor --init`. It carries the settings a
// team version-controls with the document set: language, ingest globs
// and chunking policy.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is the starter user config for machine-level
// settings: service endpoints, object store credentials and worker
// counts.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
