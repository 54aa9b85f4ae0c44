// Package configs embeds the configuration templates written by
// `fundrag config init`.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .fundrag.yaml in the project
// directory.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to ~/.config/fundrag/config.yaml with
// `fundrag config init --user`.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
