// Package configs embeds the annotated configuration template written by
// `amanctx config init`.
package configs

import _ "embed"

// Template documents every configuration key with its default. Keys that
// hold secrets or machine paths are left commented out.
//
//go:embed amanctx.example.yaml
var Template string
