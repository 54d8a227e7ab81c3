// Package openapi embeds the HTTP API description.
package openapi

import _ "embed"

//go:embed openapi.yaml
var YAML []byte
