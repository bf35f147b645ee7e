//go:build tools
// +build tools

// Package tools tracks build-time tool dependencies such as mockgen.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
