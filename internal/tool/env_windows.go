//go:build windows

package tool

import "strings"

func envKey(name string) string { return strings.ToUpper(name) }
