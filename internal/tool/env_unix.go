//go:build !windows

package tool

func envKey(name string) string { return name }
