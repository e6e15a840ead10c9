//go:build !windows

package controller

const promptPrefix = "$ "
