// SPDX-License-Identifier: MIT

// Package version exposes build metadata injected at link time.
package version

// Version is overridden via -ldflags at release builds.
var Version = "dev"
