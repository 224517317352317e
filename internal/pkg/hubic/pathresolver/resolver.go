// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package pathresolver implements the path resolver (component D): mapping
// a git-annex key onto an object path within a Swift container.
package pathresolver

import "strings"

// DefaultContainer is the one container name that gets DIRHASH-based
// two-level fan-out instead of a flat prefix+key path (spec.md §4.D),
// matching the Python original's get_path special-case for "default".
const DefaultContainer = "default"

// DirhashFunc computes git-annex's two-level directory fragment for a key,
// normally Adapter.Dirhash issuing the DIRHASH host query.
type DirhashFunc func(key string) string

// Resolve returns the object path for key inside container, given the
// configured prefix. The default container is fanned out under the
// configured prefix and git-annex's own DIRHASH buckets (prefix/dirhash/key,
// matching original_source/hubic_remote/swift.py's get_path); any other
// container uses prefix+key directly with no further nesting.
func Resolve(key, container, prefix string, dirhash DirhashFunc) string {
	if container == DefaultContainer {
		frag := strings.Trim(dirhash(key), "/")
		return join(prefix, frag, key)
	}
	return join(prefix, key)
}

// DirPath returns the directory portion of Resolve's result for container,
// i.e. the path whose existence must be ensured (directory marker object)
// before storing into it. It returns "" when no marker is needed (any
// container other than the default one - spec.md §4.D).
func DirPath(key, container, prefix string, dirhash DirhashFunc) string {
	if container != DefaultContainer {
		return ""
	}
	return join(prefix, strings.Trim(dirhash(key), "/"))
}

func join(parts ...string) string {
	var kept []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
