// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package transfer implements the chunked transfer engine (component E):
// Store, Retrieve, Check, and Remove over a linked list of chunk objects,
// with no separate manifest object (spec.md §4.E).
package transfer

import "fmt"

// Header names for the chunk linked-list metadata. Swift returns them with
// the X-Object-Meta- prefix intact but may change their case, so readers
// look them up via http.Header.Get, which canonicalizes the name.
const (
	HeaderTotalChunks = "X-Object-Meta-Annex-Chunks"
	HeaderGlobalMD5   = "X-Object-Meta-Annex-Global-Md5"
	HeaderNextChunk   = "X-Object-Meta-Annex-Next-Chunk"
)

// DefaultChunkSize is used when no "hubic_chunk_size" config value is set.
const DefaultChunkSize int64 = 64 * 1024 * 1024

// ChunkPath returns the object path for chunk index n (0-based) of a key
// stored at basePath. The head chunk (n==0) keeps the key's own resolved
// path; subsequent chunks are stored at `<head>/chunk%04d` (spec.md §3
// invariant 1), so a single-chunk (small) file round-trips through exactly
// one object with no naming indirection.
func ChunkPath(basePath string, n int) string {
	if n == 0 {
		return basePath
	}
	return fmt.Sprintf("%s/chunk%04d", basePath, n)
}
