// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/pathresolver"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/swiftclient"
)

// fakeSwiftServer is a minimal in-memory object store exercising exactly
// the request shapes the transfer engine issues: PUT/GET/HEAD/DELETE with
// the chunk linked-list metadata headers round-tripped verbatim.
func fakeSwiftServer(t *testing.T) *httptest.Server {
	t.Helper()
	objects := map[string][]byte{}
	headers := map[string]http.Header{}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[key] = body
			headers[key] = r.Header.Clone()
			w.Header().Set("ETag", r.Header.Get("ETag"))
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet, http.MethodHead:
			body, ok := objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			for _, name := range []string{HeaderTotalChunks, HeaderGlobalMD5, HeaderNextChunk} {
				if v := headers[key].Get(name); v != "" {
					w.Header().Set(name, v)
				}
			}
			if et := headers[key].Get("ETag"); et != "" {
				w.Header().Set("ETag", et)
			}
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(body)
			}
		case http.MethodDelete:
			if _, ok := objects[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(objects, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return httptest.NewServer(mux)
}

func fixedDirhash(key string) string { return "" }

func newTestEngine(t *testing.T, chunkSize int64) (*Engine, func()) {
	srv := fakeSwiftServer(t)
	client := swiftclient.New(srv.URL, "tok", "")
	engine := NewEngine(chunkSize, func(ctx context.Context, forceRefresh bool) (*swiftclient.Client, error) {
		return client, nil
	})
	return engine, srv.Close
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "src")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStoreRetrieveRoundTripSingleChunk(t *testing.T) {
	engine, closeSrv := newTestEngine(t, DefaultChunkSize)
	defer closeSrv()

	content := "hello, hubic"
	src := writeTempFile(t, content)

	ctx := context.Background()
	err := engine.Store(ctx, src, "key1", "default", "", fixedDirhash, nil)
	assert.NilError(t, err)

	present, err := engine.Check(ctx, "key1", "default", "", fixedDirhash)
	assert.NilError(t, err)
	assert.Equal(t, true, present)

	dstDir := t.TempDir()
	dst := filepath.Join(dstDir, "out")
	err = engine.Retrieve(ctx, "key1", "default", "", dst, fixedDirhash, nil)
	assert.NilError(t, err)

	got, err := os.ReadFile(dst)
	assert.NilError(t, err)
	assert.Equal(t, content, string(got))
}

func TestStoreRetrieveMultiChunk(t *testing.T) {
	// chunkSize of 4 bytes forces several chunks for a longer payload.
	engine, closeSrv := newTestEngine(t, 4)
	defer closeSrv()

	content := strings.Repeat("abcdefgh", 5) // 40 bytes, 10 chunks of 4
	src := writeTempFile(t, content)

	ctx := context.Background()
	err := engine.Store(ctx, src, "key2", "default", "", fixedDirhash, nil)
	assert.NilError(t, err)

	dstDir := t.TempDir()
	dst := filepath.Join(dstDir, "out")
	err = engine.Retrieve(ctx, "key2", "default", "", dst, fixedDirhash, nil)
	assert.NilError(t, err)

	got, err := os.ReadFile(dst)
	assert.NilError(t, err)
	assert.Equal(t, content, string(got))
}

func TestStoreRetrieveEmptyFile(t *testing.T) {
	engine, closeSrv := newTestEngine(t, DefaultChunkSize)
	defer closeSrv()

	src := writeTempFile(t, "")

	ctx := context.Background()
	err := engine.Store(ctx, src, "key3", "default", "", fixedDirhash, nil)
	assert.NilError(t, err)

	present, err := engine.Check(ctx, "key3", "default", "", fixedDirhash)
	assert.NilError(t, err)
	assert.Equal(t, true, present)

	dstDir := t.TempDir()
	dst := filepath.Join(dstDir, "out")
	err = engine.Retrieve(ctx, "key3", "default", "", dst, fixedDirhash, nil)
	assert.NilError(t, err)

	got, err := os.ReadFile(dst)
	assert.NilError(t, err)
	assert.Equal(t, "", string(got))
}

func TestCheckAbsentKey(t *testing.T) {
	engine, closeSrv := newTestEngine(t, DefaultChunkSize)
	defer closeSrv()

	present, err := engine.Check(context.Background(), "nope", "default", "", fixedDirhash)
	assert.NilError(t, err)
	assert.Equal(t, false, present)
}

func TestRemoveDeletesAllChunks(t *testing.T) {
	engine, closeSrv := newTestEngine(t, 4)
	defer closeSrv()

	content := strings.Repeat("x", 20)
	src := writeTempFile(t, content)

	ctx := context.Background()
	assert.NilError(t, engine.Store(ctx, src, "key4", "default", "", fixedDirhash, nil))

	present, err := engine.Check(ctx, "key4", "default", "", fixedDirhash)
	assert.NilError(t, err)
	assert.Equal(t, true, present)

	assert.NilError(t, engine.Remove(ctx, "key4", "default", "", fixedDirhash))

	present, err = engine.Check(ctx, "key4", "default", "", fixedDirhash)
	assert.NilError(t, err)
	assert.Equal(t, false, present)
}

func TestCheckTamperedChunkCountFails(t *testing.T) {
	srv := fakeSwiftServer(t)
	defer srv.Close()
	client := swiftclient.New(srv.URL, "tok", "")
	engine := NewEngine(4, func(ctx context.Context, forceRefresh bool) (*swiftclient.Client, error) {
		return client, nil
	})

	ctx := context.Background()
	src := writeTempFile(t, strings.Repeat("y", 8)) // two 4-byte chunks
	assert.NilError(t, engine.Store(ctx, src, "key6", "default", "", fixedDirhash, nil))

	present, err := engine.Check(ctx, "key6", "default", "", fixedDirhash)
	assert.NilError(t, err)
	assert.Equal(t, true, present)

	// Re-upload the head chunk claiming three chunks instead of the two
	// actually in the chain; the terminal chunk's missing next-chunk header
	// alone would otherwise look fine.
	headPath := pathresolver.Resolve("key6", "default", "", fixedDirhash)
	nextPath := ChunkPath(headPath, 1)
	_, err = client.PutObject(ctx, "default", headPath, strings.NewReader("yyyy"), 4, map[string]string{
		"ETag":            "ignored-by-check",
		HeaderTotalChunks: "3",
		HeaderGlobalMD5:   "ignored-by-check",
		HeaderNextChunk:   nextPath,
	})
	assert.NilError(t, err)

	present, err = engine.Check(ctx, "key6", "default", "", fixedDirhash)
	assert.NilError(t, err)
	assert.Equal(t, false, present)
}

func TestCheckTransportErrorIsUnknownNotFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	client := swiftclient.New(srv.URL, "tok", "")
	engine := NewEngine(DefaultChunkSize, func(ctx context.Context, forceRefresh bool) (*swiftclient.Client, error) {
		return client, nil
	})

	present, err := engine.Check(context.Background(), "key7", "default", "", fixedDirhash)
	assert.Assert(t, err != nil)
	assert.Equal(t, false, present)
}

func TestRetrieveChecksumMismatchRemovesPartialFile(t *testing.T) {
	srv := fakeSwiftServer(t)
	defer srv.Close()
	client := swiftclient.New(srv.URL, "tok", "")
	engine := NewEngine(DefaultChunkSize, func(ctx context.Context, forceRefresh bool) (*swiftclient.Client, error) {
		return client, nil
	})

	ctx := context.Background()
	src := writeTempFile(t, "original content")
	assert.NilError(t, engine.Store(ctx, src, "key5", "default", "", fixedDirhash, nil))

	// Corrupt the stored object directly through the client so its ETag
	// no longer matches its body, simulating bit-rot or a transport error.
	_, err := client.PutObject(ctx, "default", pathresolver.Resolve("key5", "default", "", fixedDirhash), strings.NewReader("corrupted!!"), 11, map[string]string{
		"ETag":            "still-the-old-etag",
		HeaderTotalChunks: "1",
		HeaderGlobalMD5:   "still-the-old-etag",
	})
	assert.NilError(t, err)

	dstDir := t.TempDir()
	dst := filepath.Join(dstDir, "out")
	err = engine.Retrieve(ctx, "key5", "default", "", dst, fixedDirhash, nil)
	assert.Assert(t, err != nil)
	var checksumErr *ChecksumError
	assert.Assert(t, errors.As(err, &checksumErr))

	_, statErr := os.Stat(dst)
	assert.Assert(t, os.IsNotExist(statErr))
}
