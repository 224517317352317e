// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package swiftclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, StatusOK, Classify(200))
	assert.Equal(t, StatusOK, Classify(201))
	assert.Equal(t, StatusNotFound, Classify(404))
	assert.Equal(t, StatusUnauthenticated, Classify(401))
	assert.Equal(t, StatusOther, Classify(500))
}

// fakeStore is a minimal in-memory Swift server sufficient to exercise the
// client's request shapes without a real object store.
func fakeStore(t *testing.T) (*httptest.Server, map[string][]byte, map[string]http.Header) {
	t.Helper()
	objects := map[string][]byte{}
	headers := map[string]http.Header{}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		switch r.Method {
		case http.MethodPut:
			if r.Header.Get("X-Copy-From") != "" {
				src := r.Header.Get("X-Copy-From")
				if body, ok := objects["/"+trimLeadingSlash(src)]; ok {
					objects[key] = body
					headers[key] = r.Header.Clone()
					w.WriteHeader(http.StatusCreated)
					return
				}
				w.WriteHeader(http.StatusNotFound)
				return
			}
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
			for _, name := range []string{HeaderTotalChunksForTest, HeaderGlobalMD5ForTest, HeaderNextChunkForTest} {
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
	return httptest.NewServer(mux), objects, headers
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

func TestPutAndGetObjectRoundTrip(t *testing.T) {
	srv, _, _ := fakeStore(t)
	defer srv.Close()

	c := New(srv.URL, "tok", "")
	ctx := context.Background()

	etag, err := c.PutObject(ctx, "default", "a/b/key1", strings.NewReader("hello"), 5, map[string]string{"ETag": "fakeetag"})
	assert.NilError(t, err)
	assert.Equal(t, "fakeetag", etag)

	body, status, _, err := c.GetObject(ctx, "default", "a/b/key1")
	assert.NilError(t, err)
	assert.Equal(t, StatusOK, status)
	data, err := io.ReadAll(body)
	assert.NilError(t, err)
	body.Close()
	assert.Equal(t, "hello", string(data))
}

func TestGetObjectNotFound(t *testing.T) {
	srv, _, _ := fakeStore(t)
	defer srv.Close()

	c := New(srv.URL, "tok", "")
	_, status, _, err := c.GetObject(context.Background(), "default", "missing")
	assert.NilError(t, err)
	assert.Equal(t, StatusNotFound, status)
}

func TestDeleteObjectToleratesNotFound(t *testing.T) {
	srv, _, _ := fakeStore(t)
	defer srv.Close()

	c := New(srv.URL, "tok", "")
	err := c.DeleteObject(context.Background(), "default", "nothing-here")
	assert.NilError(t, err)
}

func TestCopyObject(t *testing.T) {
	srv, objects, _ := fakeStore(t)
	defer srv.Close()

	c := New(srv.URL, "tok", "")
	ctx := context.Background()
	_, err := c.PutObject(ctx, "src", "obj1", strings.NewReader("payload"), 7, nil)
	assert.NilError(t, err)

	err = c.CopyObject(ctx, "src", "obj1", "dst", "obj1-copy")
	assert.NilError(t, err)
	assert.Equal(t, "payload", string(objects["/dst/obj1-copy"]))
}

func TestAuthFileDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authfile")
	New("https://endpoint.example", "mytoken", path)

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(data), "export OS_AUTH_TOKEN=mytoken"))
	assert.Assert(t, strings.Contains(string(data), "export OS_STORAGE_URL=https://endpoint.example"))
}

// The transfer package's header constants aren't imported here to avoid a
// dependency cycle (swiftclient is lower-level); these mirror them for the
// fake server's pass-through of metadata headers under test.
const (
	HeaderTotalChunksForTest = "X-Object-Meta-Annex-Chunks"
	HeaderGlobalMD5ForTest   = "X-Object-Meta-Annex-Global-Md5"
	HeaderNextChunkForTest   = "X-Object-Meta-Annex-Next-Chunk"
)
