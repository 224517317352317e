// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/pathresolver"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/swiftclient"
)

// maxRetries bounds the credential-refresh-and-retry loop on a 401
// (spec.md §4.E, §7): Swift tokens can expire mid-transfer, and a single
// retry after a forced refresh is normally enough.
const maxRetries = 3

// ChecksumError reports an MD5 mismatch detected while retrieving an
// object, either at the per-chunk or whole-file level.
type ChecksumError struct {
	Path     string
	Expected string
	Got      string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("Checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Got)
}

// ClientFunc returns a Swift client bound to the current credentials,
// forcing a refresh first when forceRefresh is true. It is how the engine
// recovers from a 401 without owning the credential manager itself.
type ClientFunc func(ctx context.Context, forceRefresh bool) (*swiftclient.Client, error)

// Engine is the chunked transfer engine (component E).
type Engine struct {
	chunkSize int64
	getClient ClientFunc
}

// NewEngine builds an Engine. chunkSize <= 0 selects DefaultChunkSize.
func NewEngine(chunkSize int64, getClient ClientFunc) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{chunkSize: chunkSize, getClient: getClient}
}

// withRetry runs op against a client, making up to maxRetries attempts: each
// attempt that fails with a swiftclient.StatusError carrying
// StatusUnauthenticated is followed by a forced credential refresh and
// another attempt. Any other error is returned at once.
func (e *Engine) withRetry(ctx context.Context, op func(*swiftclient.Client) error) error {
	forceRefresh := false
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		client, err := e.getClient(ctx, forceRefresh)
		if err != nil {
			return err
		}
		lastErr = op(client)
		if lastErr == nil {
			return nil
		}
		if !isUnauthenticated(lastErr) {
			return lastErr
		}
		forceRefresh = true
	}
	return lastErr
}

func isUnauthenticated(err error) bool {
	var statusErr *swiftclient.StatusError
	if errors.As(err, &statusErr) {
		return swiftclient.Classify(statusErr.StatusCode) == swiftclient.StatusUnauthenticated
	}
	return false
}

// chunkInfo is one chunk's size and MD5, computed by a first local pass
// over the file before anything is uploaded.
type chunkInfo struct {
	size int64
	md5  string
}

// scanChunks reads f from its current position to EOF once, returning the
// size/MD5 of each chunkSize-bounded slice and the MD5 over the whole
// thing. An empty file still yields exactly one zero-length chunk, so
// Store/Retrieve never need to special-case "no chunks".
func (e *Engine) scanChunks(f *os.File) ([]chunkInfo, string, error) {
	var chunks []chunkInfo
	global := md5.New()

	for {
		chunkHash := md5.New()
		n, err := io.CopyN(io.MultiWriter(chunkHash, global), f, e.chunkSize)
		if err != nil && err != io.EOF {
			return nil, "", err
		}
		if n > 0 {
			chunks = append(chunks, chunkInfo{size: n, md5: hex.EncodeToString(chunkHash.Sum(nil))})
		}
		if err == io.EOF {
			break
		}
	}
	if len(chunks) == 0 {
		empty := md5.Sum(nil)
		chunks = append(chunks, chunkInfo{size: 0, md5: hex.EncodeToString(empty[:])})
	}
	return chunks, hex.EncodeToString(global.Sum(nil)), nil
}

// Store uploads the file at localPath as key's chunked object chain into
// container/prefix. It scans the file once to determine chunk boundaries
// and MD5s (per-chunk and whole-file), then streams each chunk's bytes
// straight from the file a second time - no chunk is ever buffered whole in
// memory.
func (e *Engine) Store(ctx context.Context, localPath, key, container, prefix string, dirhash pathresolver.DirhashFunc, report Reporter) error {
	basePath := pathresolver.Resolve(key, container, prefix, dirhash)
	dirPath := pathresolver.DirPath(key, container, prefix, dirhash)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	chunks, globalMD5, err := e.scanChunks(f)
	if err != nil {
		return fmt.Errorf("scan %s: %w", localPath, err)
	}

	if err := e.withRetry(ctx, func(c *swiftclient.Client) error {
		if err := c.PutContainer(ctx, container); err != nil {
			return err
		}
		return c.EnsureDirectory(ctx, container, dirPath)
	}); err != nil {
		return err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", localPath, err)
	}

	var sent int64
	for i, chunk := range chunks {
		headers := map[string]string{
			"ETag":            chunk.md5,
			HeaderTotalChunks: strconv.Itoa(len(chunks)),
			HeaderGlobalMD5:   globalMD5,
		}
		if i < len(chunks)-1 {
			headers[HeaderNextChunk] = ChunkPath(basePath, i+1)
		}

		path := ChunkPath(basePath, i)
		chunkReader := io.LimitReader(f, chunk.size)
		size := chunk.size
		if err := e.withRetry(ctx, func(c *swiftclient.Client) error {
			_, err := c.PutObject(ctx, container, path, chunkReader, size, headers)
			return err
		}); err != nil {
			return err
		}

		sent += chunk.size
		if report != nil {
			report.Progress(sent)
		}
	}
	return nil
}

// Retrieve walks key's chunk chain in container/prefix and writes the
// concatenated, checksum-verified content to localPath. Any mismatch -
// per-chunk or whole-file - deletes the partial output file and returns a
// *ChecksumError (spec.md §4.E, §9).
func (e *Engine) Retrieve(ctx context.Context, key, container, prefix, localPath string, dirhash pathresolver.DirhashFunc, report Reporter) error {
	basePath := pathresolver.Resolve(key, container, prefix, dirhash)

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}

	globalHash := md5.New()
	var received int64
	var declaredGlobalMD5 string
	path := basePath

	for {
		var body io.ReadCloser
		var etag, nextPath, declaredGlobal string

		err := e.withRetry(ctx, func(c *swiftclient.Client) error {
			b, status, h, err := c.GetObject(ctx, container, path)
			if err != nil {
				return err
			}
			if status != swiftclient.StatusOK {
				return &swiftclient.StatusError{Method: "GET", Path: path, StatusCode: statusCode(status)}
			}
			body = b
			etag = h.Get("ETag")
			nextPath = h.Get(HeaderNextChunk)
			declaredGlobal = h.Get(HeaderGlobalMD5)
			return nil
		})
		if err != nil {
			out.Close()
			os.Remove(localPath)
			return err
		}
		if declaredGlobalMD5 == "" {
			declaredGlobalMD5 = declaredGlobal
		}

		chunkHash := md5.New()
		n, copyErr := copyWithProgress(ctx, io.MultiWriter(out, chunkHash, globalHash), body, nil)
		body.Close()
		if copyErr != nil {
			out.Close()
			os.Remove(localPath)
			return fmt.Errorf("read chunk %s: %w", path, copyErr)
		}

		gotChunkMD5 := hex.EncodeToString(chunkHash.Sum(nil))
		if etag != "" && !etagEqual(etag, gotChunkMD5) {
			out.Close()
			os.Remove(localPath)
			return &ChecksumError{Path: path, Expected: etag, Got: gotChunkMD5}
		}

		received += n
		if report != nil {
			report.Progress(received)
		}

		if nextPath == "" {
			break
		}
		path = nextPath
	}

	if err := out.Close(); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("close %s: %w", localPath, err)
	}

	if declaredGlobalMD5 != "" {
		gotGlobal := hex.EncodeToString(globalHash.Sum(nil))
		if !etagEqual(declaredGlobalMD5, gotGlobal) {
			os.Remove(localPath)
			return &ChecksumError{Path: basePath, Expected: declaredGlobalMD5, Got: gotGlobal}
		}
	}

	return nil
}

func statusCode(k swiftclient.StatusKind) int {
	switch k {
	case swiftclient.StatusNotFound:
		return 404
	case swiftclient.StatusUnauthenticated:
		return 401
	default:
		return 500
	}
}

func etagEqual(a, b string) bool {
	trim := func(s string) string {
		if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
			return s[1 : len(s)-1]
		}
		return s
	}
	return trim(a) == trim(b)
}

// Check reports whether key's full chunk chain is present in
// container/prefix by HEAD-walking it. A missing chunk is reported as
// absent with no error; any other non-OK status (401, 5xx) is wrapped into
// a *swiftclient.StatusError the same way GetObject's caller does, so a
// stale Swift token still triggers withRetry's credential refresh and a
// genuine transport error surfaces as CHECKPRESENT-UNKNOWN rather than
// CHECKPRESENT-FAILURE (spec.md §4.E, §7). Success additionally requires the
// number of chunks visited to equal the head chunk's declared annex-chunks
// count, so a tampered or inconsistent count on the head chunk is caught
// even though the terminal chunk's missing next-chunk header looks fine on
// its own. The counts carried by later chunks are not read.
func (e *Engine) Check(ctx context.Context, key, container, prefix string, dirhash pathresolver.DirhashFunc) (present bool, err error) {
	basePath := pathresolver.Resolve(key, container, prefix, dirhash)
	path := basePath

	visited := 0
	declaredTotal := -1
	for {
		var status swiftclient.StatusKind
		var next, totalChunks string
		err := e.withRetry(ctx, func(c *swiftclient.Client) error {
			s, h, err := c.HeadObject(ctx, container, path)
			if err != nil {
				return err
			}
			if s != swiftclient.StatusOK && s != swiftclient.StatusNotFound {
				return &swiftclient.StatusError{Method: "HEAD", Path: container + "/" + path, StatusCode: statusCode(s)}
			}
			status = s
			next = h.Get(HeaderNextChunk)
			totalChunks = h.Get(HeaderTotalChunks)
			return nil
		})
		if err != nil {
			return false, err
		}
		if status == swiftclient.StatusNotFound {
			return false, nil
		}
		if visited == 0 {
			if n, convErr := strconv.Atoi(totalChunks); convErr == nil {
				declaredTotal = n
			}
		}
		visited++
		if next == "" {
			if declaredTotal >= 0 && visited != declaredTotal {
				return false, nil
			}
			return true, nil
		}
		path = next
	}
}

// Remove deletes every chunk in key's chain from container/prefix,
// collecting paths by HEAD-walking first and deleting in reverse order so a
// process interrupted mid-removal leaves the head and a leading part of the
// chain in place; a later Remove walks that part again, its walk stopping at
// the first missing chunk. A 404 on any
// delete is tolerated (spec.md §4.E); no empty-directory cleanup is
// attempted.
func (e *Engine) Remove(ctx context.Context, key, container, prefix string, dirhash pathresolver.DirhashFunc) error {
	basePath := pathresolver.Resolve(key, container, prefix, dirhash)
	path := basePath

	var paths []string
	for {
		var status swiftclient.StatusKind
		var next string
		err := e.withRetry(ctx, func(c *swiftclient.Client) error {
			s, h, err := c.HeadObject(ctx, container, path)
			if err != nil {
				return err
			}
			if s != swiftclient.StatusOK && s != swiftclient.StatusNotFound {
				return &swiftclient.StatusError{Method: "HEAD", Path: container + "/" + path, StatusCode: statusCode(s)}
			}
			status = s
			next = h.Get(HeaderNextChunk)
			return nil
		})
		if err != nil {
			return err
		}
		if status == swiftclient.StatusNotFound {
			break
		}
		paths = append(paths, path)
		if next == "" {
			break
		}
		path = next
	}

	for i := len(paths) - 1; i >= 0; i-- {
		p := paths[i]
		if err := e.withRetry(ctx, func(c *swiftclient.Client) error {
			return c.DeleteObject(ctx, container, p)
		}); err != nil {
			return err
		}
	}
	return nil
}
