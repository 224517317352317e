// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package hubicremote wires the host-protocol adapter, credential manager,
// Swift client, and chunked transfer engine together into the command
// dispatch loop git-annex drives (spec.md §5, §6.3).
package hubicremote

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/credential"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/swiftclient"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/transfer"
)

// remoteCost is the fixed GETCOST reply (spec.md §6.3); hubiC is treated as
// an expensive, remote-network backend, matching the Python original's
// REMOTE_COST constant.
const remoteCost = 175

// Host is everything the dispatch loop needs from the protocol adapter.
// *protocol.Adapter satisfies this interface structurally.
type Host interface {
	Send(msg string)
	Read() (string, error)
	AnnounceVersion()
	Debug(msg string)
	Error(msg string)
	Fatal(msg string)
	GetConfig(name string) (string, bool)
	SetConfig(name, value string)
	GetCreds(name string) (user, password string, ok bool)
	SetCreds(name, user, password string)
	Dirhash(key string) string
	Progress(bytes int64)
}

// Remote is the top-level dispatcher (orchestration layer referenced in
// SPEC_FULL.md §2).
type Remote struct {
	host Host
	cred *credential.Manager

	engine *transfer.Engine

	container string
	prefix    string
	authFile  string

	client       *swiftclient.Client
	lastEndpoint string
	lastToken    string
}

// New builds a Remote. chunkSize <= 0 selects transfer.DefaultChunkSize.
func New(host Host, cred *credential.Manager, chunkSize int64) *Remote {
	r := &Remote{
		host:     host,
		cred:     cred,
		authFile: os.Getenv("GIT_ANNEX_HUBIC_AUTH_FILE"),
	}
	r.engine = transfer.NewEngine(chunkSize, r.getClient)
	return r
}

func (r *Remote) getClient(ctx context.Context, forceRefresh bool) (*swiftclient.Client, error) {
	var endpoint, token string
	var err error
	if forceRefresh {
		endpoint, token, err = r.cred.RefreshSwiftCredentials(ctx)
	} else {
		endpoint, token, err = r.cred.SwiftCredentials(ctx)
	}
	if err != nil {
		return nil, err
	}
	if r.client == nil || r.lastEndpoint != endpoint || r.lastToken != token {
		r.client = swiftclient.New(endpoint, token, r.authFile)
		r.lastEndpoint, r.lastToken = endpoint, token
	}
	return r.client, nil
}

// Run announces VERSION 1 and serves commands until the host closes its end
// of the pipe or ctx is canceled (SIGINT), matching spec.md §5's "Interrupted
// by user" fatal behavior.
func (r *Remote) Run(ctx context.Context) {
	r.host.AnnounceVersion()

	lines := make(chan string)
	readErrs := make(chan error, 1)
	go func() {
		for {
			line, err := r.host.Read()
			if err != nil {
				readErrs <- err
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.host.Fatal("Interrupted by user")
			return
		case err := <-readErrs:
			_ = err // host closed the stream; nothing left to reply to
			return
		case line := <-lines:
			r.dispatch(ctx, line)
		}
	}
}

func (r *Remote) dispatch(ctx context.Context, line string) {
	verb, rest := splitVerb(line)
	switch verb {
	case "INITREMOTE":
		r.handleInitRemote(ctx)
	case "PREPARE":
		r.handlePrepare(ctx)
	case "GETCOST":
		r.host.Send("COST " + strconv.Itoa(remoteCost))
	case "GETAVAILABILITY":
		r.host.Send("AVAILABILITY GLOBAL")
	case "TRANSFER":
		r.handleTransfer(ctx, rest)
	case "CHECKPRESENT":
		r.handleCheckPresent(ctx, rest)
	case "REMOVE":
		r.handleRemove(ctx, rest)
	case "":
		// blank line; nothing to dispatch
	default:
		r.host.Send("UNSUPPORTED-REQUEST")
	}
}

func splitVerb(line string) (verb, rest string) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], fields[1]
}

func (r *Remote) containerAndPrefix() (container, prefix string) {
	container = "default"
	if v, ok := r.host.GetConfig("hubic_container"); ok && v != "" {
		container = v
	}
	prefix, _ = r.host.GetConfig("hubic_path")
	return container, prefix
}

func (r *Remote) handleInitRemote(ctx context.Context) {
	r.container, r.prefix = r.containerAndPrefix()
	if err := r.cred.Initialize(ctx); err != nil {
		r.host.Send("INITREMOTE-FAILURE " + err.Error())
		return
	}
	if err := r.withClient(ctx, func(c *swiftclient.Client) error {
		return c.PutContainer(ctx, r.container)
	}); err != nil {
		r.host.Send("INITREMOTE-FAILURE " + err.Error())
		return
	}
	r.host.Send("INITREMOTE-SUCCESS")
}

func (r *Remote) handlePrepare(ctx context.Context) {
	r.container, r.prefix = r.containerAndPrefix()
	if err := r.cred.Prepare(ctx); err != nil {
		r.host.Send("PREPARE-FAILURE " + err.Error())
		return
	}
	r.engine = transfer.NewEngine(r.configuredChunkSize(), r.getClient)
	r.host.Send("PREPARE-SUCCESS")
}

// configuredChunkSize reads the "hubic_chunk_size" config value (bytes, or a
// number with a trailing K/M/G suffix in powers of 1024), falling back to
// transfer.DefaultChunkSize when unset or unparseable.
func (r *Remote) configuredChunkSize() int64 {
	v, ok := r.host.GetConfig("hubic_chunk_size")
	if !ok || v == "" {
		return transfer.DefaultChunkSize
	}
	n, err := parseByteSize(v)
	if err != nil {
		r.host.Debug("ignoring unparseable chunksize " + v + ": " + err.Error())
		return transfer.DefaultChunkSize
	}
	return n
}

func parseByteSize(s string) (int64, error) {
	multiplier := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		multiplier = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * multiplier, nil
}

func (r *Remote) withClient(ctx context.Context, op func(*swiftclient.Client) error) error {
	client, err := r.getClient(ctx, false)
	if err != nil {
		return err
	}
	return op(client)
}

func (r *Remote) handleTransfer(ctx context.Context, rest string) {
	fields := strings.SplitN(rest, " ", 3)
	if len(fields) != 3 {
		r.host.Error("malformed TRANSFER command")
		return
	}
	direction, key, file := fields[0], fields[1], fields[2]

	switch direction {
	case "STORE":
		if err := r.engine.Store(ctx, file, key, r.container, r.prefix, r.hostDirhash, r.host); err != nil {
			r.host.Send("TRANSFER-FAILURE STORE " + key + " " + err.Error())
			return
		}
		r.host.Send("TRANSFER-SUCCESS STORE " + key)
	case "RETRIEVE":
		if err := r.engine.Retrieve(ctx, key, r.container, r.prefix, file, r.hostDirhash, r.host); err != nil {
			r.host.Send("TRANSFER-FAILURE RETRIEVE " + key + " " + err.Error())
			return
		}
		r.host.Send("TRANSFER-SUCCESS RETRIEVE " + key)
	default:
		r.host.Error("unknown TRANSFER direction " + direction)
	}
}

func (r *Remote) hostDirhash(key string) string {
	return r.host.Dirhash(key)
}

func (r *Remote) handleCheckPresent(ctx context.Context, key string) {
	present, err := r.engine.Check(ctx, key, r.container, r.prefix, r.hostDirhash)
	if err != nil {
		r.host.Send("CHECKPRESENT-UNKNOWN " + key + " " + err.Error())
		return
	}
	if present {
		r.host.Send("CHECKPRESENT-SUCCESS " + key)
		return
	}
	r.host.Send("CHECKPRESENT-FAILURE " + key)
}

func (r *Remote) handleRemove(ctx context.Context, key string) {
	if err := r.engine.Remove(ctx, key, r.container, r.prefix, r.hostDirhash); err != nil {
		r.host.Send("REMOVE-FAILURE " + key + " " + err.Error())
		return
	}
	r.host.Send("REMOVE-SUCCESS " + key)
}
