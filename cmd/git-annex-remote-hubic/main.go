// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Command git-annex-remote-hubic is the external special remote binary
// git-annex execs and drives over stdin/stdout (spec.md §1, §6.3).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/annexhub/git-annex-remote-hubic/internal/app/hubicremote"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/credential"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/hublog"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/protocol"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/transfer"
)

func main() {
	if err := protocol.RefuseTTY(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	adapter := protocol.NewAdapter(os.Stdin, os.Stdout)

	credMgr, err := credential.NewManager(adapter, credential.OpenBrowserAndListen)
	if err != nil {
		hublog.Fatalf("cannot start: %v", err)
	}

	remote := hubicremote.New(adapter, credMgr, transfer.DefaultChunkSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote.Run(ctx)
}
