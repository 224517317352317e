// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Command git-annex-remote-hubic-migrate is the one-shot server-side
// migration utility (spec.md §9, SPEC_FULL.md §6.4): it copies an object
// from one container/path to another using Swift's X-Copy-From, without
// streaming bytes back through this process, and optionally deletes the
// source afterward.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/credential"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/hublog"
	"github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/swiftclient"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		sourceContainer string
		move            bool
		token           string
		clientID        string
		clientSecret    string
		configPath      string
		verbose         bool
	)

	cmd := &cobra.Command{
		Use:   "git-annex-remote-hubic-migrate <source-path> <target-container> <target-path>",
		Short: "Copy an object between hubiC containers server-side",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			hublog.SetVerbose(verbose)
			sourcePath, targetContainer, targetPath := args[0], args[1], args[2]

			if configPath == "" {
				configPath = defaultSidecarPath()
			}
			cfg, err := readSidecarConfig(configPath)
			if err != nil {
				return err
			}
			if clientID != "" {
				cfg.ClientID = clientID
			}
			if clientSecret != "" {
				cfg.ClientSecret = clientSecret
			}
			if token != "" {
				cfg.RefreshToken = token
			}

			host := &pseudoHost{clientID: cfg.ClientID, clientSecret: cfg.ClientSecret, refreshToken: cfg.RefreshToken}
			mgr, err := credential.NewManager(host, credential.OpenBrowserAndListen)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if err := mgr.Initialize(ctx); err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
			if host.refreshToken != "" {
				cfg.RefreshToken = host.refreshToken
				_ = writeSidecarConfig(configPath, cfg)
			}

			endpoint, swiftToken, err := mgr.SwiftCredentials(ctx)
			if err != nil {
				return fmt.Errorf("fetch swift credentials: %w", err)
			}
			client := swiftclient.New(endpoint, swiftToken, os.Getenv("GIT_ANNEX_HUBIC_AUTH_FILE"))

			progress := newCopyProgress()
			if err := client.CopyObject(ctx, sourceContainer, sourcePath, targetContainer, targetPath); err != nil {
				return fmt.Errorf("copy: %w", err)
			}
			progress.done()

			if move {
				if err := client.DeleteObject(ctx, sourceContainer, sourcePath); err != nil {
					return fmt.Errorf("delete source after move: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceContainer, "source-container", "default", "container the object currently lives in")
	cmd.Flags().BoolVar(&move, "move", false, "delete the source object once the copy succeeds")
	cmd.Flags().StringVar(&token, "token", "", "hubiC OAuth2 refresh token (overrides the sidecar config)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "hubiC OAuth2 client id (overrides the sidecar config)")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "hubiC OAuth2 client secret (overrides the sidecar config)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML sidecar config (default: OS config dir)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

// copyProgress renders a one-step determinate bar gated on stdout being a
// real terminal, the same term.IsTerminal-gated mpb pattern the teacher
// uses in internal/pkg/client/library/push.go and pull.go. When stdout
// isn't a terminal it's a no-op, matching the teacher's behavior of
// suppressing bars for piped/redirected output.
type copyProgress struct {
	progress *mpb.Progress
	bar      *mpb.Bar
}

func newCopyProgress() *copyProgress {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return &copyProgress{}
	}
	p := mpb.New(mpb.WithWidth(40))
	bar := p.New(1,
		mpb.BarStyle(),
		mpb.PrependDecorators(decor.Name("copying object")),
		mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO)),
	)
	return &copyProgress{progress: p, bar: bar}
}

func (c *copyProgress) done() {
	if c.bar == nil {
		return
	}
	c.bar.SetCurrent(1)
	c.progress.Wait()
}
