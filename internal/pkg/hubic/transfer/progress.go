// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package transfer

import (
	"context"
	"io"
)

// Reporter is the one capability the transfer engine needs from the host
// protocol adapter: emitting a PROGRESS line. Kept separate from the full
// Host interface in internal/app/hubicremote so tests can pass a bare
// function.
type Reporter interface {
	Progress(bytes int64)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(bytes int64)

// Progress implements Reporter.
func (f ReporterFunc) Progress(bytes int64) { f(bytes) }

// readerFunc adapts a function to io.Reader, the same indirection the
// teacher's internal/pkg/client/progress package uses to splice a callback
// into an io.Copy without a bespoke io.Reader type per call site.
type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// copyWithProgress copies src to dst, calling report with the cumulative
// byte count after every successful chunk of the copy, the same shape as
// the teacher's progress.CopyWithContext. PROGRESS lines must be
// monotonically increasing (spec.md §4.E), which a running total
// naturally satisfies.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, report Reporter) (int64, error) {
	var total int64
	proxy := readerFunc(func(p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := src.Read(p)
		if n > 0 {
			total += int64(n)
			if report != nil {
				report.Progress(total)
			}
		}
		return n, err
	})
	n, err := io.Copy(dst, proxy)
	return n, err
}
