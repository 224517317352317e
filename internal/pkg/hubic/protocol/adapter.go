// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package protocol implements the git-annex external special remote line
// protocol: a blocking, newline-delimited request/response loop read from
// stdin and written to stdout, plus the nested host queries (GETCONFIG,
// GETCREDS, DIRHASH, ...) a command handler issues while it runs.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
)

// ErrHostGone is returned by Read when the host has closed its end of the
// command stream (clean shutdown, not an error the caller should report).
var ErrHostGone = errors.New("protocol: host closed the command stream")

// Adapter is the host-protocol adapter (component A). It owns the raw
// line-oriented conversation with git-annex; it does not interpret command
// bodies beyond splitting off the verb, which is left to the dispatcher in
// internal/app/hubicremote.
type Adapter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewAdapter wraps the given streams. Callers normally pass os.Stdin and
// os.Stdout; tests pass in-memory pipes.
func NewAdapter(in io.Reader, out io.Writer) *Adapter {
	return &Adapter{in: bufio.NewReader(in), out: out}
}

// RefuseTTY returns an error if either stream looks like a terminal. The
// protocol is not meant to be driven interactively; git-annex always pipes
// both ends.
func RefuseTTY(in, out *os.File) error {
	if isTerminal(in) || isTerminal(out) {
		return errors.New("don't run this by yourself! use: git annex initremote type=external externaltype=hubic")
	}
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// AnnounceVersion sends the startup VERSION line required by the protocol.
func (a *Adapter) AnnounceVersion() {
	a.Send("VERSION 1")
}

// Send writes msg terminated by a newline and flushes it. A broken pipe
// means the host has gone away; per spec this is fatal and exits the
// process rather than returning an error to the caller, since there is no
// host left to report anything to.
func (a *Adapter) Send(msg string) {
	if _, err := io.WriteString(a.out, msg+"\n"); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
			fmt.Fprintln(os.Stderr, "git-annex has stopped, exiting.")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error writing to host: %v\n", err)
		os.Exit(1)
	}
	if f, ok := a.out.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}

// Read blocks for the next line and returns it stripped of its terminator.
// ErrHostGone is returned once the host closes the stream cleanly.
func (a *Adapter) Read() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return "", ErrHostGone
		}
		if errors.Is(err, io.EOF) {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Progress reports bytes transferred so far for the command currently in
// flight. Values must be monotonically increasing within one TRANSFER.
func (a *Adapter) Progress(bytes int64) {
	a.Send(fmt.Sprintf("PROGRESS %d", bytes))
}

// Debug sends a DEBUG line; the host may choose to display it, but expects
// no reply.
func (a *Adapter) Debug(msg string) {
	a.Send("DEBUG " + msg)
}

// Error signals a non-fatal error to the host; expects no reply.
func (a *Adapter) Error(msg string) {
	a.Send("ERROR " + msg)
}

// Fatal signals a fatal error to the host and terminates the process.
func (a *Adapter) Fatal(msg string) {
	a.Error(msg)
	os.Exit(1)
}

// GetConfig issues GETCONFIG and parses the VALUE reply. ok is false when
// the value is unset.
func (a *Adapter) GetConfig(name string) (value string, ok bool) {
	a.Send("GETCONFIG " + name)
	reply := a.mustRead()
	fields := strings.SplitN(reply, " ", 2)
	if fields[0] != "VALUE" {
		a.Fatal("expected VALUE, got " + fields[0])
	}
	if len(fields) == 1 || fields[1] == "" {
		return "", false
	}
	return fields[1], true
}

// SetConfig issues SETCONFIG; no reply is expected.
func (a *Adapter) SetConfig(name, value string) {
	a.Send(fmt.Sprintf("SETCONFIG %s %s", name, value))
}

// GetCreds issues GETCREDS and parses the CREDS reply. ok is false when no
// credentials are stored under name.
func (a *Adapter) GetCreds(name string) (user, password string, ok bool) {
	a.Send("GETCREDS " + name)
	reply := a.mustRead()
	fields := strings.SplitN(reply, " ", 3)
	if fields[0] != "CREDS" {
		a.Fatal("expected CREDS, got " + fields[0])
	}
	if len(fields) < 3 {
		return "", "", false
	}
	return fields[1], fields[2], true
}

// SetCreds issues SETCREDS; no reply is expected.
func (a *Adapter) SetCreds(name, user, password string) {
	a.Send(fmt.Sprintf("SETCREDS %s %s %s", name, user, password))
}

// Dirhash issues DIRHASH and returns the two-level directory fragment git-annex
// computed for key.
func (a *Adapter) Dirhash(key string) string {
	a.Send("DIRHASH " + key)
	reply := a.mustRead()
	fields := strings.SplitN(reply, " ", 2)
	if len(fields) != 2 || fields[0] != "VALUE" {
		a.Fatal("unexpected reply format for DIRHASH")
	}
	return fields[1]
}

func (a *Adapter) mustRead() string {
	line, err := a.Read()
	if err != nil {
		a.Fatal("lost the host while waiting for a reply: " + err.Error())
	}
	return line
}
