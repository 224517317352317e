// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package main

import "github.com/annexhub/git-annex-remote-hubic/internal/pkg/hubic/hublog"

// pseudoHost stands in for the git-annex host protocol the credential
// manager normally talks to (original_source/hubic_remote/migrate.py's
// PseudoRemote): it has no config/credential store of its own, so
// everything is seeded up front from the sidecar config/flags. Config writes
// are dropped; a refresh token stored through SetCreds is kept on the
// struct, where the command reads it back to save it in the sidecar config.
// Satisfies credential.Host.
type pseudoHost struct {
	clientID     string
	clientSecret string
	refreshToken string
}

func (h *pseudoHost) Debug(msg string) { hublog.Debugf("%s", msg) }

func (h *pseudoHost) GetConfig(name string) (string, bool) {
	return "", false
}

func (h *pseudoHost) SetConfig(name, value string) {}

func (h *pseudoHost) GetCreds(name string) (user, password string, ok bool) {
	switch name {
	case "oauth_client":
		if h.clientID == "" || h.clientSecret == "" {
			return "", "", false
		}
		return h.clientID, h.clientSecret, true
	case "token":
		if h.refreshToken == "" {
			return "", "", false
		}
		return "hubic", h.refreshToken, true
	default:
		return "", "", false
	}
}

func (h *pseudoHost) SetCreds(name, user, password string) {
	if name == "token" {
		h.refreshToken = password
	}
}
