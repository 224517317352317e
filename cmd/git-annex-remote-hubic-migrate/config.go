// Copyright (c) 2026, git-annex-remote-hubic contributors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// sidecarConfig is the local YAML sidecar the migration tool reads its
// OAuth2 client id/secret and refresh token from when they aren't passed on
// the command line. There is no git-annex host to proxy GETCONFIG/GETCREDS
// for this detached, one-shot tool (SPEC_FULL.md §6.1), so it keeps its own
// small config file instead, the way the teacher's internal/pkg/remote
// package keeps remote.yaml.
type sidecarConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

func readSidecarConfig(path string) (*sidecarConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &sidecarConfig{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg sidecarConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func writeSidecarConfig(path string, cfg *sidecarConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultSidecarPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "git-annex-remote-hubic-migrate.yaml"
	}
	return dir + "/git-annex-remote-hubic/migrate.yaml"
}
