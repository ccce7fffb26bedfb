// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
)

// Environment variables that override file values.
const (
	EnvEvents    = "DIAGREPORT_EVENTS"
	EnvDirectory = "DIAGREPORT_DIRECTORY"
	EnvFilename  = "DIAGREPORT_FILENAME"
	EnvSignal    = "DIAGREPORT_SIGNAL"
	EnvFormat    = "DIAGREPORT_FORMAT"
	EnvLogLevel  = "DIAGREPORT_LOG_LEVEL"
	EnvHTTPToken = "DIAGREPORT_HTTP_TOKEN"
)

var (
	validate      *validator.Validate
	signalNameRx  = regexp.MustCompile(`^SIG[A-Z0-9]+$`)
	errNoHomePath = errors.New("could not find the user's home directory")
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("eventkind", validateEventKind)
	_ = validate.RegisterValidation("signame", validateSignalName)
}

func validateEventKind(fl validator.FieldLevel) bool {
	_, err := diagnostics.ParseEvents(fl.Field().String())
	return err == nil
}

// validateSignalName checks the form only. Whether the platform knows the
// signal is decided when the signal trigger is installed.
func validateSignalName(fl validator.FieldLevel) bool {
	s := strings.ToUpper(strings.TrimSpace(fl.Field().String()))
	if n, err := strconv.Atoi(s); err == nil {
		return n > 0 && n < 65
	}
	return signalNameRx.MatchString(s)
}

// DefaultPath returns ~/.diagreport/diagreport.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNoHomePath, err)
	}
	return filepath.Join(home, ".diagreport", "diagreport.yaml"), nil
}

// Load reads path, applies environment overrides and validates.
//
// # Description
//
// A missing file is not an error: the defaults are used. Fields absent from
// the file keep their default values because the file is decoded on top of
// DefaultConfig.
//
// # Inputs
//
//   - path: YAML file; empty selects DefaultPath
//
// # Outputs
//
//   - *Config: Validated configuration
//   - error: Read, parse or validation failure
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	ApplyEnv(&cfg, os.Getenv)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays DIAGREPORT_* variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvEvents); v != "" {
		cfg.Report.Events = splitList(v)
	}
	if v := getenv(EnvDirectory); v != "" {
		cfg.Report.Directory = v
	}
	if v := getenv(EnvFilename); v != "" {
		cfg.Report.Filename = v
	}
	if v := getenv(EnvSignal); v != "" {
		cfg.Report.Signal = v
	}
	if v := getenv(EnvFormat); v != "" {
		cfg.Report.Format = strings.ToLower(v)
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := getenv(EnvHTTPToken); v != "" {
		cfg.HTTP.Token = v
	}
}

// Validate runs struct tag validation and the filename pattern check.
// Failures are reported as *diagnostics.ConfigError.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &diagnostics.ConfigError{
				Field:  fe.Namespace(),
				Value:  fmt.Sprint(fe.Value()),
				Reason: "failed " + fe.Tag() + " validation",
			}
		}
		return err
	}
	if cfg.Report.Filename != "" && !diagnostics.IsStreamDestination(cfg.Report.Filename) {
		if _, err := diagnostics.ParseFilenamePattern(cfg.Report.Filename); err != nil {
			return err
		}
	}
	return nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal the default config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
