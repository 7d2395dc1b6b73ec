// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package update

import (
	"io"
	"log/slog"

	"github.com/Thermoquad/ember/pkg/flash"
	"github.com/Thermoquad/ember/pkg/governor"
)

// Config holds the settings shared by the Bootloader and its Sessions
type Config struct {
	// Threshold is the number of consecutive failures that aborts a session
	Threshold int

	// Layout places the metadata word and the firmware image in flash
	Layout flash.Layout

	// EagerMetadata commits the metadata record as soon as the start frame
	// is accepted instead of after the end frame
	EagerMetadata bool

	// Logger receives the debug trace. Nil discards it.
	Logger *slog.Logger

	// Resetter is invoked when a session aborts. Nil does nothing.
	Resetter Resetter

	// Console receives the release message before booting. Nil discards it.
	Console io.Writer

	// InitialFirmware is installed with InitialMessage whenever the
	// bootloader starts on a blank device
	InitialFirmware []byte
	InitialMessage  string
}

// DefaultConfig returns the reference configuration
func DefaultConfig() Config {
	return Config{
		Threshold: governor.DefaultThreshold,
		Layout:    flash.DefaultLayout(),
	}
}

// Option configures a Session or Bootloader
type Option func(*Config)

// WithThreshold sets the abort threshold
func WithThreshold(n int) Option {
	return func(c *Config) {
		c.Threshold = n
	}
}

// WithLayout sets the flash layout
func WithLayout(l flash.Layout) Option {
	return func(c *Config) {
		c.Layout = l
	}
}

// WithPageSize overrides the flash page size of the layout
func WithPageSize(size int) Option {
	return func(c *Config) {
		c.Layout.PageSize = size
	}
}

// WithEagerMetadata commits metadata when the start frame is accepted
func WithEagerMetadata(eager bool) Option {
	return func(c *Config) {
		c.EagerMetadata = eager
	}
}

// WithLogger sets the debug logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithResetter sets the reset primitive invoked on abort
func WithResetter(r Resetter) Option {
	return func(c *Config) {
		c.Resetter = r
	}
}

// WithConsole sets the debug channel the release message is printed on
func WithConsole(w io.Writer) Option {
	return func(c *Config) {
		c.Console = w
	}
}

// WithInitialImage sets the image installed on a blank device
func WithInitialImage(firmware []byte, message string) Option {
	return func(c *Config) {
		c.InitialFirmware = firmware
		c.InitialMessage = message
	}
}

func newConfig(opts []Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Layout.Validate(); err != nil {
		return cfg, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Console == nil {
		cfg.Console = io.Discard
	}
	if cfg.Resetter == nil {
		cfg.Resetter = ResetFunc(func() {})
	}
	return cfg, nil
}
