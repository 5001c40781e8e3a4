/*
 * MIT License
 *
 * Copyright (c) 2026 The corelib Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package xcfg holds the tagged, validated configuration surface recognized
// by this module (spec §6's "Configuration surface" table). Loading these
// structs from a file/env is optional and lives in xcfg/file; the migration
// engine itself only ever consumes the plain Go structs below.
package xcfg

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dvbulk/corelib/xerr"
)

// SelectionStrategy selects which connection source to vend a client from.
type SelectionStrategy string

const (
	// StrategyRoundRobin cycles over the sources the pool offers it; the pool
	// only offers non-throttled sources, so it selects like StrategyThrottleAware.
	StrategyRoundRobin SelectionStrategy = "round_robin"
	// StrategyLeastInUse picks the source with fewest checked-out clients.
	StrategyLeastInUse SelectionStrategy = "least_in_use"
	// StrategyThrottleAware skips throttled sources, then round-robins. Default.
	StrategyThrottleAware SelectionStrategy = "throttle_aware"
)

// HardLimitPerIdentity is the absolute cap on a single source's DOP,
// regardless of what the service recommends (spec §3).
const HardLimitPerIdentity = 52

// PoolConfig is the Connection Pool's configuration surface.
type PoolConfig struct {
	SelectionStrategy         SelectionStrategy `json:"selection_strategy" yaml:"selection_strategy" toml:"selection_strategy" mapstructure:"selection_strategy" validate:"omitempty,oneof=round_robin least_in_use throttle_aware"`
	MaxConnectionsPerIdentity int               `json:"max_connections_per_identity" yaml:"max_connections_per_identity" toml:"max_connections_per_identity" mapstructure:"max_connections_per_identity" validate:"omitempty,min=1,max=52"`
	AcquireTimeout            time.Duration     `json:"acquire_timeout" yaml:"acquire_timeout" toml:"acquire_timeout" mapstructure:"acquire_timeout" validate:"omitempty,min=0"`
	MaxRetryAfterTolerance    time.Duration     `json:"max_retry_after_tolerance" yaml:"max_retry_after_tolerance" toml:"max_retry_after_tolerance" mapstructure:"max_retry_after_tolerance" validate:"omitempty,min=0"`
	DisableAffinityCookie     bool              `json:"disable_affinity_cookie" yaml:"disable_affinity_cookie" toml:"disable_affinity_cookie" mapstructure:"disable_affinity_cookie"`
}

// DefaultPoolConfig returns the defaults from spec §6's configuration table.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		SelectionStrategy:         StrategyThrottleAware,
		MaxConnectionsPerIdentity: HardLimitPerIdentity,
		AcquireTimeout:            120 * time.Second,
		MaxRetryAfterTolerance:    0,
		DisableAffinityCookie:     true,
	}
}

// ImportMode selects the per-record semantics used by the executor.
type ImportMode string

const (
	ImportCreate ImportMode = "create"
	ImportUpdate ImportMode = "update"
	ImportUpsert ImportMode = "upsert"
)

// ExecOptions is the Bulk Operation Executor's configuration surface.
type ExecOptions struct {
	BatchSize        int           `json:"batch_size" yaml:"batch_size" toml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1,max=1000"`
	ContinueOnError  bool          `json:"continue_on_error" yaml:"continue_on_error" toml:"continue_on_error" mapstructure:"continue_on_error"`
	BypassPlugins    bool          `json:"bypass_plugins" yaml:"bypass_plugins" toml:"bypass_plugins" mapstructure:"bypass_plugins"`
	BypassFlows      bool          `json:"bypass_flows" yaml:"bypass_flows" toml:"bypass_flows" mapstructure:"bypass_flows"`
	StripOwnerFields bool          `json:"strip_owner_fields" yaml:"strip_owner_fields" toml:"strip_owner_fields" mapstructure:"strip_owner_fields"`
	MaxBatchRetries  int           `json:"max_batch_retries" yaml:"max_batch_retries" toml:"max_batch_retries" mapstructure:"max_batch_retries" validate:"omitempty,min=0"`
	NetworkTimeout   time.Duration `json:"network_timeout" yaml:"network_timeout" toml:"network_timeout" mapstructure:"network_timeout" validate:"omitempty,min=0"`
}

// DefaultExecOptions returns the defaults from spec §4.4/§6.
func DefaultExecOptions() ExecOptions {
	return ExecOptions{
		BatchSize:        1000,
		ContinueOnError:  false,
		BypassPlugins:    false,
		BypassFlows:      false,
		StripOwnerFields: false,
		MaxBatchRetries:  5,
		NetworkTimeout:   2 * time.Minute,
	}
}

// ImporterOptions is the Tiered Importer's configuration surface.
type ImporterOptions struct {
	ImportMode      ImportMode `json:"import_mode" yaml:"import_mode" toml:"import_mode" mapstructure:"import_mode" validate:"omitempty,oneof=create update upsert"`
	ContinueOnError bool       `json:"continue_on_error" yaml:"continue_on_error" toml:"continue_on_error" mapstructure:"continue_on_error"`
	BypassPlugins   bool       `json:"bypass_plugins" yaml:"bypass_plugins" toml:"bypass_plugins" mapstructure:"bypass_plugins"`
	BypassFlows     bool       `json:"bypass_flows" yaml:"bypass_flows" toml:"bypass_flows" mapstructure:"bypass_flows"`
}

// DefaultImporterOptions returns the defaults from spec §4.6/§6.
func DefaultImporterOptions() ImporterOptions {
	return ImporterOptions{ImportMode: ImportUpsert}
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg, returning an xerr.Error
// classified as KindUnknown (configuration errors are fatal at startup, not
// part of the per-record failure taxonomy) when any field violates its tag.
func Validate(cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return xerr.Wrap(xerr.KindUnknown, err, "invalid configuration")
	}
	return nil
}
