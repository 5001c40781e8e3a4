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

// Package source models one authenticated identity the pool draws clients
// from. A Source is immutable after construction; only its live DOP
// recommendation may change over its lifetime, read straight from the
// underlying client.
package source

import (
	"context"
	"fmt"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/xcfg"
	"github.com/dvbulk/corelib/xerr"
)

// Source is the core's view of one connection identity: a stable name, a
// seed client to clone from, and a live max_dop.
type Source interface {
	Name() string
	SeedClient() contract.ServiceClient
	MaxDOP() int
}

// Static is the default Source implementation: constructed once at startup
// from a seed client, with MaxDOP read live from that client but capped at
// xcfg.HardLimitPerIdentity.
type Static struct {
	name    string
	seed    contract.ServiceClient
	ceiling int
}

// Config is the input to New: the material needed to stand up one source.
type Config struct {
	Name    string
	Factory contract.ClientFactory
	// MaxDOPOverride, if > 0, takes precedence over the seed client's live
	// recommendation (still capped at HardLimitPerIdentity).
	MaxDOPOverride int
}

// New constructs a Source from cfg, calling Factory.NewSeedClient to obtain
// the authenticated seed client. Failure to construct a source is fatal to
// startup, per spec semantics — callers should not retry this.
func New(ctx context.Context, cfg Config) (*Static, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("source: name is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("source %q: factory is required", cfg.Name)
	}

	seed, err := cfg.Factory.NewSeedClient(ctx)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindConnectionFailed, err, "source %q: constructing seed client", cfg.Name)
	}

	ceiling := cfg.MaxDOPOverride
	if ceiling <= 0 {
		ceiling = xcfg.HardLimitPerIdentity
	}
	if ceiling > xcfg.HardLimitPerIdentity {
		ceiling = xcfg.HardLimitPerIdentity
	}

	return &Static{name: cfg.Name, seed: seed, ceiling: ceiling}, nil
}

func (s *Static) Name() string                       { return s.name }
func (s *Static) SeedClient() contract.ServiceClient { return s.seed }

// MaxDOP returns the live server-recommended concurrency for this source,
// capped at the configured ceiling (itself capped at HardLimitPerIdentity).
func (s *Static) MaxDOP() int {
	dop := s.seed.CurrentDOP()
	if dop <= 0 {
		dop = 1
	}
	if dop > s.ceiling {
		return s.ceiling
	}
	return dop
}

var _ Source = (*Static)(nil)
