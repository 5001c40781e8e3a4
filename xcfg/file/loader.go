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

// Package file loads xcfg structs from disk (or environment) via viper, with
// optional live-reload on change notified through fsnotify. This is strictly
// optional plumbing: callers embedding this module as a library can just
// construct xcfg structs directly and skip this package entirely.
package file

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/dvbulk/corelib/xcfg"
	"github.com/dvbulk/corelib/xerr"
)

// Bundle is the full on-disk configuration document: pool, executor and
// importer sections under one file.
type Bundle struct {
	Pool     xcfg.PoolConfig      `json:"pool" yaml:"pool" mapstructure:"pool"`
	Exec     xcfg.ExecOptions     `json:"exec" yaml:"exec" mapstructure:"exec"`
	Importer xcfg.ImporterOptions `json:"importer" yaml:"importer" mapstructure:"importer"`
}

// DefaultBundle returns a Bundle seeded with every section's defaults.
func DefaultBundle() Bundle {
	return Bundle{
		Pool:     xcfg.DefaultPoolConfig(),
		Exec:     xcfg.DefaultExecOptions(),
		Importer: xcfg.DefaultImporterOptions(),
	}
}

// Watcher loads a Bundle from path and optionally watches it for changes.
type Watcher struct {
	v  *viper.Viper
	mu sync.RWMutex
	b  Bundle

	onChange func(Bundle)
}

// Load reads path (any extension viper supports: yaml, json, toml) into a
// Bundle, also binding environment variables prefixed DVBULK_ with "_" in
// place of ".", e.g. DVBULK_POOL_MAX_CONNECTIONS_PER_IDENTITY.
func Load(path string) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("dvbulk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultBundle()
	v.SetDefault("pool", def.Pool)
	v.SetDefault("exec", def.Exec)
	v.SetDefault("importer", def.Importer)

	if err := v.ReadInConfig(); err != nil {
		return nil, xerr.Wrap(xerr.KindUnknown, err, "reading configuration file %q", path)
	}

	w := &Watcher{v: v}
	if err := w.reload(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Watcher) reload() error {
	var b Bundle
	if err := w.v.Unmarshal(&b); err != nil {
		return xerr.Wrap(xerr.KindUnknown, err, "decoding configuration")
	}
	if err := xcfg.Validate(b.Pool); err != nil {
		return fmt.Errorf("pool section: %w", err)
	}
	if err := xcfg.Validate(b.Exec); err != nil {
		return fmt.Errorf("exec section: %w", err)
	}
	if err := xcfg.Validate(b.Importer); err != nil {
		return fmt.Errorf("importer section: %w", err)
	}

	w.mu.Lock()
	w.b = b
	w.mu.Unlock()
	return nil
}

// Bundle returns the most recently loaded configuration.
func (w *Watcher) Bundle() Bundle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.b
}

// WatchForChanges starts watching the config file for writes, calling fn
// with the newly-loaded Bundle on every successful reload. Invalid rewrites
// are logged via the returned error channel and otherwise ignored, leaving
// the last-good Bundle in place.
func (w *Watcher) WatchForChanges(fn func(Bundle)) <-chan error {
	errs := make(chan error, 1)
	w.onChange = fn

	w.v.OnConfigChange(func(e fsnotify.Event) {
		if err := w.reload(); err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		if w.onChange != nil {
			w.onChange(w.Bundle())
		}
	})
	w.v.WatchConfig()

	return errs
}
