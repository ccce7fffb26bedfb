// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive keeps copies of diagnostic reports in an embedded
// BadgerDB so they survive rotation of the report directory.
//
// An Archive is a diagnostics.Mirror: attach it with
// diagnostics.WithMirrors or Reporter.AddMirror and every report written
// to file is copied under its file name. Entries may carry a TTL, after
// which BadgerDB drops them.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/diagreport/pkg/diagnostics"
	"github.com/AleutianAI/diagreport/pkg/logging"
)

// Key prefixes. Report bodies and their metadata are stored separately so
// List does not read bodies.
const (
	bodyPrefix = "report/"
	metaPrefix = "meta/"
)

// ErrNotFound is returned when no archived report has the given name.
var ErrNotFound = errors.New("report not found in archive")

// Config configures an Archive.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in memory. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every write. Default: true via DefaultConfig.
	SyncWrites bool

	// TTL expires archived reports; zero keeps them forever.
	TTL time.Duration

	// GCInterval is how often value log GC runs; zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives BadgerDB's own messages; nil silences them.
	Logger *logging.Logger
}

// DefaultConfig returns durable settings for a database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts logging.Logger to badger.Logger.
type badgerLogger struct {
	logger *logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Archive stores reports in BadgerDB.
//
// # Thread Safety
//
// Archive is safe for concurrent use.
type Archive struct {
	db     *badger.DB
	ttl    time.Duration
	logger *logging.Logger

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

// Open opens or creates the database described by cfg.
//
// # Outputs
//
//   - *Archive: The open archive; call Close when done
//   - error: Invalid path or BadgerDB failure
func Open(cfg Config) (*Archive, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("archive path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	} else {
		logger = logging.Nop()
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	a := &Archive{db: db, ttl: cfg.TTL, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		a.stopGC = make(chan struct{})
		a.gcDone = make(chan struct{})
		go a.runGC(cfg.GCInterval, ratio)
	}
	return a, nil
}

// Name implements diagnostics.Mirror.
func (a *Archive) Name() string { return "badger" }

// Mirror implements diagnostics.Mirror by archiving content under
// report.Name.
func (a *Archive) Mirror(ctx context.Context, report diagnostics.StoredReport, content []byte) error {
	return a.Put(ctx, report, content)
}

// Put stores content and its metadata in one transaction.
func (a *Archive) Put(ctx context.Context, report diagnostics.StoredReport, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if report.Name == "" {
		return errors.New("archived report needs a name")
	}
	meta, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report metadata: %w", err)
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		body := badger.NewEntry([]byte(bodyPrefix+report.Name), content)
		info := badger.NewEntry([]byte(metaPrefix+report.Name), meta)
		if a.ttl > 0 {
			body = body.WithTTL(a.ttl)
			info = info.WithTTL(a.ttl)
		}
		if err := txn.SetEntry(body); err != nil {
			return err
		}
		return txn.SetEntry(info)
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", report.Name, err)
	}
	return nil
}

// Get returns the archived content of a report.
func (a *Archive) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(bodyPrefix + name))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from archive: %w", name, err)
	}
	return out, nil
}

// List returns the archived reports, newest first.
func (a *Archive) List(ctx context.Context) ([]diagnostics.StoredReport, error) {
	var out []diagnostics.StoredReport
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var st diagnostics.StoredReport
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &st)
			})
			if err != nil {
				a.logger.Warn("skipping unreadable archive entry", "key", string(it.Item().Key()), "error", err)
				continue
			}
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Delete removes a report. Deleting a missing report is not an error.
func (a *Archive) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(bodyPrefix + name)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + name))
	})
}

// Close stops GC and closes the database. Safe to call more than once.
func (a *Archive) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.stopGC != nil {
			close(a.stopGC)
			<-a.gcDone
		}
		err = a.db.Close()
	})
	return err
}

func (a *Archive) runGC(interval time.Duration, ratio float64) {
	defer close(a.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopGC:
			return
		case <-ticker.C:
			err := a.db.RunValueLogGC(ratio)
			switch {
			case err == nil:
				a.logger.Debug("archive value log GC completed")
			case errors.Is(err, badger.ErrNoRewrite):
			default:
				a.logger.Warn("archive value log GC failed", "error", err)
			}
		}
	}
}

var _ diagnostics.Mirror = (*Archive)(nil)
