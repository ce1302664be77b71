// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caffix/queue"
)

// dumpRecord is one traffic artifact awaiting its write.
type dumpRecord struct {
	kind string
	body string
	when time.Time
}

// DumpWriter persists raw request and response traffic off the connection
// path: handlers enqueue, a single drainer goroutine writes.
type DumpWriter struct {
	dir   string
	queue queue.Queue
	done  chan struct{}
	log   *slog.Logger
}

// NewDumpWriter starts the drainer for dir.
func NewDumpWriter(dir string, logger *slog.Logger) (*DumpWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create the dump directory %s: %v", dir, err)
	}

	d := &DumpWriter{
		dir:   dir,
		queue: queue.NewQueue(),
		done:  make(chan struct{}),
		log:   logger.With("name", "dump"),
	}
	go d.drain()
	return d, nil
}

// DumpQuery records one inbound query line.
func (d *DumpWriter) DumpQuery(body string) {
	d.queue.Append(&dumpRecord{kind: "query", body: body, when: time.Now()})
}

// DumpResponse records one outbound response.
func (d *DumpWriter) DumpResponse(body string) {
	d.queue.Append(&dumpRecord{kind: "response", body: body, when: time.Now()})
}

// Stop shuts the drainer down after the queue empties.
func (d *DumpWriter) Stop() {
	close(d.done)
}

func (d *DumpWriter) drain() {
	for {
		select {
		case <-d.done:
			d.flush()
			return
		case <-d.queue.Signal():
			d.flush()
		}
	}
}

func (d *DumpWriter) flush() {
	for {
		element, ok := d.queue.Next()
		if !ok {
			return
		}

		rec := element.(*dumpRecord)
		name := fmt.Sprintf("%s_%d.txt", rec.kind, rec.when.UnixMilli())

		if err := os.WriteFile(filepath.Join(d.dir, name), []byte(rec.body), 0o644); err != nil {
			d.log.Warn("failed to write a traffic dump", "file", name, "err", err)
		}
	}
}
