// Copyright (C) 2025 Thinline Dynamic Solutions
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
)

// Files above this size take the asynchronous recognition path.
const ingestLongRunningBytes int64 = 8 * 1024 * 1024

// IngestWatcher transcribes audio files dropped into a watched
// directory as guest records. It is idle unless ingest_dir is
// configured.
type IngestWatcher struct {
	controller *Controller
	watcher    *fsnotify.Watcher
	mutex      sync.Mutex
	seen       map[string]bool
}

func NewIngestWatcher(controller *Controller) *IngestWatcher {
	return &IngestWatcher{
		controller: controller,
		seen:       map[string]bool{},
	}
}

func (ingest *IngestWatcher) Start() error {
	config := ingest.controller.Config

	if config.IngestDir == "" {
		return nil
	}

	dir := config.GetPath(config.IngestDir)
	if err := os.MkdirAll(dir, 0770); err != nil {
		return fmt.Errorf("failed to create ingest directory: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start ingest watcher: %v", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch ingest directory: %v", err)
	}

	ingest.watcher = watcher
	ingest.controller.Logs.LogEvent(LogLevelInfo, fmt.Sprintf("watching ingest directory %s", dir))

	go ingest.run()

	return nil
}

func (ingest *IngestWatcher) Stop() {
	if ingest.watcher != nil {
		ingest.watcher.Close()
	}
}

func (ingest *IngestWatcher) run() {
	for {
		select {
		case event, ok := <-ingest.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !ingestEligible(event.Name) {
				continue
			}
			if ingest.claim(event.Name) {
				go ingest.process(event.Name)
			}

		case err, ok := <-ingest.watcher.Errors:
			if !ok {
				return
			}
			ingest.controller.Logs.LogEvent(LogLevelWarn, fmt.Sprintf("ingest watcher: %v", err))
		}
	}
}

// ingestEligible accepts visible files with an allow-listed audio
// extension.
func ingestEligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return allowedExtensions[strings.ToLower(filepath.Ext(base))]
}

// claim marks a path as handled so repeated write events during a slow
// copy start only one pipeline.
func (ingest *IngestWatcher) claim(path string) bool {
	ingest.mutex.Lock()
	defer ingest.mutex.Unlock()

	if ingest.seen[path] {
		return false
	}
	ingest.seen[path] = true
	return true
}

func (ingest *IngestWatcher) process(path string) {
	controller := ingest.controller
	logs := controller.Logs

	if err := waitForSettle(path); err != nil {
		logs.LogEvent(LogLevelWarn, fmt.Sprintf("ingest: %s never settled: %v", path, err))
		return
	}

	stored, err := controller.Intake.IngestFile(path)
	if err != nil {
		logs.LogEvent(LogLevelWarn, fmt.Sprintf("ingest: rejected %s: %v", path, err))
		return
	}

	logs.LogEvent(LogLevelInfo, fmt.Sprintf("ingest: transcribing %s", stored.OriginalName))

	ctx := context.Background()
	options := TranscriptionOptions{}

	var result *TranscriptionResult
	if stored.Size > ingestLongRunningBytes {
		result, err = controller.Provider.TranscribeLongRunning(ctx, stored.Path, options)
	} else {
		result, err = controller.Provider.Transcribe(ctx, stored.Path, options)
	}

	record := &TranscriptionRecord{
		FileName:     stored.FileName,
		OriginalName: stored.OriginalName,
		FileSize:     stored.Size,
		MimeType:     stored.MimeType,
		FilePath:     stored.Path,
	}

	if err != nil {
		logs.LogEvent(LogLevelError, fmt.Sprintf("ingest: transcription failed for %s: %v", stored.OriginalName, err))
		controller.Intake.Remove(stored.Path)
		record.Status = TranscriptionStatusFailed
		record.ErrorMessage = err.Error()
	} else {
		record.TranscriptionText = result.Text
		record.Confidence = result.Confidence
		record.Language = result.Language
		record.Duration = result.Duration
		record.Status = TranscriptionStatusCompleted
		record.Metadata = &result.Metadata
	}

	if err := controller.Store.Create(record); err != nil {
		logs.LogEvent(LogLevelError, fmt.Sprintf("ingest: failed to save record for %s: %v", stored.OriginalName, err))
		return
	}

	controller.Hub.Broadcast(Guest, RecordEventCreated, record)

	if controller.Config.IngestDeleteAfter {
		if err := os.Remove(path); err != nil {
			logs.LogEvent(LogLevelWarn, fmt.Sprintf("ingest: failed to remove %s: %v", path, err))
		}
	}
}

// waitForSettle retries until two consecutive probes observe the same
// nonzero size, so partially copied files are not picked up. The retry
// only ever touches the local file, never the provider.
func waitForSettle(path string) error {
	lastSize := int64(-1)

	operation := func() error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() == 0 || info.Size() != lastSize {
			lastSize = info.Size()
			return fmt.Errorf("file %s still changing", path)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(operation, policy)
}
