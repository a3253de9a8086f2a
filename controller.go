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
)

// Controller owns every running component of the server and wires them
// together.
type Controller struct {
	Config   *Config
	Database *Database
	Logs     *Logs
	Provider TranscriptionProvider
	Store    TranscriptionStore
	Intake   *FileIntake
	Hub      *EventHub
	Ingest   *IngestWatcher
}

func NewController(config *Config) *Controller {
	controller := &Controller{
		Config: config,
		Logs:   NewLogs(config),
	}

	controller.Hub = NewEventHub(config, controller.Logs)
	controller.Ingest = NewIngestWatcher(controller)

	return controller
}

// Start opens the database, initializes the transcription provider and
// the ingest watcher. The HTTP listener is started separately by Serve.
func (controller *Controller) Start(ctx context.Context) error {
	var err error

	if controller.Database, err = NewDatabase(controller.Config); err != nil {
		return err
	}

	controller.Store = NewTranscriptions(controller.Database, controller.Logs)

	if controller.Intake, err = NewFileIntake(controller.Config.GetUploadsDirPath(), controller.Logs); err != nil {
		return err
	}

	provider := NewGoogleSpeechTranscription(ctx, controller.Config.GetGoogleCredentialsPath(), controller.Logs)
	controller.Provider = provider

	if provider.IsAvailable() {
		controller.Logs.LogEvent(LogLevelInfo, fmt.Sprintf("transcription provider ready: %s", provider.GetName()))
	} else {
		controller.Logs.LogEvent(LogLevelWarn, "transcription provider unavailable, uploads will fail until credentials are configured")
	}

	if err := controller.Ingest.Start(); err != nil {
		return err
	}

	return nil
}

func (controller *Controller) Stop() {
	controller.Ingest.Stop()

	if controller.Database != nil {
		controller.Database.Close()
	}

	controller.Logs.LogEvent(LogLevelInfo, "server stopped")
}
