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
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	LogLevelDebug string = "debug"
	LogLevelInfo  string = "info"
	LogLevelWarn  string = "warn"
	LogLevelError string = "error"
)

// Logs is the logging controller shared by every component.
type Logs struct {
	logger *logrus.Logger
}

func NewLogs(config *Config) *Logs {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	// Pretty console locally, JSON everywhere else.
	env := os.Getenv("ENVIRONMENT")
	if env == "" || env == "local" {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if config != nil && config.EnableDebugLog {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		switch os.Getenv("LOG_LEVEL") {
		case LogLevelDebug:
			logger.SetLevel(logrus.DebugLevel)
		case LogLevelWarn:
			logger.SetLevel(logrus.WarnLevel)
		case LogLevelError:
			logger.SetLevel(logrus.ErrorLevel)
		default:
			logger.SetLevel(logrus.InfoLevel)
		}
	}

	return &Logs{logger: logger}
}

// LogEvent writes a plain event at the given level.
func (logs *Logs) LogEvent(level string, message string) {
	switch level {
	case LogLevelDebug:
		logs.logger.Debug(message)
	case LogLevelWarn:
		logs.logger.Warn(message)
	case LogLevelError:
		logs.logger.Error(message)
	default:
		logs.logger.Info(message)
	}
}

// WithRequest returns an entry carrying request metadata.
func (logs *Logs) WithRequest(r *http.Request) *logrus.Entry {
	reqId := r.Header.Get("X-Request-ID")
	if reqId == "" {
		reqId = uuid.New().String()
	}

	return logs.logger.WithFields(logrus.Fields{
		"req_id":    reqId,
		"method":    r.Method,
		"path":      r.URL.Path,
		"remote_ip": r.RemoteAddr,
	})
}

// WithField returns an entry carrying a single extra field.
func (logs *Logs) WithField(key string, value any) *logrus.Entry {
	return logs.logger.WithField(key, value)
}

// WithError returns an entry carrying an error field.
func (logs *Logs) WithError(err error) *logrus.Entry {
	if err == nil {
		return logrus.NewEntry(logs.logger)
	}
	return logs.logger.WithField("error", err.Error())
}
