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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

type Pagination struct {
	Total uint64 `json:"total"`
	Page  uint   `json:"page"`
	Limit uint   `json:"limit"`
	Pages uint64 `json:"pages"`
}

type apiResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (controller *Controller) apiRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", controller.handleRoot)
	mux.HandleFunc("POST /api/transcription/upload", controller.handleUpload)
	mux.HandleFunc("GET /api/transcription", controller.handleList)
	mux.HandleFunc("GET /api/transcription/statistics", controller.handleStatistics)
	mux.HandleFunc("GET /api/transcription/events", controller.handleEvents)
	mux.HandleFunc("GET /api/transcription/{id}", controller.handleGet)
	mux.HandleFunc("DELETE /api/transcription/{id}", controller.handleDelete)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, &apiResponse{Error: "Route not found"})
	})

	return controller.cors(controller.authenticate(mux))
}

// cors restricts cross-origin access to the configured frontend origin.
func (controller *Controller) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", controller.Config.FrontendUrl)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (controller *Controller) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Speech-to-Text API with Google Cloud is running!",
		"status":  "active",
		"version": Version,
	})
}

func (controller *Controller) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := controller.Logs.WithRequest(r)
	owner := userFromRequest(r)

	// Reject oversized requests before the multipart body is consumed;
	// the slack covers the non-file form fields and part headers.
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+512*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			writeJSON(w, http.StatusBadRequest, &apiResponse{
				Error:   "File too large",
				Message: "File size must be less than 25MB",
			})
			return
		}

		writeJSON(w, http.StatusBadRequest, &apiResponse{Error: "File upload error", Message: err.Error()})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &apiResponse{
			Error:   "No file uploaded",
			Message: "Please upload an audio file",
		})
		return
	}
	defer file.Close()

	if header.Size > MaxUploadSize {
		writeJSON(w, http.StatusBadRequest, &apiResponse{
			Error:   "File too large",
			Message: "File size must be less than 25MB",
		})
		return
	}

	stored, err := controller.Intake.Save(file, header)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &apiResponse{Error: "File upload error", Message: err.Error()})
		return
	}

	log.WithField("file", stored.OriginalName).WithField("size", stored.Size).Info("processing upload")

	options := TranscriptionOptions{LanguageCode: r.FormValue("languageCode")}
	if v := r.FormValue("sampleRateHertz"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			options.SampleRateHertz = int32(rate)
		}
	}

	result, err := controller.Provider.Transcribe(r.Context(), stored.Path, options)
	if err != nil {
		controller.failUpload(w, owner, stored, err)
		return
	}

	record := &TranscriptionRecord{
		UserId:            owner.Id,
		FileName:          stored.FileName,
		OriginalName:      stored.OriginalName,
		FileSize:          stored.Size,
		MimeType:          stored.MimeType,
		FilePath:          stored.Path,
		TranscriptionText: result.Text,
		Confidence:        result.Confidence,
		Language:          result.Language,
		Duration:          result.Duration,
		Status:            TranscriptionStatusCompleted,
		Metadata:          &result.Metadata,
	}

	if err := controller.Store.Create(record); err != nil {
		controller.failUpload(w, owner, stored, err)
		return
	}

	controller.Hub.Broadcast(owner, RecordEventCreated, record)

	writeJSON(w, http.StatusOK, &apiResponse{
		Success: true,
		Message: "Audio transcribed successfully",
		Data:    record,
	})
}

// failUpload cleans up the stored file, persists the failed attempt for
// audit and answers with the provider error. The audit write is
// best-effort: its own failure is only logged.
func (controller *Controller) failUpload(w http.ResponseWriter, owner UserRef, stored *StoredFile, cause error) {
	controller.Logs.LogEvent(LogLevelError, fmt.Sprintf("transcription failed for %s: %v", stored.OriginalName, cause))

	controller.Intake.Remove(stored.Path)

	failed := &TranscriptionRecord{
		UserId:            owner.Id,
		FileName:          stored.FileName,
		OriginalName:      stored.OriginalName,
		FileSize:          stored.Size,
		MimeType:          stored.MimeType,
		FilePath:          stored.Path,
		TranscriptionText: "",
		Status:            TranscriptionStatusFailed,
		ErrorMessage:      cause.Error(),
	}

	if err := controller.Store.Create(failed); err != nil {
		controller.Logs.LogEvent(LogLevelError, fmt.Sprintf("failed to save error record: %v", err))
	} else {
		controller.Hub.Broadcast(owner, RecordEventCreated, failed)
	}

	writeJSON(w, http.StatusInternalServerError, &apiResponse{
		Error:   "Transcription failed",
		Message: cause.Error(),
	})
}

func (controller *Controller) handleList(w http.ResponseWriter, r *http.Request) {
	owner := userFromRequest(r)
	query := r.URL.Query()

	options := ListOptions{
		Status:     query.Get("status"),
		SortBy:     query.Get("sortBy"),
		Descending: query.Get("order") != "asc",
	}

	if page, err := strconv.ParseUint(query.Get("page"), 10, 32); err == nil {
		options.Page = uint(page)
	}
	if limit, err := strconv.ParseUint(query.Get("limit"), 10, 32); err == nil {
		options.Limit = uint(limit)
	}
	if options.SortBy == "" {
		options.SortBy = "createdAt"
	}

	options = options.Normalize()

	records, total, err := controller.Store.List(owner, options)
	if err != nil {
		controller.Logs.LogEvent(LogLevelError, fmt.Sprintf("list transcriptions: %v", err))
		writeJSON(w, http.StatusInternalServerError, &apiResponse{Error: "Failed to fetch transcriptions", Message: err.Error()})
		return
	}

	pages := total / uint64(options.Limit)
	if total%uint64(options.Limit) != 0 {
		pages++
	}

	writeJSON(w, http.StatusOK, &apiResponse{
		Success: true,
		Data:    records,
		Pagination: &Pagination{
			Total: total,
			Page:  options.Page,
			Limit: options.Limit,
			Pages: pages,
		},
	})
}

func (controller *Controller) handleStatistics(w http.ResponseWriter, r *http.Request) {
	owner := userFromRequest(r)

	statistics, err := controller.Store.Statistics(owner)
	if err != nil {
		controller.Logs.LogEvent(LogLevelError, fmt.Sprintf("fetch statistics: %v", err))
		writeJSON(w, http.StatusInternalServerError, &apiResponse{Error: "Failed to fetch statistics", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, &apiResponse{Success: true, Data: statistics})
}

func (controller *Controller) handleGet(w http.ResponseWriter, r *http.Request) {
	owner := userFromRequest(r)

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, &apiResponse{Error: "Transcription not found"})
		return
	}

	record, err := controller.Store.GetById(owner, id)
	switch {
	case errors.Is(err, ErrTranscriptionNotFound):
		writeJSON(w, http.StatusNotFound, &apiResponse{Error: "Transcription not found"})
	case errors.Is(err, ErrAccessDenied):
		writeJSON(w, http.StatusForbidden, &apiResponse{
			Error:   "Access denied",
			Message: "You can only view your own transcriptions",
		})
	case err != nil:
		controller.Logs.LogEvent(LogLevelError, fmt.Sprintf("fetch transcription %d: %v", id, err))
		writeJSON(w, http.StatusInternalServerError, &apiResponse{Error: "Failed to fetch transcription", Message: err.Error()})
	default:
		writeJSON(w, http.StatusOK, &apiResponse{Success: true, Data: record})
	}
}

func (controller *Controller) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner := userFromRequest(r)

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, &apiResponse{Error: "Transcription not found"})
		return
	}

	record, err := controller.Store.Delete(owner, id)
	switch {
	case errors.Is(err, ErrTranscriptionNotFound):
		writeJSON(w, http.StatusNotFound, &apiResponse{Error: "Transcription not found"})
	case errors.Is(err, ErrAccessDenied):
		writeJSON(w, http.StatusForbidden, &apiResponse{
			Error:   "Access denied",
			Message: "You can only delete your own transcriptions",
		})
	case err != nil:
		controller.Logs.LogEvent(LogLevelError, fmt.Sprintf("delete transcription %d: %v", id, err))
		writeJSON(w, http.StatusInternalServerError, &apiResponse{Error: "Failed to delete transcription", Message: err.Error()})
	default:
		controller.Intake.Remove(record.FilePath)
		controller.Hub.Broadcast(owner, RecordEventDeleted, record)
		writeJSON(w, http.StatusOK, &apiResponse{Success: true, Message: "Transcription deleted successfully"})
	}
}
