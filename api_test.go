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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type fakeProvider struct {
	result *TranscriptionResult
	err    error
	calls  int
}

func (provider *fakeProvider) Transcribe(ctx context.Context, path string, options TranscriptionOptions) (*TranscriptionResult, error) {
	provider.calls++
	if provider.err != nil {
		return nil, provider.err
	}
	return provider.result, nil
}

func (provider *fakeProvider) TranscribeLongRunning(ctx context.Context, path string, options TranscriptionOptions) (*TranscriptionResult, error) {
	return provider.Transcribe(ctx, path, options)
}

func (provider *fakeProvider) IsAvailable() bool { return true }

func (provider *fakeProvider) GetName() string { return "fake" }

// fakeStore is an in-memory TranscriptionStore mirroring the write-time
// invariants of the PostgreSQL implementation.
type fakeStore struct {
	mutex   sync.Mutex
	nextId  uint64
	records []*TranscriptionRecord
}

func (store *fakeStore) Create(record *TranscriptionRecord) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record.WordCount = computeWordCount(record.TranscriptionText)

	now := time.Now().UnixMilli()
	record.CreatedAt = now
	record.UpdatedAt = now

	if record.Language == "" {
		record.Language = "en-US"
	}
	if record.Status == "" {
		record.Status = TranscriptionStatusCompleted
	}

	store.nextId++
	record.Id = store.nextId

	stored := *record
	store.records = append(store.records, &stored)

	return nil
}

func (store *fakeStore) List(owner UserRef, options ListOptions) ([]*TranscriptionRecord, uint64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	options = options.Normalize()

	matched := []*TranscriptionRecord{}
	for _, record := range store.records {
		if !ownerMatches(owner, record) {
			continue
		}
		if options.Status != "" && record.Status != options.Status {
			continue
		}
		matched = append(matched, record)
	}

	sort.Slice(matched, func(i, j int) bool {
		if options.Descending {
			return matched[i].Id > matched[j].Id
		}
		return matched[i].Id < matched[j].Id
	})

	total := uint64(len(matched))

	start := (options.Page - 1) * options.Limit
	if uint64(start) >= total {
		return []*TranscriptionRecord{}, total, nil
	}

	end := start + options.Limit
	if uint64(end) > total {
		end = uint(total)
	}

	return matched[start:end], total, nil
}

func (store *fakeStore) GetById(owner UserRef, id uint64) (*TranscriptionRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	for _, record := range store.records {
		if record.Id == id {
			if !ownerMatches(owner, record) {
				return nil, ErrAccessDenied
			}
			return record, nil
		}
	}

	return nil, ErrTranscriptionNotFound
}

func (store *fakeStore) Delete(owner UserRef, id uint64) (*TranscriptionRecord, error) {
	record, err := store.GetById(owner, id)
	if err != nil {
		return nil, err
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	for i, candidate := range store.records {
		if candidate.Id == id {
			store.records = append(store.records[:i], store.records[i+1:]...)
			break
		}
	}

	return record, nil
}

func (store *fakeStore) Statistics(owner UserRef) (*TranscriptionStatistics, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	statistics := &TranscriptionStatistics{}
	for _, record := range store.records {
		if !ownerMatches(owner, record) {
			continue
		}
		statistics.TotalTranscriptions++
		switch record.Status {
		case TranscriptionStatusCompleted:
			statistics.Completed++
		case TranscriptionStatusFailed:
			statistics.Failed++
		}
		statistics.TotalDuration += record.Duration
		statistics.TotalSize += record.FileSize
	}

	statistics.Processing = statistics.TotalTranscriptions - statistics.Completed - statistics.Failed

	return statistics, nil
}

func newTestController(t *testing.T) (*Controller, *fakeProvider, *fakeStore) {
	t.Helper()

	logs := NewLogs(nil)
	config := &Config{
		FrontendUrl: "http://localhost:5173",
		JwtSecret:   testJwtSecret,
	}

	intake, err := NewFileIntake(t.TempDir(), logs)
	if err != nil {
		t.Fatalf("NewFileIntake: %v", err)
	}

	provider := &fakeProvider{
		result: &TranscriptionResult{
			Text:       "hello world",
			Confidence: 0.9,
			Language:   "en-US",
			Duration:   2.5,
		},
	}
	store := &fakeStore{}

	controller := &Controller{
		Config:   config,
		Logs:     logs,
		Provider: provider,
		Store:    store,
		Intake:   intake,
		Hub:      NewEventHub(config, logs),
	}

	return controller, provider, store
}

type testEnvelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
}

func doRequest(t *testing.T, controller *Controller, r *http.Request) (*httptest.ResponseRecorder, *testEnvelope) {
	t.Helper()

	w := httptest.NewRecorder()
	controller.apiRouter().ServeHTTP(w, r)

	envelope := &testEnvelope{}
	if err := json.Unmarshal(w.Body.Bytes(), envelope); err != nil {
		t.Fatalf("response is not a JSON envelope: %v (%s)", err, w.Body.String())
	}

	return w, envelope
}

func newUploadRequest(t *testing.T, filename, contentType string, content []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/transcription/upload", body)
	r.Header.Set("Content-Type", writer.FormDataContentType())

	return r
}

func authorize(t *testing.T, r *http.Request, userId string) *http.Request {
	t.Helper()

	token := signTestToken(t, testJwtSecret, jwt.MapClaims{"userId": userId})
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func uploadsCount(t *testing.T, controller *Controller) int {
	t.Helper()

	entries, err := os.ReadDir(controller.Intake.Dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestHandleRoot(t *testing.T) {
	controller, _, _ := newTestController(t)

	w := httptest.NewRecorder()
	controller.apiRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	info := map[string]string{}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info["status"] != "active" {
		t.Errorf("status field = %q", info["status"])
	}
}

func TestUnknownRoute(t *testing.T) {
	controller, _, _ := newTestController(t)

	w, envelope := doRequest(t, controller, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if envelope.Error != "Route not found" {
		t.Errorf("error = %q", envelope.Error)
	}
}

func TestCorsPreflight(t *testing.T) {
	controller, _, _ := newTestController(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/api/transcription", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	controller.apiRouter().ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestHandleUploadSuccess(t *testing.T) {
	controller, provider, store := newTestController(t)

	r := newUploadRequest(t, "clip.wav", "audio/wav", []byte("RIFF fake audio"))
	w, envelope := doRequest(t, controller, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !envelope.Success || envelope.Message != "Audio transcribed successfully" {
		t.Errorf("envelope = %+v", envelope)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times", provider.calls)
	}

	record := &TranscriptionRecord{}
	if err := json.Unmarshal(envelope.Data, record); err != nil {
		t.Fatal(err)
	}
	if record.TranscriptionText != "hello world" {
		t.Errorf("transcriptionText = %q", record.TranscriptionText)
	}
	if record.WordCount != 2 {
		t.Errorf("wordCount = %d, want 2", record.WordCount)
	}
	if record.Status != TranscriptionStatusCompleted {
		t.Errorf("status = %q", record.Status)
	}

	if len(store.records) != 1 {
		t.Errorf("store has %d records", len(store.records))
	}
	if uploadsCount(t, controller) != 1 {
		t.Error("stored audio file missing")
	}
}

func TestHandleUploadOwnership(t *testing.T) {
	controller, _, store := newTestController(t)

	r := authorize(t, newUploadRequest(t, "clip.wav", "audio/wav", []byte("xx")), "user-42")
	w, _ := doRequest(t, controller, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if store.records[0].UserId != "user-42" {
		t.Errorf("record owner = %q, want user-42", store.records[0].UserId)
	}
}

func TestHandleUploadNoFile(t *testing.T) {
	controller, provider, _ := newTestController(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("languageCode", "en-US")
	writer.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/transcription/upload", body)
	r.Header.Set("Content-Type", writer.FormDataContentType())

	w, envelope := doRequest(t, controller, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if envelope.Error != "No file uploaded" {
		t.Errorf("error = %q", envelope.Error)
	}
	if provider.calls != 0 {
		t.Error("provider should not be called without a file")
	}
}

func TestHandleUploadRejectsInvalidType(t *testing.T) {
	controller, provider, store := newTestController(t)

	r := newUploadRequest(t, "notes.txt", "text/plain", []byte("not audio"))
	w, envelope := doRequest(t, controller, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if envelope.Error != "File upload error" {
		t.Errorf("error = %q", envelope.Error)
	}
	if provider.calls != 0 {
		t.Error("provider should not see a rejected file")
	}
	if len(store.records) != 0 {
		t.Error("rejected upload must not create a record")
	}
	if uploadsCount(t, controller) != 0 {
		t.Error("rejected upload must not leave a file behind")
	}
}

func TestHandleUploadTooLarge(t *testing.T) {
	controller, provider, store := newTestController(t)

	r := newUploadRequest(t, "big.wav", "audio/wav", make([]byte, MaxUploadSize+1024*1024))
	w, envelope := doRequest(t, controller, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if envelope.Error != "File too large" {
		t.Errorf("error = %q", envelope.Error)
	}
	if envelope.Message != "File size must be less than 25MB" {
		t.Errorf("message = %q", envelope.Message)
	}
	if provider.calls != 0 {
		t.Error("provider should not see an oversized upload")
	}
	if len(store.records) != 0 {
		t.Error("oversized upload must not create a record")
	}
}

func TestHandleUploadProviderFailure(t *testing.T) {
	controller, provider, store := newTestController(t)
	provider.err = ErrNoTranscriptionResults

	r := newUploadRequest(t, "clip.wav", "audio/wav", []byte("xx"))
	w, envelope := doRequest(t, controller, r)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if envelope.Error != "Transcription failed" {
		t.Errorf("error = %q", envelope.Error)
	}

	// The failed attempt is kept for audit but its audio file is not.
	if len(store.records) != 1 {
		t.Fatalf("store has %d records, want the failed audit record", len(store.records))
	}
	failed := store.records[0]
	if failed.Status != TranscriptionStatusFailed {
		t.Errorf("status = %q, want failed", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Error("failed record must carry the error message")
	}
	if uploadsCount(t, controller) != 0 {
		t.Error("audio of a failed transcription must be removed")
	}
}

func seedRecords(t *testing.T, store *fakeStore, userId string, count int, status string) {
	t.Helper()

	for i := 0; i < count; i++ {
		record := &TranscriptionRecord{
			UserId:            userId,
			FileName:          fmt.Sprintf("f%d.wav", i),
			OriginalName:      fmt.Sprintf("f%d.wav", i),
			FileSize:          100,
			TranscriptionText: "one two three",
			Duration:          10,
			Status:            status,
		}
		if err := store.Create(record); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHandleListPagination(t *testing.T) {
	controller, _, store := newTestController(t)

	seedRecords(t, store, "", 25, TranscriptionStatusCompleted)
	seedRecords(t, store, "user-42", 5, TranscriptionStatusCompleted)

	w, envelope := doRequest(t, controller, httptest.NewRequest(http.MethodGet, "/api/transcription?page=2&limit=10", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	records := []*TranscriptionRecord{}
	if err := json.Unmarshal(envelope.Data, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 10 {
		t.Errorf("page has %d records, want 10", len(records))
	}

	// Guests never see the authenticated user's records.
	if envelope.Pagination == nil {
		t.Fatal("pagination missing")
	}
	if envelope.Pagination.Total != 25 {
		t.Errorf("total = %d, want 25", envelope.Pagination.Total)
	}
	if envelope.Pagination.Pages != 3 {
		t.Errorf("pages = %d, want 3", envelope.Pagination.Pages)
	}
	if envelope.Pagination.Page != 2 {
		t.Errorf("page = %d, want 2", envelope.Pagination.Page)
	}
}

func TestHandleListStatusFilter(t *testing.T) {
	controller, _, store := newTestController(t)

	seedRecords(t, store, "", 3, TranscriptionStatusCompleted)
	seedRecords(t, store, "", 2, TranscriptionStatusFailed)

	_, envelope := doRequest(t, controller, httptest.NewRequest(http.MethodGet, "/api/transcription?status=failed", nil))

	if envelope.Pagination.Total != 2 {
		t.Errorf("total = %d, want 2 failed records", envelope.Pagination.Total)
	}
}

func TestHandleGetOwnership(t *testing.T) {
	controller, _, store := newTestController(t)

	seedRecords(t, store, "user-42", 1, TranscriptionStatusCompleted)
	id := store.records[0].Id

	// A missing record is 404 whoever asks.
	w, envelope := doRequest(t, controller, httptest.NewRequest(http.MethodGet, "/api/transcription/9999", nil))
	if w.Code != http.StatusNotFound || envelope.Error != "Transcription not found" {
		t.Errorf("missing record: status = %d, error = %q", w.Code, envelope.Error)
	}

	// A record owned by someone else is 403.
	w, envelope = doRequest(t, controller, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/transcription/%d", id), nil))
	if w.Code != http.StatusForbidden || envelope.Error != "Access denied" {
		t.Errorf("foreign record: status = %d, error = %q", w.Code, envelope.Error)
	}

	// A malformed id reads as not found, not a server error.
	w, _ = doRequest(t, controller, httptest.NewRequest(http.MethodGet, "/api/transcription/abc", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("malformed id: status = %d, want 404", w.Code)
	}

	// The owner sees it.
	r := authorize(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/transcription/%d", id), nil), "user-42")
	w, envelope = doRequest(t, controller, r)
	if w.Code != http.StatusOK || !envelope.Success {
		t.Errorf("owner read: status = %d, envelope = %+v", w.Code, envelope)
	}
}

func TestHandleDelete(t *testing.T) {
	controller, _, store := newTestController(t)

	// A real stored file so delete can clean it up.
	r := newUploadRequest(t, "clip.wav", "audio/wav", []byte("RIFF fake audio"))
	if w, _ := doRequest(t, controller, r); w.Code != http.StatusOK {
		t.Fatalf("seed upload failed: %d", w.Code)
	}
	id := store.records[0].Id

	w, envelope := doRequest(t, controller, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/transcription/%d", id), nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if envelope.Message != "Transcription deleted successfully" {
		t.Errorf("message = %q", envelope.Message)
	}
	if len(store.records) != 0 {
		t.Error("record should be gone")
	}
	if uploadsCount(t, controller) != 0 {
		t.Error("audio file should be gone")
	}

	// Deleting again is 404.
	w, _ = doRequest(t, controller, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/transcription/%d", id), nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
}

func TestHandleDeleteForeignRecord(t *testing.T) {
	controller, _, store := newTestController(t)

	seedRecords(t, store, "user-42", 1, TranscriptionStatusCompleted)
	id := store.records[0].Id

	w, envelope := doRequest(t, controller, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/transcription/%d", id), nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if envelope.Error != "Access denied" {
		t.Errorf("error = %q", envelope.Error)
	}
	if len(store.records) != 1 {
		t.Error("foreign record must survive the attempt")
	}
}

func TestHandleStatistics(t *testing.T) {
	controller, _, store := newTestController(t)

	seedRecords(t, store, "", 3, TranscriptionStatusCompleted)
	seedRecords(t, store, "", 1, TranscriptionStatusFailed)
	seedRecords(t, store, "", 1, TranscriptionStatusProcessing)
	seedRecords(t, store, "user-42", 4, TranscriptionStatusCompleted)

	_, envelope := doRequest(t, controller, httptest.NewRequest(http.MethodGet, "/api/transcription/statistics", nil))

	statistics := &TranscriptionStatistics{}
	if err := json.Unmarshal(envelope.Data, statistics); err != nil {
		t.Fatal(err)
	}

	if statistics.TotalTranscriptions != 5 {
		t.Errorf("totalTranscriptions = %d, want 5", statistics.TotalTranscriptions)
	}
	if statistics.Completed != 3 || statistics.Failed != 1 || statistics.Processing != 1 {
		t.Errorf("completed/failed/processing = %d/%d/%d, want 3/1/1",
			statistics.Completed, statistics.Failed, statistics.Processing)
	}
	if statistics.TotalDuration != 50 {
		t.Errorf("totalDuration = %v, want 50", statistics.TotalDuration)
	}
	if statistics.TotalSize != 500 {
		t.Errorf("totalSize = %d, want 500", statistics.TotalSize)
	}
}
