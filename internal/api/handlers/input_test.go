package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchfox-io/input-service/internal/api/middleware"
	"github.com/patchfox-io/input-service/internal/ingest"
	"github.com/patchfox-io/input-service/internal/rpc"
	"github.com/patchfox-io/input-service/internal/storage/storagetest"
)

const (
	testCommitHash = "0123456789abcdef0123456789abcdef01234567"
	testEventPURL  = "pkg:generic/acme/billing-service::main@git" +
		"?commithash=" + testCommitHash + "&commitdatetime=2026-08-30T10:00:00Z"
)

const testBlameContent = `{
	"project": "billing-service",
	"root": {
		"purl": "pkg:generic/acme/billing-service::main@git",
		"name": "billing-service",
		"children": [
			{"purl": "pkg:npm/lodash@4.17.21", "name": "lodash", "version": "4.17.21"}
		]
	}
}`

func newTestHandler(t *testing.T) (*InputHandler, *storagetest.Repository) {
	t.Helper()
	repo := storagetest.NewRepository()
	unpacker := ingest.NewUnpacker(t.TempDir(), 1<<20)
	service := ingest.NewService(repo, unpacker, "acme", zerolog.Nop())
	return NewInputHandler(service), repo
}

func buildEventArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	entries := map[string]string{
		"billing-service/pom.xml.blame.json": testBlameContent,
		"billing-service/scan.syft.json":     `{"artifacts": [], "source": {"name": "billing-service"}}`,
		"billing-service/env.buildmeta.json": `{"project": "billing-service", "packages": []}`,
	}
	for name, content := range entries {
		w, err := writer.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

func multipartUpload(t *testing.T, rawPURL string, archive []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if rawPURL != "" {
		require.NoError(t, form.WriteField(FieldDatasourceEvent, rawPURL))
	}
	if archive != nil {
		part, err := form.CreateFormFile(FieldEventFileData, "event.zip")
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(archive))
		require.NoError(t, err)
	}
	require.NoError(t, form.Close())
	return &body, form.FormDataContentType()
}

func doGitEvent(t *testing.T, handler *InputHandler, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, uuid.UUID) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/input/git", body)
	req.Header.Set("Content-Type", contentType)

	txid := uuid.New()
	ctx := context.WithValue(req.Context(), middleware.TxIDKey, txid)
	ctx = context.WithValue(ctx, middleware.ReceivedAtKey, time.Now().UTC())
	req = req.WithContext(ctx)

	recorder := httptest.NewRecorder()
	handler.GitEvent(recorder, req)
	return recorder, txid
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var envelope Envelope
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&envelope))
	return envelope
}

func TestGitEventAccepted(t *testing.T) {
	handler, repo := newTestHandler(t)
	body, contentType := multipartUpload(t, testEventPURL, buildEventArchive(t))

	recorder, txid := doGitEvent(t, handler, body, contentType)

	require.Equal(t, http.StatusAccepted, recorder.Code)
	envelope := decodeEnvelope(t, recorder)
	assert.Equal(t, http.StatusAccepted, envelope.Code)
	assert.Equal(t, txid, envelope.TxID)
	assert.NotEmpty(t, envelope.RequestReceivedAt)
	assert.Empty(t, envelope.ServerMessage)

	require.Len(t, repo.EventsByPURL, 1)
}

func TestGitEventMissingPURLField(t *testing.T) {
	handler, repo := newTestHandler(t)
	body, contentType := multipartUpload(t, "", buildEventArchive(t))

	recorder, _ := doGitEvent(t, handler, body, contentType)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	envelope := decodeEnvelope(t, recorder)
	assert.Contains(t, envelope.ServerMessage, FieldDatasourceEvent)
	assert.Empty(t, repo.EventsByPURL)
}

func TestGitEventMissingArchive(t *testing.T) {
	handler, repo := newTestHandler(t)
	body, contentType := multipartUpload(t, testEventPURL, nil)

	recorder, _ := doGitEvent(t, handler, body, contentType)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	envelope := decodeEnvelope(t, recorder)
	assert.Contains(t, envelope.ServerMessage, FieldEventFileData)
	assert.Empty(t, repo.EventsByPURL)
}

func TestGitEventInvalidPURL(t *testing.T) {
	handler, repo := newTestHandler(t)
	body, contentType := multipartUpload(t, "pkg:npm/not-a-datasource@1.0.0", buildEventArchive(t))

	recorder, _ := doGitEvent(t, handler, body, contentType)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, repo.EventsByPURL)
}

func TestGitEventDuplicateRejected(t *testing.T) {
	handler, _ := newTestHandler(t)

	body, contentType := multipartUpload(t, testEventPURL, buildEventArchive(t))
	recorder, _ := doGitEvent(t, handler, body, contentType)
	require.Equal(t, http.StatusAccepted, recorder.Code)

	body, contentType = multipartUpload(t, testEventPURL, buildEventArchive(t))
	recorder, _ = doGitEvent(t, handler, body, contentType)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGitEventStorageFailure(t *testing.T) {
	handler, repo := newTestHandler(t)
	repo.FailInsertEvents = assert.AnError

	body, contentType := multipartUpload(t, testEventPURL, buildEventArchive(t))
	recorder, _ := doGitEvent(t, handler, body, contentType)

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	envelope := decodeEnvelope(t, recorder)
	assert.Equal(t, "event could not be recorded", envelope.ServerMessage)
}

func TestBusGitEvent(t *testing.T) {
	handler, repo := newTestHandler(t)

	req := rpc.Request{
		TxID:          uuid.New(),
		Verb:          http.MethodPost,
		URI:           "/api/v1/input/git",
		ResponseTopic: "caller-responses",
		Data: map[string]any{
			FieldDatasourceEvent: testEventPURL,
			FieldEventFileData:   base64.StdEncoding.EncodeToString(buildEventArchive(t)),
		},
	}

	resp := handler.BusGitEvent(context.Background(), time.Now().UTC(), req)

	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, req.TxID, resp.TxID)
	require.Len(t, repo.EventsByPURL, 1)
}

func TestBusGitEventMissingData(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := rpc.Request{
		TxID:          uuid.New(),
		Verb:          http.MethodPost,
		URI:           "/api/v1/input/git",
		ResponseTopic: "caller-responses",
		Data:          map[string]any{FieldDatasourceEvent: testEventPURL},
	}

	resp := handler.BusGitEvent(context.Background(), time.Now().UTC(), req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestBusGitEventBadArchiveEncoding(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := rpc.Request{
		TxID:          uuid.New(),
		Verb:          http.MethodPost,
		URI:           "/api/v1/input/git",
		ResponseTopic: "caller-responses",
		Data: map[string]any{
			FieldDatasourceEvent: testEventPURL,
			FieldEventFileData:   "not base64!!",
		},
	}

	resp := handler.BusGitEvent(context.Background(), time.Now().UTC(), req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
