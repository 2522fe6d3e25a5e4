package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/packingslipsorter/internal/jobs"
	"github.com/Lllllllleong/packingslipsorter/internal/models"
	"github.com/Lllllllleong/packingslipsorter/internal/pdfio/pdfiotest"
)

func tablePage(orderID, sku string) string {
	return "Order ID: " + orderID + "\nProduct Name   Seller SKU   Qty\nWidget  " + sku + " 1\n"
}

func newTestSorter(t *testing.T) (*SorterFunction, *pdfiotest.Extractor) {
	t.Helper()
	config := defaultConfig()
	config.WorkDir = t.TempDir()
	ex := pdfiotest.NewExtractor()
	f, err := newSorter(config, ex, &pdfiotest.Writer{})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f, ex
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, content := range files {
		part, err := mw.CreateFormFile(UploadField, name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func submit(t *testing.T, f *SorterFunction, files map[string][]byte) models.SubmitResponse {
	t.Helper()
	body, contentType := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/SubmitSlips", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.HandleSubmit(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res models.SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func TestSorter_SubmitStatusArchive(t *testing.T) {
	f, ex := newTestSorter(t)
	ex.Register("000.pdf", tablePage("1001", "SKU123"), "", tablePage("1002", "SKU999"))

	res := submit(t, f, map[string][]byte{"slips.pdf": pdfiotest.Source("slips.pdf", 3)})
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, models.JobStatusPending, res.Status)
	f.runner.Wait()

	rec := httptest.NewRecorder()
	f.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/JobStatus?id="+res.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, models.JobStatusDone, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, []string{"SKU123.pdf", "SKU999.pdf"}, status.OutputNames)
	require.NotNil(t, status.ArchiveRef)
	assert.Equal(t, jobs.ArchiveName, *status.ArchiveRef)

	rec = httptest.NewRecorder()
	f.HandleArchive(rec, httptest.NewRequest(http.MethodGet, "/DownloadArchive?id="+res.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	assert.ElementsMatch(t, []string{"SKU123.pdf", "SKU999.pdf", "manifest.xlsx"}, names)
}

func TestSorter_StatusUnknownJob(t *testing.T) {
	f, _ := newTestSorter(t)

	rec := httptest.NewRecorder()
	f.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/JobStatus?id=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/JobStatus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSorter_ArchiveNotReady(t *testing.T) {
	f, _ := newTestSorter(t)
	pending := f.runner.Registry().Create()

	rec := httptest.NewRecorder()
	f.HandleArchive(rec, httptest.NewRequest(http.MethodGet, "/DownloadArchive?id="+pending.ID(), nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	f.HandleArchive(rec, httptest.NewRequest(http.MethodGet, "/DownloadArchive?id=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSorter_FailedJobReportsRetry(t *testing.T) {
	f, _ := newTestSorter(t)
	res := submit(t, f, map[string][]byte{"broken.pdf": []byte("garbage")})
	f.runner.Wait()

	status, err := f.Status(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, status.Status)
	assert.Contains(t, status.Message, "please retry")
	assert.Nil(t, status.ArchiveRef)
	assert.Empty(t, status.OutputNames)
}

func TestSorter_SubmitRejectsBadRequests(t *testing.T) {
	f, _ := newTestSorter(t)

	rec := httptest.NewRecorder()
	f.HandleSubmit(rec, httptest.NewRequest(http.MethodGet, "/SubmitSlips", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/SubmitSlips", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	f.HandleSubmit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/SubmitSlips", bytes.NewBufferString("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	f.HandleSubmit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSorter_SubmitRejectsOversizedUpload(t *testing.T) {
	f, _ := newTestSorter(t)
	f.config.MaxUploadBytes = 512

	body, contentType := multipartBody(t, map[string][]byte{"slips.pdf": bytes.Repeat([]byte("x"), 4096)})
	req := httptest.NewRequest(http.MethodPost, "/SubmitSlips", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.HandleSubmit(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, f.runner.Registry().Len())
}

func TestSorter_MetricsHandler(t *testing.T) {
	f, ex := newTestSorter(t)
	ex.Register("000.pdf", tablePage("1", "A"))
	submit(t, f, map[string][]byte{"slips.pdf": pdfiotest.Source("slips.pdf", 1)})
	f.runner.Wait()

	rec := httptest.NewRecorder()
	f.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/Metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `slipsorter_jobs_finished_total{status="done"} 1`)
	assert.Contains(t, string(body), `slipsorter_pages_classified_total{resolution="extracted"} 1`)
}

func TestSorter_ProcessGCSEventFilters(t *testing.T) {
	f, _ := newTestSorter(t)
	ctx := context.Background()

	assert.NoError(t, f.ProcessGCSEvent(ctx, GCSEvent{Bucket: "uploads", Name: "notes.txt"}))

	f.config.OutputBucket = "sorted"
	assert.NoError(t, f.ProcessGCSEvent(ctx, GCSEvent{Bucket: "sorted", Name: "jobs/x/A.pdf"}))

	assert.Error(t, f.ProcessGCSEvent(ctx, GCSEvent{Bucket: "uploads", Name: "slips.pdf"}))
}

func TestCompletion_NoIntegrations(t *testing.T) {
	c := &completion{}
	assert.NoError(t, c.JobCompleted(context.Background(), models.JobCompletedPayload{JobID: "j"}))
}
