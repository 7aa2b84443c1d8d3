package routes

import (
	"encoding/json"
	"net/http"
	"strings"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/civigraph/atlas/internal/queue"
	"github.com/civigraph/atlas/internal/server/middleware"
	"github.com/civigraph/atlas/internal/storage"
	"github.com/civigraph/atlas/pkg/logger"
)

// PostImportHandler accepts a CSV batch of events as multipart/form-data,
// parks it in S3 and enqueues it for the worker. The optional reconcile flag
// chains a duplicate reconciliation after the batch is ingested.
func PostImportHandler(c echo.Context) error {
	type postImportResponse struct {
		Message  string `json:"message"`
		ImportID string `json:"import_id,omitempty"`
		Key      string `json:"key,omitempty"`
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, postImportResponse{Message: "A file field is required"})
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".csv") {
		return c.JSON(http.StatusBadRequest, postImportResponse{Message: "Only CSV imports are supported"})
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, postImportResponse{Message: "Invalid request body"})
	}
	defer src.Close()

	importID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, postImportResponse{Message: "Internal server error"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	key := storage.ImportKey(importID)
	if err := storage.PutFile(ctx, app.S3, key, "text/csv", src); err != nil {
		logger.Error("Failed to upload import batch", "err", err)
		return c.JSON(http.StatusInternalServerError, postImportResponse{Message: "Internal server error"})
	}

	correlationID, _ := gonanoid.New()
	msg := queue.IngestBatchMsg{
		Message:       "Import batch uploaded",
		ImportID:      importID,
		Key:           key,
		CorrelationID: correlationID,
		Reconcile:     c.FormValue("reconcile") == "true",
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, postImportResponse{Message: "Internal server error"})
	}

	if err := queue.PublishFIFO(app.Queue, queue.IngestQueue, msgBytes); err != nil {
		logger.Error("Failed to enqueue import batch", "err", err)
		return c.JSON(http.StatusInternalServerError, postImportResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, postImportResponse{
		Message:  "Import accepted",
		ImportID: importID,
		Key:      key,
	})
}

// GetImportsHandler lists uploaded import batches with presigned download
// links for auditing.
func GetImportsHandler(c echo.Context) error {
	type importFile struct {
		Key         string `json:"key"`
		DownloadURL string `json:"download_url,omitempty"`
	}
	type getImportsResponse struct {
		Message string       `json:"message"`
		Imports []importFile `json:"imports"`
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	keys, err := storage.ListFilesWithPrefix(ctx, app.S3, storage.ImportPrefix+"/")
	if err != nil {
		logger.Error("Failed to list import batches", "err", err)
		return c.JSON(http.StatusInternalServerError, getImportsResponse{Message: "Internal server error"})
	}

	imports := make([]importFile, 0, len(keys))
	for _, key := range keys {
		link, err := storage.GenerateDownloadLink(ctx, app.S3, key)
		if err != nil {
			logger.Warn("Failed to presign import batch", "key", key, "err", err)
			link = ""
		}
		imports = append(imports, importFile{Key: key, DownloadURL: link})
	}

	return c.JSON(http.StatusOK, getImportsResponse{Message: "OK", Imports: imports})
}
