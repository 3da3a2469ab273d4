package api

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"wellbot/store"
	"wellbot/types"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Ingester interface {
	Ingest(ctx context.Context, name string, fileType types.FileType, data []byte) (*types.IngestSummary, error)
}

type DocumentResponse struct {
	types.Document
	Searchable bool `json:"searchable"`
}

type FileHandler struct {
	ingester Ingester
	docs     store.DocumentStorer
	timeout  time.Duration
}

func NewFileHandler(ingester Ingester, docs store.DocumentStorer, timeout time.Duration) *FileHandler {
	return &FileHandler{
		ingester: ingester,
		docs:     docs,
		timeout:  timeout,
	}
}

// HandleUpload ingests a multipart "file". The optional "file_type" form value
// overrides the type taken from the file extension.
func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewError(fiber.StatusBadRequest, "multipart field 'file' is required")
	}

	declared := c.FormValue("file_type")
	if declared == "" {
		declared = strings.ToLower(filepath.Ext(fileHeader.Filename))
	}
	fileType, ok := types.ParseFileType(declared)
	if !ok {
		return ErrUnsupportedFile(fileHeader.Filename)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	summary, err := h.ingester.Ingest(ctx, filepath.Base(fileHeader.Filename), fileType, data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(summary)
}

func (h *FileHandler) HandleList(c *fiber.Ctx) error {
	docs, err := h.docs.ListDocuments(c.UserContext())
	if err != nil {
		return err
	}
	resp := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		resp[i] = DocumentResponse{Document: d, Searchable: d.Searchable()}
	}
	return c.JSON(resp)
}

func (h *FileHandler) HandleGet(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	doc, err := h.docs.GetDocument(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound(id, "document")
	}
	if err != nil {
		return err
	}
	return c.JSON(DocumentResponse{Document: *doc, Searchable: doc.Searchable()})
}

// HandleDelete removes the document and every chunk it owns.
func (h *FileHandler) HandleDelete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	removed, err := h.docs.DeleteDocument(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound(id, "document")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": id, "chunks_removed": removed})
}
