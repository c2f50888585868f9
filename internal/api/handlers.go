package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/a3tai/formaudit/internal/batch"
	"github.com/a3tai/formaudit/internal/dashboard"
	"github.com/a3tai/formaudit/internal/logger"
	"github.com/a3tai/formaudit/internal/recognition"
	"github.com/a3tai/formaudit/internal/storage"
	"github.com/a3tai/formaudit/internal/workbook"
)

// Artifact describes a downloadable file.
type Artifact struct {
	ID   storage.ArtifactID `json:"id"`
	Name string             `json:"name"`
	// URL is the mirrored copy, when a mirror is configured.
	URL string `json:"url,omitempty"`
}

type extractRequest struct {
	Handle storage.Handle `json:"handle" binding:"required"`
}

type extractResponse struct {
	*batch.Result
	Workbook *Artifact `json:"workbook,omitempty"`
}

type dashboardRequest struct {
	// Artifact is a workbook id; empty uses the server's audit workbook.
	Artifact storage.ArtifactID `json:"artifact"`
	Month    int                `json:"month"`
	Year     int                `json:"year"`
}

type dashboardResponse struct {
	Report    dashboard.Report `json:"report"`
	Artifacts []Artifact       `json:"artifacts"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"schema":    s.schema.Version(),
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form with files required"})
		return
	}
	headers := form.File["files"]
	uploads := make([]storage.Upload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			closeAll(uploads)
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read " + h.Filename})
			return
		}
		uploads = append(uploads, storage.Upload{Name: h.Filename, Reader: f})
	}
	defer closeAll(uploads)

	handle, n, err := s.store.Stage(uploads)
	switch {
	case errors.Is(err, storage.ErrEmptyUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, storage.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.fail(c, http.StatusInternalServerError, "stage upload", err)
		return
	}
	logger.Info(c.Request.Context(), "upload staged", "handle", handle, "files", n)
	c.JSON(http.StatusCreated, gin.H{"handle": handle, "files": n})
}

func closeAll(uploads []storage.Upload) {
	for _, u := range uploads {
		if f, ok := u.Reader.(multipart.File); ok {
			f.Close()
		}
	}
}

func (s *Server) extract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "handle is required"})
		return
	}
	ctx := c.Request.Context()
	docs, err := s.store.Documents(req.Handle)
	if err != nil {
		if errors.Is(err, storage.ErrUnknownHandle) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.fail(c, http.StatusInternalServerError, "list documents", err)
		return
	}

	res, wbPath, err := s.runBatch(ctx, docs)
	if err != nil {
		status := statusFor(err)
		logger.Warn(ctx, "extraction failed", "handle", req.Handle, "status", status, "error", err)
		body := gin.H{"error": err.Error()}
		if res != nil {
			body["result"] = res
		}
		c.JSON(status, body)
		return
	}

	art, err := s.artifact(ctx, wbPath, res.BatchID)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "register workbook", err)
		return
	}
	c.JSON(http.StatusOK, extractResponse{Result: res, Workbook: &art})
}

// runBatch appends docs to the audit workbook and copies the result into a
// fresh artifact so later appends do not change what the caller downloads.
func (s *Server) runBatch(ctx context.Context, docs []recognition.Document) (*batch.Result, string, error) {
	s.appends.Lock()
	defer s.appends.Unlock()

	res, err := s.orchestrator.Run(ctx, docs, s.schema)
	if err != nil {
		return res, "", err
	}
	dst, err := s.store.ArtifactPath(filepath.Base(s.workbookPath))
	if err != nil {
		return res, "", err
	}
	if err := copyFile(s.workbookPath, dst); err != nil {
		return res, "", err
	}
	return res, dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy workbook: %w", err)
	}
	return out.Close()
}

func (s *Server) dashboard(c *gin.Context) {
	var req dashboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month and year are required"})
		return
	}
	ctx := c.Request.Context()

	wbPath := s.workbookPath
	if req.Artifact != "" {
		p, err := s.store.Resolve(req.Artifact)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		wbPath = p
	}
	slot, err := s.store.ArtifactPath("preview.html")
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "prepare dashboard", err)
		return
	}

	built, err := dashboard.Build(wbPath, s.schema, time.Month(req.Month), req.Year, s.now(), filepath.Dir(slot))
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		logger.Warn(ctx, "dashboard failed", "status", status, "error", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	prefix := fmt.Sprintf("dashboards/%04d-%02d/%s", req.Year, req.Month, filepath.Base(built.Dir))
	resp := dashboardResponse{Report: built.Report}
	for _, p := range append([]string{built.Excel, built.PDF, built.HTML}, built.Charts...) {
		art, err := s.artifact(ctx, p, prefix)
		if err != nil {
			s.fail(c, http.StatusInternalServerError, "register dashboard", err)
			return
		}
		resp.Artifacts = append(resp.Artifacts, art)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) download(c *gin.Context) {
	p, err := s.store.Resolve(storage.ArtifactID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	c.Header("Content-Type", storage.ContentType(p))
	c.FileAttachment(p, filepath.Base(p))
}

// artifact registers path for download and mirrors it under prefix when a
// mirror is configured. A mirror failure is logged and leaves URL empty.
func (s *Server) artifact(ctx context.Context, p, prefix string) (Artifact, error) {
	id, err := s.store.Register(p)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{ID: id, Name: filepath.Base(p)}
	if s.mirror != nil {
		url, err := s.mirror.Publish(ctx, p, path.Join(prefix, art.Name))
		if err != nil {
			logger.Warn(ctx, "mirror publish failed", "artifact", art.Name, "error", err)
		} else {
			art.URL = url
		}
	}
	return art, nil
}

func (s *Server) fail(c *gin.Context, status int, op string, err error) {
	logger.Error(c.Request.Context(), op+" failed", "error", err)
	c.JSON(status, gin.H{"error": op + " failed", "request_id": GetRequestID(c)})
}

func statusFor(err error) int {
	var mismatch *workbook.SchemaMismatchError
	switch {
	case errors.Is(err, batch.ErrBatchFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, batch.ErrNoDocuments), errors.Is(err, dashboard.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.As(err, &mismatch):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
