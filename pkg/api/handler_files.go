package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/skillforge/skillforge/pkg/httperr"
)

type initUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	TotalChunks int    `json:"total_chunks" binding:"required"`
	TotalSize   int64  `json:"total_size"`
	TargetPath  string `json:"target_path,omitempty"`
}

type initUploadResponse struct {
	UploadID  string `json:"upload_id"`
	ChunkSize int64  `json:"chunk_size"`
}

// initUploadHandler handles POST /api/files/init-upload.
func (s *Server) initUploadHandler(c *gin.Context) {
	userID := userIDFromContext(c)
	var req initUploadRequest
	if !bindJSONOrAbort(c, &req) {
		return
	}
	sess, err := s.uploads.Init(c.Request.Context(), userID, req.Filename, req.TotalChunks, req.TotalSize, req.TargetPath)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, initUploadResponse{UploadID: sess.UploadID, ChunkSize: s.uploads.ChunkSize()})
}

// uploadChunkHandler handles POST /api/files/upload-chunk (multipart).
func (s *Server) uploadChunkHandler(c *gin.Context) {
	uploadID := c.PostForm("upload_id")
	chunkIndex, err := strconv.Atoi(c.PostForm("chunk_index"))
	if err != nil {
		abortWithError(c, httperr.NewValidationError("chunk_index", "must be an integer"))
		return
	}

	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		abortWithError(c, httperr.NewValidationError("chunk", "multipart file is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer f.Close()
	data := make([]byte, fileHeader.Size)
	if _, err := io.ReadFull(f, data); err != nil {
		abortWithError(c, err)
		return
	}

	if err := s.uploads.SaveChunk(c.Request.Context(), uploadID, chunkIndex, data); err != nil {
		abortWithError(c, err)
		return
	}

	sess, err := s.uploads.Progress(c.Request.Context(), uploadID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"chunk_index":    chunkIndex,
		"received_count": len(sess.Received),
	})
}

type completeUploadRequest struct {
	UploadID   string `json:"upload_id" binding:"required"`
	TargetPath string `json:"target_path,omitempty"`
}

// completeUploadHandler handles POST /api/files/complete-upload.
func (s *Server) completeUploadHandler(c *gin.Context) {
	userID := userIDFromContext(c)
	var req completeUploadRequest
	if !bindJSONOrAbort(c, &req) {
		return
	}
	path, err := s.uploads.Complete(c.Request.Context(), req.UploadID, userID, req.TargetPath)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": path})
}

// cancelUploadHandler handles DELETE /api/files/upload/:upload_id.
func (s *Server) cancelUploadHandler(c *gin.Context) {
	uploadID := c.Param("upload_id")
	if err := s.uploads.Cancel(c.Request.Context(), uploadID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// uploadProgressHandler handles GET /api/files/upload/:upload_id/progress.
func (s *Server) uploadProgressHandler(c *gin.Context) {
	uploadID := c.Param("upload_id")
	sess, err := s.uploads.Progress(c.Request.Context(), uploadID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"upload_id":      sess.UploadID,
		"total_chunks":   sess.TotalChunks,
		"received":       sess.ReceivedList(),
		"received_count": len(sess.Received),
		"complete":       sess.Complete(),
	})
}

// uploadSimpleHandler handles POST /api/files/upload-simple (multipart),
// bypassing the chunked flow for small files (spec.md §6: "413 if > 50
// MiB").
func (s *Server) uploadSimpleHandler(c *gin.Context) {
	userID := userIDFromContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, httperr.NewValidationError("file", "multipart file is required"))
		return
	}
	if err := s.uploads.CheckSimpleSize(fileHeader.Size); err != nil {
		abortWithError(c, err)
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer f.Close()

	targetPath := c.PostForm("target_path")
	if targetPath == "" {
		targetPath = fileHeader.Filename
	}

	path, err := s.uploads.WriteSimple(c.Request.Context(), userID, targetPath, f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"path":     path,
		"filename": filepath.Base(path),
		"size":     fileHeader.Size,
	})
}
