package api

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/skillforge/skillforge/pkg/httperr"
	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/store"
	"github.com/skillforge/skillforge/pkg/validation"
)

// skillsPendingDir is the root new skill uploads are extracted under
// (spec.md §6 "Persisted layout": "skills_pending/{name}/"). Set once at
// construction via SetSkillsPendingDir.
func (s *Server) SetSkillsPendingDir(dir string) {
	s.skillsPendingDir = dir
}

// adminUploadSkillHandler handles POST /api/admin/skills/upload (multipart
// .zip). The zip's SKILL.md (and any scripts/) is extracted into
// "{skillsPendingDir}/{name}/" and a pending Skill row is created. Upload
// never auto-rejects on a missing or unparseable SKILL.md (spec.md §4.7
// step 0, seed scenario S4): the row is still created, with the format
// problem recorded on it for the validation pipeline's format check to
// surface properly, mirroring skill_manager.py's create(), which always
// creates the row and falls back to the archive's filename stem when
// metadata can't be parsed.
func (s *Server) adminUploadSkillHandler(c *gin.Context) {
	userID := userIDFromContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, httperr.NewValidationError("file", "multipart zip file is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		abortWithError(c, httperr.NewValidationError("file", "not a valid zip archive"))
		return
	}

	var name, description string
	var formatErrors []string

	skillMD, err := readSkillMDFromZip(zr)
	if err != nil {
		formatErrors = []string{"Missing SKILL.md"}
	} else if name, description, err = validation.ParseFrontMatter(skillMD); err != nil || strings.TrimSpace(name) == "" {
		name = ""
		formatErrors = []string{"SKILL.md is missing required front matter"}
	}
	if name == "" {
		base := filepath.Base(fileHeader.Filename)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	skillPath := filepath.Join(s.skillsPendingDir, name)
	if err := extractZipTo(zr, skillPath); err != nil {
		abortWithError(c, err)
		return
	}

	sk := &models.Skill{
		SkillID:      uuid.NewString(),
		Name:         name,
		Description:  description,
		Status:       models.SkillStatusPending,
		SkillPath:    skillPath,
		FormatValid:  len(formatErrors) == 0,
		FormatErrors: formatErrors,
		CreatedBy:    userID,
		CreatedAt:    time.Now(),
	}
	if err := s.skills.Create(c.Request.Context(), sk); err != nil {
		if err == store.ErrDuplicate {
			abortWithError(c, httperr.ErrAlreadyExists)
			return
		}
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sk)
}

// readSkillMDFromZip returns the contents of the first entry named SKILL.md
// in zr, at any directory depth.
func readSkillMDFromZip(zr *zip.Reader) (string, error) {
	for _, f := range zr.File {
		if filepath.Base(f.Name) == "SKILL.md" {
			rc, err := f.Open()
			if err != nil {
				return "", fmt.Errorf("opening SKILL.md: %w", err)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return "", fmt.Errorf("reading SKILL.md: %w", err)
			}
			return string(data), nil
		}
	}
	return "", fmt.Errorf("zip archive does not contain a SKILL.md")
}

// extractZipTo extracts every entry of zr into destDir, rejecting any
// entry whose name would escape destDir (zip-slip guard).
func extractZipTo(zr *zip.Reader, destDir string) error {
	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("resolving destination: %w", err)
	}
	if err := os.MkdirAll(destAbs, 0o755); err != nil {
		return fmt.Errorf("creating skill directory: %w", err)
	}

	for _, f := range zr.File {
		target, err := filepath.Abs(filepath.Join(destAbs, f.Name))
		if err != nil || (target != destAbs && !strings.HasPrefix(target, destAbs+string(os.PathSeparator))) {
			return fmt.Errorf("zip entry %q escapes destination: %w", f.Name, httperr.ErrPathTraversal)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %q: %w", f.Name, err)
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return fmt.Errorf("creating %q: %w", target, err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return fmt.Errorf("writing %q: %w", target, copyErr)
		}
	}
	return nil
}

type listSkillsResponse struct {
	Skills []*models.Skill `json:"skills"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
}

// adminListSkillsHandler handles GET /api/admin/skills?status&page&size.
func (s *Server) adminListSkillsHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 100
	}

	var statusFilter *models.SkillStatus
	if raw := c.Query("status"); raw != "" {
		st := models.SkillStatus(raw)
		statusFilter = &st
	}

	skills, total, err := s.skills.List(c.Request.Context(), statusFilter, (page-1)*size, size)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listSkillsResponse{Skills: skills, Total: total, Page: page, Size: size})
}

// adminGetSkillHandler handles GET /api/admin/skills/:id.
func (s *Server) adminGetSkillHandler(c *gin.Context) {
	sk, ok := s.loadSkillOrAbort(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sk)
}

func (s *Server) loadSkillOrAbort(c *gin.Context) (*models.Skill, bool) {
	sk, err := s.skills.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == store.ErrNotFound {
			abortWithError(c, httperr.ErrNotFound)
			return nil, false
		}
		abortWithError(c, err)
		return nil, false
	}
	return sk, true
}

// adminValidateSkillHandler handles POST /api/admin/skills/:id/validate,
// running the pipeline synchronously and returning the updated Skill
// (spec.md §6: "runs pipeline synchronously, returns result").
func (s *Server) adminValidateSkillHandler(c *gin.Context) {
	skillID := c.Param("id")
	if err := s.validations.RunValidation(c.Request.Context(), skillID); err != nil {
		abortWithError(c, err)
		return
	}
	sk, ok := s.loadSkillOrAbort(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sk)
}

// adminRevalidateSkillHandler handles POST /api/admin/skills/:id/revalidate,
// scheduling a background run and returning immediately (spec.md §6).
func (s *Server) adminRevalidateSkillHandler(c *gin.Context) {
	skillID := c.Param("id")
	if _, ok := s.loadSkillOrAbort(c); !ok {
		return
	}
	go func() {
		if err := s.validations.RunValidation(context.Background(), skillID); err != nil {
			slog.Error("background revalidation failed", "skill_id", skillID, "error", err)
		}
	}()
	c.JSON(http.StatusOK, gin.H{"status": "scheduled"})
}

// adminApproveSkillHandler handles POST /api/admin/skills/:id/approve.
func (s *Server) adminApproveSkillHandler(c *gin.Context) {
	userID := userIDFromContext(c)
	sk, ok := s.loadSkillOrAbort(c)
	if !ok {
		return
	}
	if !sk.CanApprove() {
		abortWithError(c, httperr.ErrStateIllegal)
		return
	}

	now := time.Now()
	sk.Status = models.SkillStatusApproved
	sk.ApprovedBy = &userID
	sk.ApprovedAt = &now
	if err := s.skills.Update(c.Request.Context(), sk); err != nil {
		abortWithError(c, err)
		return
	}

	version := ulid.MustNew(ulid.Now(), rand.Reader).String()
	skillID := sk.SkillID
	if err := s.versions.Create(c.Request.Context(), &models.ImageVersion{
		Version:              version,
		SkillID:              &skillID,
		CreatedAt:            now,
		IsCurrent:            true,
		DependenciesSnapshot: sk.InstalledDependencies,
	}); err != nil {
		abortWithError(c, err)
		return
	}
	if err := s.versions.SetCurrent(c.Request.Context(), version); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sk)
}

// adminCurrentImageVersionHandler handles GET /api/admin/image-version,
// reporting the shared-skills image tag every sandbox mounts, bumped by the
// most recent skill approval.
func (s *Server) adminCurrentImageVersionHandler(c *gin.Context) {
	v, err := s.versions.Current(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type rejectSkillRequest struct {
	Reason string `json:"reason"`
}

// adminRejectSkillHandler handles POST /api/admin/skills/:id/reject.
func (s *Server) adminRejectSkillHandler(c *gin.Context) {
	userID := userIDFromContext(c)
	sk, ok := s.loadSkillOrAbort(c)
	if !ok {
		return
	}
	var req rejectSkillRequest
	if !bindJSONOrAbort(c, &req) {
		return
	}

	now := time.Now()
	sk.Status = models.SkillStatusRejected
	sk.RejectedBy = &userID
	sk.RejectedAt = &now
	sk.RejectReason = req.Reason
	if err := s.skills.Update(c.Request.Context(), sk); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sk)
}

// adminDeleteSkillHandler handles DELETE /api/admin/skills/:id.
func (s *Server) adminDeleteSkillHandler(c *gin.Context) {
	if err := s.skills.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if err == store.ErrNotFound {
			abortWithError(c, httperr.ErrNotFound)
			return
		}
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// adminFullTestHandler handles POST /api/admin/skills/full-test, scheduling
// a background regression sweep over every approved skill and returning
// immediately (spec.md §6).
func (s *Server) adminFullTestHandler(c *gin.Context) {
	go func() {
		if err := s.validations.RunFullTest(context.Background()); err != nil {
			slog.Error("background full-test run failed", "error", err)
		}
	}()
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// adminSkillReportHandler handles GET /api/admin/skills/:id/report,
// rendering the skill's validation history as markdown (spec.md §6: "200
// {content (markdown), content_type}").
func (s *Server) adminSkillReportHandler(c *gin.Context) {
	sk, ok := s.loadSkillOrAbort(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content":      renderSkillReport(sk),
		"content_type": "text/markdown",
	})
}
