package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skillforge/skillforge/pkg/httperr"
	"github.com/skillforge/skillforge/pkg/webdav"
)

const davMountPrefix = "/api/dav"

// davHandler dispatches every verb of spec.md §4.9's WebDAV subset
// (PROPFIND | GET | PUT | MKCOL | DELETE | MOVE) against the authenticated
// caller's own directory. Each verb is registered individually in
// setupRoutes, since gin's Any() only covers the standard net/http method
// set and would silently drop PROPFIND/MKCOL/MOVE.
func (s *Server) davHandler(c *gin.Context) {
	userID := userIDFromContext(c)
	reqPath := strings.TrimPrefix(c.Param("path"), "/")
	ctx := c.Request.Context()

	switch c.Request.Method {
	case "PROPFIND":
		depth := 1
		if c.GetHeader("Depth") == "0" {
			depth = 0
		}
		entries, err := s.dav.Propfind(ctx, userID, reqPath, depth)
		if err != nil {
			abortWithError(c, err)
			return
		}
		body, err := webdav.MultistatusXML(userID, davMountPrefix, entries)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Data(http.StatusMultiStatus, "application/xml; charset=utf-8", body)

	case http.MethodGet:
		rc, info, err := s.dav.Get(ctx, userID, reqPath)
		if err != nil {
			abortWithError(c, err)
			return
		}
		defer rc.Close()
		c.Header("ETag", `"`+webdav.ETag(info)+`"`)
		c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", rc, nil)

	case http.MethodPut:
		etag, err := s.dav.Put(ctx, userID, reqPath, c.Request.Body, c.GetHeader("If-Match"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Header("ETag", `"`+etag+`"`)
		c.Status(http.StatusCreated)

	case "MKCOL":
		if err := s.dav.Mkcol(ctx, userID, reqPath); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusCreated)

	case http.MethodDelete:
		if err := s.dav.Delete(ctx, userID, reqPath); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)

	case "MOVE":
		dst, err := destinationPath(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if err := s.dav.Move(ctx, userID, reqPath, dst); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusCreated)

	default:
		abortWithError(c, httperr.ErrMethodNotAllowed)
	}
}

// destinationPath extracts the MOVE verb's Destination header and strips
// the dav mount prefix and leading slash, the same reqPath shape every
// other verb operates on.
func destinationPath(c *gin.Context) (string, error) {
	dest := c.GetHeader("Destination")
	if dest == "" {
		return "", httperr.NewValidationError("Destination", "header is required for MOVE")
	}
	idx := strings.Index(dest, davMountPrefix+"/")
	if idx >= 0 {
		dest = dest[idx+len(davMountPrefix)+1:]
	}
	dest = strings.TrimPrefix(dest, "/")
	return dest, nil
}
