package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/fadelink/fadelink/links"
)

// Handler exposes the link lifecycle over HTTP. Everything here is thin
// glue; the lifecycle rules live in the links service.
type Handler struct {
	svc     *links.Service
	baseURL string
}

func NewHandler(svc *links.Service, baseURL string) *Handler {
	return &Handler{svc: svc, baseURL: baseURL}
}

func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	validity, err := strconv.Atoi(c.DefaultPostForm("validityHours", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validityHours must be a number"})
		return
	}
	maxDownloads, err := strconv.Atoi(c.DefaultPostForm("maxDownloads", "3"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxDownloads must be a number"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "File upload failed"})
		return
	}
	defer src.Close()

	id, err := h.svc.Issue(c.Request.Context(), links.IssueRequest{
		Body:          src,
		ContentType:   file.Header.Get("Content-Type"),
		Filename:      file.Filename,
		ValidityHours: validity,
		MaxDownloads:  maxDownloads,
	})
	if err != nil {
		if errors.Is(err, links.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create share link"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "downloadUrl": "/dl/" + id})
}

func (h *Handler) Download(c *gin.Context) {
	res, err := h.svc.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeResolveError(c, err)
		return
	}
	if res.Filename != "" {
		c.Header("Content-Disposition",
			fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(res.Filename)))
	}
	c.Redirect(http.StatusFound, res.AccessURL)
}

// QRCode renders a PNG QR of the public download URL for a live link. The
// check is a plain read and spends no quota.
func (h *Handler) QRCode(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.Peek(c.Request.Context(), id); err != nil {
		writeResolveError(c, err)
		return
	}
	png, err := qrcode.Encode(h.baseURL+"/dl/"+id, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render QR code"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// writeResolveError collapses every terminal state into one response so the
// body leaks neither quota state nor timing.
func writeResolveError(c *gin.Context, err error) {
	if links.IsTerminal(err) {
		c.JSON(http.StatusGone, gin.H{"error": "link is no longer valid"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable, try again"})
}
