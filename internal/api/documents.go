package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/docstore"
)

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
}

// uploadOverhead is the multipart framing allowed on top of the file limit.
const uploadOverhead = 1 << 20

func (s *Server) handleUpload(c *gin.Context) {
	if s.limits.MaxSize > 0 {
		bodyLimit := s.limits.MaxSize + uploadOverhead
		if c.Request.ContentLength > bodyLimit {
			s.fail(c, s.tooLarge(c.Request.ContentLength))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(c, s.tooLarge(maxErr.Limit))
			return
		}
		s.badRequest(c, errors.New("file: a multipart file field is required"))
		return
	}
	if err := docstore.ValidateUpload(fh.Filename, fh.Size, s.limits); err != nil {
		s.fail(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("api: open upload: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, fmt.Errorf("api: read upload: %w", err))
		return
	}
	text, err := docstore.Extract(fh.Filename, data)
	if err != nil {
		s.fail(c, err)
		return
	}
	doc, err := s.docs.Put(fh.Filename, text, int64(len(data)))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int64("size", doc.Size))
	c.JSON(http.StatusOK, uploadResponse{DocumentID: doc.ID, Filename: doc.Filename})
}

func (s *Server) tooLarge(size int64) error {
	return fmt.Errorf("%w: request body of %s exceeds the %s limit", docstore.ErrTooLarge,
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.limits.MaxSize)))
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.docs.List()
	if err != nil {
		s.fail(c, err)
		return
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Server) handleGetDocument(c *gin.Context) {
	doc, err := s.docs.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	if err := s.docs.Delete(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// documents resolves ids to metadata, skipping ids that no longer exist.
func (s *Server) documents(ids []string) []docstore.Document {
	out := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.docs.Get(id)
		if err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out
}

// filenames returns the filename of each id, "Unknown" when it is missing.
func (s *Server) filenames(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "Unknown"
		if doc, err := s.docs.Get(id); err == nil {
			out[i] = doc.Filename
		}
	}
	return out
}
