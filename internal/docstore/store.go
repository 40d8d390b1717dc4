// Package docstore keeps uploaded document text in a pebble key-value store.
package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/logging"
)

// ErrNotFound is returned for unknown document ids.
var ErrNotFound = errors.New("docstore: document not found")

const keyPrefix = "doc/"

// Document is the metadata stored alongside each document's text.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Extension  string    `json:"extension"`
	Size       int64     `json:"size"`
	Chars      int       `json:"chars"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store is a pebble-backed document store.
type Store struct {
	db    *pebble.DB
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// Opts configures Open.
type Opts struct {
	Path     string
	InMemory bool // use an in-memory filesystem; Path is then only a label
	Logger   *zap.Logger
	Clock    func() time.Time
	NewID    func() string
}

// Open opens (or creates) the store.
func Open(opts Opts) (*Store, error) {
	if opts.Path == "" && !opts.InMemory {
		return nil, fmt.Errorf("docstore: path is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Log
	}
	log = log.Named("docstore")

	popts := &pebble.Options{}
	path := opts.Path
	if opts.InMemory {
		popts.FS = vfs.NewMem()
		if path == "" {
			path = "mem"
		}
	}
	log.Info("opening pebble db", zap.String("path", path), zap.Bool("in_memory", opts.InMemory))
	db, err := pebble.Open(path, popts)
	if err != nil {
		log.Error("pebble open failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}

	s := &Store{db: db, log: log, now: opts.Clock, newID: opts.NewID}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("docstore: close: %w", err)
	}
	s.log.Info("pebble closed")
	return nil
}

func metaKey(id string) []byte { return []byte(keyPrefix + id + "/meta") }
func textKey(id string) []byte { return []byte(keyPrefix + id + "/text") }

// Put stores the extracted text of an uploaded file and returns its metadata.
func (s *Store) Put(filename, text string, size int64) (Document, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	doc := Document{
		ID:         s.newID(),
		Filename:   name,
		Extension:  strings.ToLower(filepath.Ext(name)),
		Size:       size,
		Chars:      len([]rune(text)),
		UploadedAt: s.now().UTC(),
	}
	meta, err := json.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: marshal %s: %w", doc.ID, err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(metaKey(doc.ID), meta, nil); err != nil {
		return Document{}, fmt.Errorf("docstore: put %s: %w", doc.ID, err)
	}
	if err := b.Set(textKey(doc.ID), []byte(text), nil); err != nil {
		return Document{}, fmt.Errorf("docstore: put %s: %w", doc.ID, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.log.Error("save document failed", zap.String("doc_id", doc.ID), zap.Error(err))
		return Document{}, fmt.Errorf("docstore: put %s: %w", doc.ID, err)
	}
	s.log.Info("document saved", zap.String("doc_id", doc.ID), zap.String("filename", doc.Filename), zap.Int64("size", size))
	return doc, nil
}

func (s *Store) get(key []byte, id string) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s: %w", id, err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// Get returns a document's metadata.
func (s *Store) Get(id string) (Document, error) {
	v, err := s.get(metaKey(id), id)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(v, &doc); err != nil {
		return Document{}, fmt.Errorf("docstore: decode %s: %w", id, err)
	}
	return doc, nil
}

// GetText returns a document's extracted text.
func (s *Store) GetText(id string) (string, error) {
	v, err := s.get(textKey(id), id)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Delete removes a document. Deleting an unknown id returns ErrNotFound.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(metaKey(id), nil); err != nil {
		return fmt.Errorf("docstore: delete %s: %w", id, err)
	}
	if err := b.Delete(textKey(id), nil); err != nil {
		return fmt.Errorf("docstore: delete %s: %w", id, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("docstore: delete %s: %w", id, err)
	}
	s.log.Info("document deleted", zap.String("doc_id", id))
	return nil
}

// List returns all document metadata ordered by upload time.
func (s *Store) List() ([]Document, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	defer iter.Close()

	prefix := []byte(keyPrefix)
	var out []Document
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte("/meta")) {
			continue
		}
		var doc Document
		if err := json.Unmarshal(iter.Value(), &doc); err != nil {
			s.log.Warn("skipping undecodable document", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		out = append(out, doc)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}
