// Package library keeps titled documents that agents save for everyone.
package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentcircle/agent/memory"
	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Library stores shared documents.
type Library interface {
	Save(ctx context.Context, doc types.LibraryDocument) (types.LibraryDocument, error)
	Get(ctx context.Context, id string) (types.LibraryDocument, error)
	List(ctx context.Context, limit int) ([]types.LibraryDocument, error)
	// Search returns documents whose similarity to query reaches the floor.
	Search(ctx context.Context, query []float64, topK int) ([]SearchResult, error)
}

// SearchResult is a library hit with its similarity.
type SearchResult struct {
	Document   types.LibraryDocument `json:"document"`
	Similarity float64               `json:"similarity"`
}

type libraryRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Title     string    `gorm:"size:512;index"`
	Body      string    `gorm:"type:text"`
	AuthorID  string    `gorm:"size:128;index"`
	Embedding []float64 `gorm:"serializer:json"`
	CreatedAt time.Time `gorm:"index"`
}

func (libraryRecord) TableName() string {
	return "library_documents"
}

func (r libraryRecord) toDocument() types.LibraryDocument {
	return types.LibraryDocument{
		ID:        r.ID,
		Title:     r.Title,
		Body:      r.Body,
		AuthorID:  r.AuthorID,
		Embedding: r.Embedding,
		CreatedAt: r.CreatedAt,
	}
}

// GormLibrary is a Library persisted through gorm.
type GormLibrary struct {
	db     *gorm.DB
	floor  float64
	now    func() time.Time
	logger *zap.Logger
}

// NewGormLibrary migrates the schema and returns a library.
// floor is the minimum similarity for Search hits.
func NewGormLibrary(db *gorm.DB, floor float64, logger *zap.Logger) (*GormLibrary, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&libraryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate library_documents: %w", err)
	}
	return &GormLibrary{
		db:     db,
		floor:  floor,
		now:    time.Now,
		logger: logger.With(zap.String("component", "library")),
	}, nil
}

func (l *GormLibrary) Save(ctx context.Context, doc types.LibraryDocument) (types.LibraryDocument, error) {
	doc.Title = strings.TrimSpace(doc.Title)
	if doc.Title == "" {
		return types.LibraryDocument{}, types.NewError(types.ErrInvalidRequest, "library document title is required")
	}
	if strings.TrimSpace(doc.Body) == "" {
		return types.LibraryDocument{}, types.NewError(types.ErrInvalidRequest, "library document body is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = l.now()
	}

	rec := libraryRecord{
		ID:        doc.ID,
		Title:     doc.Title,
		Body:      doc.Body,
		AuthorID:  doc.AuthorID,
		Embedding: doc.Embedding,
		CreatedAt: doc.CreatedAt,
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return types.LibraryDocument{}, fmt.Errorf("failed to save library document: %w", err)
	}
	l.logger.Info("library document saved",
		zap.String("id", doc.ID),
		zap.String("title", doc.Title),
		zap.String("author", doc.AuthorID),
	)
	return doc, nil
}

func (l *GormLibrary) Get(ctx context.Context, id string) (types.LibraryDocument, error) {
	var rec libraryRecord
	res := l.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rec)
	if res.Error != nil {
		return types.LibraryDocument{}, fmt.Errorf("failed to load library document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.LibraryDocument{}, types.Errorf(types.ErrNotFound, "library document %s not found", id)
	}
	return rec.toDocument(), nil
}

func (l *GormLibrary) List(ctx context.Context, limit int) ([]types.LibraryDocument, error) {
	q := l.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []libraryRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list library: %w", err)
	}
	out := make([]types.LibraryDocument, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDocument())
	}
	return out, nil
}

func (l *GormLibrary) Search(ctx context.Context, query []float64, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	var recs []libraryRecord
	if err := l.db.WithContext(ctx).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to search library: %w", err)
	}

	scored := make([]types.ScoredDocument, 0, len(recs))
	byID := make(map[string]types.LibraryDocument, len(recs))
	for _, r := range recs {
		if len(r.Embedding) != len(query) {
			continue
		}
		doc := r.toDocument()
		byID[doc.ID] = doc
		scored = append(scored, types.ScoredDocument{
			Document:   types.MemoryDocument{ID: doc.ID},
			Similarity: memory.Cosine(query, r.Embedding),
		})
	}
	merged := memory.MergeHybrid(memory.FilterFloor(scored, l.floor), nil, topK)

	out := make([]SearchResult, 0, len(merged))
	for _, s := range merged {
		out = append(out, SearchResult{Document: byID[s.Document.ID], Similarity: s.Similarity})
	}
	return out, nil
}
