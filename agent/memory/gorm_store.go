package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// memoryRecord is the persisted row of a memory document.
type memoryRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Scope     string    `gorm:"index;size:255;not null"`
	Seq       int64     `gorm:"index;not null"`
	Text      string    `gorm:"type:text"`
	Embedding []float64 `gorm:"serializer:json"`
	Utility   float64
	CreatedAt time.Time
}

func (memoryRecord) TableName() string {
	return "memory_documents"
}

func (r memoryRecord) toDocument() types.MemoryDocument {
	return types.MemoryDocument{
		ID:        r.ID,
		Scope:     types.Scope(r.Scope),
		Text:      r.Text,
		Embedding: r.Embedding,
		Utility:   r.Utility,
		CreatedAt: r.CreatedAt,
	}
}

// GormStore is a durable Store on top of any gorm dialect. Ranking happens in
// process after loading the scope, which suits per-agent memory sizes.
type GormStore struct {
	db        *gorm.DB
	dimension int
	now       func() time.Time
	seqMu     sync.Mutex
	seq       int64
	logger    *zap.Logger
}

// NewGormStore migrates the schema and returns a store.
func NewGormStore(db *gorm.DB, dimension int, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&memoryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate memory_documents: %w", err)
	}

	var maxSeq int64
	if err := db.Model(&memoryRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
		return nil, fmt.Errorf("failed to read memory sequence: %w", err)
	}

	return &GormStore{
		db:        db,
		dimension: dimension,
		now:       time.Now,
		seq:       maxSeq,
		logger:    logger.With(zap.String("component", "memory_store_gorm")),
	}, nil
}

func (s *GormStore) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *GormStore) Put(ctx context.Context, doc types.MemoryDocument) error {
	if err := validateDocument(doc); err != nil {
		return err
	}
	if err := checkDimension(s.dimension, len(doc.Embedding)); err != nil {
		return err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&memoryRecord{}).Where("id = ?", doc.ID).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check memory document: %w", err)
	}
	if existing > 0 {
		return types.Errorf(types.ErrAlreadyExists, "memory document %s already exists", doc.ID)
	}

	rec := memoryRecord{
		ID:        doc.ID,
		Scope:     string(doc.Scope),
		Seq:       s.nextSeq(),
		Text:      doc.Text,
		Embedding: doc.Embedding,
		Utility:   doc.Utility,
		CreatedAt: doc.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.Errorf(types.ErrAlreadyExists, "memory document %s already exists", doc.ID)
		}
		return fmt.Errorf("failed to store memory document: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, scope types.Scope) ([]types.MemoryDocument, error) {
	var recs []memoryRecord
	if err := s.db.WithContext(ctx).
		Where("scope = ?", string(scope)).
		Order("seq ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load memory scope %s: %w", scope, err)
	}
	out := make([]types.MemoryDocument, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDocument())
	}
	return out, nil
}

func (s *GormStore) Clear(ctx context.Context, scope types.Scope) error {
	res := s.db.WithContext(ctx).Where("scope = ?", string(scope)).Delete(&memoryRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to clear memory scope %s: %w", scope, res.Error)
	}
	s.logger.Info("memory scope cleared", zap.String("scope", string(scope)), zap.Int64("cleared", res.RowsAffected))
	return nil
}

func (s *GormStore) Query(ctx context.Context, scope types.Scope, query []float64, topK int) ([]types.ScoredDocument, error) {
	if err := checkDimension(s.dimension, len(query)); err != nil {
		return nil, err
	}
	docs, err := s.Get(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := checkDimension(len(query), len(d.Embedding)); err != nil {
			return nil, err
		}
	}
	return rank(docs, query, topK), nil
}

func (s *GormStore) SetUtility(ctx context.Context, id string, utility float64) error {
	res := s.db.WithContext(ctx).Model(&memoryRecord{}).Where("id = ?", id).Update("utility", utility)
	if res.Error != nil {
		return fmt.Errorf("failed to update utility: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrNotFound, "memory document %s not found", id)
	}
	return nil
}
