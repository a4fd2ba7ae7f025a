package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jar-trace/jar-trace-go/internal/domain"
	"github.com/jar-trace/jar-trace-go/internal/registry"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SessionRepository 会话持久化
// Save 在污点阶段结束时调用一次；Load 在抽取阶段（可能是
// 另一个进程）重建只读会话
type SessionRepository interface {
	Save(ctx context.Context, session *registry.Session, meta *domain.TraceSession) error
	Load(ctx context.Context, sessionID string) (*registry.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.TraceSession, error)
	List(ctx context.Context, limit int) ([]*domain.TraceSession, error)
	Delete(ctx context.Context, sessionID string) error
}

type sessionRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewSessionRepository 创建会话仓库实例
func NewSessionRepository(db *gorm.DB, logger *logrus.Logger) SessionRepository {
	return &sessionRepo{
		db:     db,
		logger: logger,
	}
}

func (r *sessionRepo) Save(ctx context.Context, session *registry.Session, meta *domain.TraceSession) error {
	classes := session.ClassRecords()
	fields := session.FieldRecords()
	methods := session.MethodRecords()

	row := &domain.TraceSession{
		ID:          session.ID(),
		ClassCount:  len(classes),
		FieldCount:  len(fields),
		MethodCount: len(methods),
		CreatedAt:   time.Now().UTC(),
	}
	if meta != nil {
		row.JarName = meta.JarName
		row.TaintedPath = meta.TaintedPath
	}

	// 单事务写入，失败时不留下半个会话
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if len(classes) > 0 {
			if err := tx.CreateInBatches(classes, 500).Error; err != nil {
				return err
			}
		}
		if len(fields) > 0 {
			if err := tx.CreateInBatches(fields, 500).Error; err != nil {
				return err
			}
		}
		if len(methods) > 0 {
			if err := tx.CreateInBatches(methods, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.WithError(err).WithField("session_id", session.ID()).Error("Failed to save session")
		return fmt.Errorf("save session %s: %w", session.ID(), err)
	}

	r.logger.WithFields(logrus.Fields{
		"session_id": session.ID(),
		"classes":    len(classes),
		"fields":     len(fields),
		"methods":    len(methods),
	}).Info("Session saved")
	return nil
}

func (r *sessionRepo) Load(ctx context.Context, sessionID string) (*registry.Session, error) {
	var row domain.TraceSession
	if err := r.db.WithContext(ctx).First(&row, "id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var classes []*domain.ClassRecord
	var fields []*domain.FieldRecord
	var methods []*domain.MethodRecord

	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&classes).Error; err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&fields).Error; err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&methods).Error; err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	r.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"classes":    len(classes),
		"fields":     len(fields),
		"methods":    len(methods),
	}).Info("Session loaded")
	return registry.Restore(sessionID, classes, fields, methods), nil
}

func (r *sessionRepo) Get(ctx context.Context, sessionID string) (*domain.TraceSession, error) {
	var row domain.TraceSession
	if err := r.db.WithContext(ctx).First(&row, "id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *sessionRepo) List(ctx context.Context, limit int) ([]*domain.TraceSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []*domain.TraceSession
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *sessionRepo) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&domain.ClassRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&domain.FieldRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&domain.MethodRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.TraceSession{}, "id = ?", sessionID).Error
	})
}
