// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rapidaai/roleplay/pkg/commons"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// SessionRecord is the journal row of one roleplay attempt.
type SessionRecord struct {
	Id            uint64    `json:"id" gorm:"primaryKey;autoIncrement;<-:create"`
	SessionID     string    `json:"sessionId" gorm:"column:session_id;type:varchar(36);not null;uniqueIndex"`
	LeadID        string    `json:"leadId" gorm:"column:lead_id;type:varchar(64);not null;default:''"`
	ThreadID      string    `json:"threadId" gorm:"column:thread_id;type:varchar(128);not null;default:''"`
	Name          string    `json:"name" gorm:"column:name;type:varchar(120);not null;default:''"`
	Email         string    `json:"email" gorm:"column:email;type:varchar(255);not null;default:''"`
	State         string    `json:"state" gorm:"column:state;type:varchar(20);not null;default:form"`
	Transcription string    `json:"transcription" gorm:"column:transcription;type:text;not null;default:''"`
	Evaluation    string    `json:"evaluation" gorm:"column:evaluation;type:text;not null;default:''"`
	CreatedDate   time.Time `json:"createdDate" gorm:"column:created_date;autoCreateTime;<-:create"`
	UpdatedDate   time.Time `json:"updatedDate" gorm:"column:updated_date;autoUpdateTime"`
}

func (SessionRecord) TableName() string { return "roleplay_sessions" }

// TurnRecord is one journaled utterance.
type TurnRecord struct {
	Id        uint64    `json:"id" gorm:"primaryKey;autoIncrement;<-:create"`
	SessionID string    `json:"sessionId" gorm:"column:session_id;type:varchar(36);not null;index"`
	Role      string    `json:"role" gorm:"column:role;type:varchar(10);not null"`
	Text      string    `json:"text" gorm:"column:text;type:text;not null"`
	SpokenAt  time.Time `json:"spokenAt" gorm:"column:spoken_at;not null"`
}

func (TurnRecord) TableName() string { return "roleplay_turns" }

// Store journals sessions locally. Rows are never deleted by the session
// flow; they only move forward through states:
// roleplaying -> evaluating -> completed, or -> abandoned on teardown.
type Store interface {
	Save(ctx context.Context, rec *SessionRecord) error
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
	// Transition moves a session to state only if it is currently in one
	// of from. It fails when no row matched.
	Transition(ctx context.Context, sessionID string, from []State, to State) error
	AppendTurn(ctx context.Context, turn *TurnRecord) error
	Turns(ctx context.Context, sessionID string) ([]TurnRecord, error)
	// Complete stores the outcome and marks the session completed.
	Complete(ctx context.Context, sessionID, transcription, evaluation string) error
	UpdateField(ctx context.Context, sessionID, field, value string) error
	Ping(ctx context.Context) error
	Close() error
}

type sqliteStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewSqliteStore opens (creating if needed) the journal database at path.
func NewSqliteStore(path string, logger commons.Logger) (Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("unable to create store directory %s: %w", dir, err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open session store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&SessionRecord{}, &TurnRecord{}); err != nil {
		return nil, fmt.Errorf("unable to migrate session store: %w", err)
	}
	logger.Infof("session store ready at %s", path)
	return &sqliteStore{db: db, logger: logger}, nil
}

func (s *sqliteStore) Save(ctx context.Context, rec *SessionRecord) error {
	if rec.State == "" {
		rec.State = string(StateRoleplaying)
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to save session %s: %w", rec.SessionID, err)
	}
	s.logger.Debugf("saved session: sessionId=%s, leadId=%s, state=%s", rec.SessionID, rec.LeadID, rec.State)
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("session not found: %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *sqliteStore) Transition(ctx context.Context, sessionID string, from []State, to State) error {
	states := make([]string, 0, len(from))
	for _, st := range from {
		states = append(states, string(st))
	}
	result := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("session_id = ? AND state IN ?", sessionID, states).
		Updates(map[string]interface{}{
			"state":        string(to),
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to move session %s to %s: %w", sessionID, to, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %s not found or not in %v", sessionID, from)
	}
	s.logger.Debugf("session transition: sessionId=%s, state=%s", sessionID, to)
	return nil
}

func (s *sqliteStore) AppendTurn(ctx context.Context, turn *TurnRecord) error {
	if err := s.db.WithContext(ctx).Create(turn).Error; err != nil {
		return fmt.Errorf("failed to journal turn for session %s: %w", turn.SessionID, err)
	}
	return nil
}

func (s *sqliteStore) Turns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	var turns []TurnRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id asc").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("failed to load turns for session %s: %w", sessionID, err)
	}
	return turns, nil
}

func (s *sqliteStore) Complete(ctx context.Context, sessionID, transcription, evaluation string) error {
	result := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"state":         string(StateCompleted),
			"transcription": transcription,
			"evaluation":    evaluation,
			"updated_date":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete session %s: %w", sessionID, result.Error)
	}
	s.logger.Debugf("completed session: sessionId=%s", sessionID)
	return nil
}

// UpdateField sets one allowlisted column.
func (s *sqliteStore) UpdateField(ctx context.Context, sessionID, field, value string) error {
	allowed := map[string]bool{
		"lead_id":   true,
		"thread_id": true,
	}
	if !allowed[field] {
		return fmt.Errorf("field %q is not updatable on session", field)
	}
	result := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("session_id = ?", sessionID).
		Update(field, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update field %s on session %s: %w", field, sessionID, result.Error)
	}
	s.logger.Debugf("updated session field: sessionId=%s, %s=%s", sessionID, field, value)
	return nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
