package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/leasehub/internal/auditctx"
	"github.com/charlesng35/leasehub/internal/models"
)

// Audit actions written by the invitation flows.
const (
	AuditInvitationIssue       = "invitation.issue"
	AuditInvitationResend      = "invitation.resend"
	AuditInvitationCreateUser  = "invitation.create_user"
	AuditInvitationLinkUser    = "invitation.link_user"
	AuditInvitationLinkRepairs = "invitation.link_repaired"

	AuditResultSuccess = "success"
)

const (
	defaultAuditListLimit = 50
	maxAuditListLimit     = 200
)

// AuditEntry captures a single audit event to persist. ActorID, IPAddress
// and UserAgent fall back to the auditctx actor carried by ctx.
type AuditEntry struct {
	ActorID    string
	Action     string
	Resource   string
	PropertyID string
	Result     string
	Metadata   map[string]any
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	ActorID    string
	Action     string
	Result     string
	PropertyID string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db, now: time.Now}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	payload, err := encodeAuditMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	record := models.AuditLog{
		Action:     strings.TrimSpace(entry.Action),
		Resource:   strings.TrimSpace(entry.Resource),
		PropertyID: strings.TrimSpace(entry.PropertyID),
		Result:     strings.TrimSpace(entry.Result),
		Metadata:   payload,
	}

	actorID := strings.TrimSpace(entry.ActorID)
	if actor, ok := auditctx.FromContext(ctx); ok {
		if actorID == "" {
			actorID = actor.UserID
		}
		record.IPAddress = actor.IPAddress
		record.UserAgent = actor.UserAgent
	}
	if actorID != "" {
		record.ActorID = &actorID
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

func encodeAuditMetadata(meta map[string]any) (datatypes.JSON, error) {
	if len(meta) == 0 {
		return datatypes.JSON(json.RawMessage(`{}`)), nil
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("audit service: marshal metadata: %w", err)
	}
	return datatypes.JSON(payload), nil
}

// List returns matching audit logs, newest first.
func (s *AuditService) List(ctx context.Context, filters AuditFilters) ([]models.AuditLog, error) {
	ctx = ensureContext(ctx)

	limit := filters.Limit
	if limit <= 0 || limit > maxAuditListLimit {
		limit = defaultAuditListLimit
	}

	var logs []models.AuditLog
	query := applyAuditFilters(s.db.WithContext(ctx).Model(&models.AuditLog{}), filters)
	if err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("audit service: list logs: %w", err)
	}
	return logs, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.ActorID != "" {
		query = query.Where("actor_id = ?", filters.ActorID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.PropertyID != "" {
		query = query.Where("property_id = ?", filters.PropertyID)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}
