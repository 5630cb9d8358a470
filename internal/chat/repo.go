package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/community-chat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Page selects a window of history. BeforeID > 0 returns messages older than that id.
type Page struct {
	Limit    int
	BeforeID uint64
}

func (p Page) limit() int {
	if p.Limit <= 0 {
		return DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		return MaxPageLimit
	}
	return p.Limit
}

// Repo is the message store gateway. Ids are assigned in append order, so id
// order is also timestamp order.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// directory lookups

func (r *Repo) UserExists(ctx context.Context, userID uint64) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *Repo) GetUsers(ctx context.Context, ids []uint64) (map[uint64]models.User, error) {
	out := make(map[uint64]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (r *Repo) GetGroup(ctx context.Context, groupID uint64) (*GroupChat, error) {
	var g GroupChat
	if err := r.db.WithContext(ctx).First(&g, "id = ?", groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (r *Repo) IsMember(ctx context.Context, groupID, userID uint64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *Repo) GroupExists(ctx context.Context, groupID uint64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&GroupChat{}).Where("id = ?", groupID).Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// CheckMember returns ErrGroupNotFound or ErrNotAMember when userID may not use the group.
func (r *Repo) CheckMember(ctx context.Context, groupID, userID uint64) error {
	if _, err := r.GetGroup(ctx, groupID); err != nil {
		return err
	}
	ok, err := r.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAMember
	}
	return nil
}

// groups

// CreateGroup inserts the group and its creator as the first member in one transaction.
func (r *Repo) CreateGroup(ctx context.Context, g *GroupChat) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(g).Error; err != nil {
			return err
		}
		return tx.Create(&GroupMember{GroupID: g.ID, UserID: g.CreatorID, JoinedAt: time.Now()}).Error
	})
}

func (r *Repo) AddMember(ctx context.Context, groupID, userID uint64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&GroupMember{GroupID: groupID, UserID: userID, JoinedAt: time.Now()}).Error
}

func (r *Repo) RemoveMember(ctx context.Context, groupID, userID uint64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&GroupMember{})
	return res.RowsAffected, res.Error
}

func (r *Repo) ListGroupsForUser(ctx context.Context, userID uint64) ([]GroupChat, error) {
	var groups []GroupChat
	if err := r.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = group_chats.id").
		Where("group_members.user_id = ?", userID).
		Order("group_chats.id ASC").
		Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *Repo) UserGroupIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	if err := r.db.WithContext(ctx).Model(&GroupMember{}).
		Where("user_id = ?", userID).
		Order("group_id ASC").
		Pluck("group_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// appends

func (r *Repo) AppendDirect(ctx context.Context, senderID, recipientID uint64, content string) (*DirectMessage, error) {
	if senderID == recipientID {
		return nil, ErrSelfMessage
	}
	ok, err := r.UserExists(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("lookup recipient: %w", err)
	}
	if !ok {
		return nil, ErrInvalidRecipient
	}

	m := &DirectMessage{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("insert direct message: %w", err)
	}
	return m, nil
}

func (r *Repo) AppendGroup(ctx context.Context, groupID, senderID uint64, content string) (*GroupMessage, error) {
	if err := r.CheckMember(ctx, groupID, senderID); err != nil {
		return nil, err
	}

	m := &GroupMessage{
		GroupID:  groupID,
		SenderID: senderID,
		Content:  content,
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("insert group message: %w", err)
	}
	return m, nil
}

// read state

// MarkDirectThreadRead flags every unread message from counterpartID to userID as read.
func (r *Repo) MarkDirectThreadRead(ctx context.Context, userID, counterpartID uint64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&DirectMessage{}).
		Where("sender_id = ? AND recipient_id = ? AND is_read = ?", counterpartID, userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// MarkGroupMessagesRead adds userID to the read set of every message in the group that lacks it.
func (r *Repo) MarkGroupMessagesRead(ctx context.Context, groupID, userID uint64) (int64, error) {
	var ids []uint64
	if err := r.db.WithContext(ctx).Model(&GroupMessage{}).
		Where("group_id = ?", groupID).
		Where("NOT EXISTS (SELECT 1 FROM group_message_reads WHERE group_message_reads.message_id = group_messages.id AND group_message_reads.user_id = ?)", userID).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now()
	rows := make([]GroupMessageRead, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, GroupMessageRead{MessageID: id, UserID: userID, ReadAt: now})
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 500)
	return res.RowsAffected, res.Error
}

// ReadSet returns the user ids that have read the message, ascending.
func (r *Repo) ReadSet(ctx context.Context, messageID uint64) ([]uint64, error) {
	var ids []uint64
	if err := r.db.WithContext(ctx).Model(&GroupMessageRead{}).
		Where("message_id = ?", messageID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// history

// FetchDirectHistory returns one page of the conversation between a and b, oldest first.
func (r *Repo) FetchDirectHistory(ctx context.Context, a, b uint64, page Page) ([]DirectMessage, error) {
	q := r.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", a, b, b, a).
		Order("id DESC").
		Limit(page.limit())
	if page.BeforeID > 0 {
		q = q.Where("id < ?", page.BeforeID)
	}

	var desc []DirectMessage
	if err := q.Find(&desc).Error; err != nil {
		return nil, err
	}
	reverse(desc)
	return desc, nil
}

// FetchGroupHistory returns one page of the group conversation, oldest first.
func (r *Repo) FetchGroupHistory(ctx context.Context, groupID uint64, page Page) ([]GroupMessage, error) {
	q := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("id DESC").
		Limit(page.limit())
	if page.BeforeID > 0 {
		q = q.Where("id < ?", page.BeforeID)
	}

	var desc []GroupMessage
	if err := q.Find(&desc).Error; err != nil {
		return nil, err
	}
	reverse(desc)
	return desc, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// thread statistics

type directStat struct {
	CounterpartID uint64
	LastID        uint64
	Total         int64
	Unread        int64
}

func (r *Repo) directStats(ctx context.Context, userID uint64) ([]directStat, error) {
	var stats []directStat
	err := r.db.WithContext(ctx).Raw(`
SELECT CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END AS counterpart_id,
       MAX(id) AS last_id,
       COUNT(*) AS total,
       SUM(CASE WHEN recipient_id = ? AND is_read = ? THEN 1 ELSE 0 END) AS unread
FROM direct_messages
WHERE sender_id = ? OR recipient_id = ?
GROUP BY counterpart_id`, userID, userID, false, userID, userID).
		Scan(&stats).Error
	return stats, err
}

type groupStat struct {
	GroupID uint64
	LastID  uint64
	Total   int64
	Unread  int64
}

func (r *Repo) groupStats(ctx context.Context, userID uint64, groupIDs []uint64) ([]groupStat, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var stats []groupStat
	err := r.db.WithContext(ctx).Raw(`
SELECT group_id,
       MAX(id) AS last_id,
       COUNT(*) AS total,
       SUM(CASE WHEN sender_id <> ? AND NOT EXISTS (
             SELECT 1 FROM group_message_reads
             WHERE group_message_reads.message_id = group_messages.id AND group_message_reads.user_id = ?
           ) THEN 1 ELSE 0 END) AS unread
FROM group_messages
WHERE group_id IN ?
GROUP BY group_id`, userID, userID, groupIDs).
		Scan(&stats).Error
	return stats, err
}

func (r *Repo) directMessagesByID(ctx context.Context, ids []uint64) (map[uint64]DirectMessage, error) {
	out := make(map[uint64]DirectMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var msgs []DirectMessage
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (r *Repo) groupMessagesByID(ctx context.Context, ids []uint64) (map[uint64]GroupMessage, error) {
	out := make(map[uint64]GroupMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var msgs []GroupMessage
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

// UpdateJobStatusRunning claims a queued job. It reports false when another worker got there first.
func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, messageID uint64) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": messageID,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}

// DeleteQueuedJob removes a job no worker has claimed yet.
func (r *Repo) DeleteQueuedJob(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, JobQueued).
		Delete(&Job{})
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID uint64, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id, idempotency_key) already exists,
// it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
