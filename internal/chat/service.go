package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/community-chat/internal/metrics"
)

// Announcer pushes freshly stored messages to live sessions in the message's room.
type Announcer interface {
	AnnounceDirect(m *DirectMessage)
	AnnounceGroup(m *GroupMessage)
	// AnnounceLeave revokes live access to a group the user just left.
	AnnounceLeave(groupID, userID uint64)
}

type Service struct {
	repo      *Repo
	announcer Announcer
	pageSize  int
}

func NewService(repo *Repo, announcer Announcer, pageSize int) *Service {
	if pageSize <= 0 || pageSize > MaxPageLimit {
		pageSize = DefaultPageLimit
	}
	return &Service{repo: repo, announcer: announcer, pageSize: pageSize}
}

func (s *Service) Repo() *Repo { return s.repo }

func (s *Service) page(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = s.pageSize
	}
	return p
}

// DirectHistory returns one page of the conversation with otherID and marks
// everything otherID sent to userID as read.
func (s *Service) DirectHistory(ctx context.Context, userID, otherID uint64, p Page) ([]DirectMessage, error) {
	if userID == otherID {
		return nil, ErrSelfMessage
	}
	ok, err := s.repo.UserExists(ctx, otherID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidRecipient
	}

	if _, err := s.repo.MarkDirectThreadRead(ctx, userID, otherID); err != nil {
		return nil, err
	}
	return s.repo.FetchDirectHistory(ctx, userID, otherID, s.page(p))
}

func (s *Service) GroupHistory(ctx context.Context, userID, groupID uint64, p Page) ([]GroupMessage, error) {
	if err := s.repo.CheckMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.repo.FetchGroupHistory(ctx, groupID, s.page(p))
}

func (s *Service) MarkGroupRead(ctx context.Context, userID, groupID uint64) (int64, error) {
	if err := s.repo.CheckMember(ctx, groupID, userID); err != nil {
		return 0, err
	}
	return s.repo.MarkGroupMessagesRead(ctx, groupID, userID)
}

func (s *Service) SendDirect(ctx context.Context, senderID, recipientID uint64, content string) (*DirectMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	m, err := s.repo.AppendDirect(ctx, senderID, recipientID, content)
	if err != nil {
		return nil, err
	}
	metrics.MessagesPersisted.WithLabelValues("direct").Inc()
	if s.announcer != nil {
		s.announcer.AnnounceDirect(m)
	}
	return m, nil
}

func (s *Service) SendGroup(ctx context.Context, groupID, senderID uint64, content string) (*GroupMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	m, err := s.repo.AppendGroup(ctx, groupID, senderID, content)
	if err != nil {
		return nil, err
	}
	metrics.MessagesPersisted.WithLabelValues("group").Inc()
	if s.announcer != nil {
		s.announcer.AnnounceGroup(m)
	}
	return m, nil
}

func (s *Service) CreateGroup(ctx context.Context, creatorID uint64, name string) (*GroupChat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrGroupNameRequired
	}
	g := &GroupChat{Name: name, CreatorID: creatorID}
	if err := s.repo.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) JoinGroup(ctx context.Context, userID, groupID uint64) error {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return err
	}
	return s.repo.AddMember(ctx, groupID, userID)
}

func (s *Service) LeaveGroup(ctx context.Context, userID, groupID uint64) error {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return err
	}
	n, err := s.repo.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotAMember
	}
	if s.announcer != nil {
		s.announcer.AnnounceLeave(groupID, userID)
	}
	return nil
}

func (s *Service) ListGroups(ctx context.Context, userID uint64) ([]GroupChat, error) {
	return s.repo.ListGroupsForUser(ctx, userID)
}

// CreateSendJob validates an async send and stores it. The bool reports whether
// a new job was created; false means the idempotency key matched an earlier job.
func (s *Service) CreateSendJob(ctx context.Context, job *Job) (*Job, bool, error) {
	job.Content = strings.TrimSpace(job.Content)
	if job.Content == "" {
		return nil, false, ErrEmptyContent
	}
	switch job.Kind {
	case JobDirect:
		if job.TargetID == job.UserID {
			return nil, false, ErrSelfMessage
		}
		ok, err := s.repo.UserExists(ctx, job.TargetID)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, ErrInvalidRecipient
		}
	case JobGroup:
		if err := s.repo.CheckMember(ctx, job.TargetID, job.UserID); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, ErrInvalidJob
	}
	job.Status = JobQueued
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

// AbandonSendJob rolls back a job that could not be handed to the queue, so a
// retry with the same idempotency key creates and publishes it again.
func (s *Service) AbandonSendJob(ctx context.Context, jobID string) error {
	_, err := s.repo.DeleteQueuedJob(ctx, jobID)
	return err
}

// GetJob hides jobs owned by other users.
func (s *Service) GetJob(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// ProcessJob runs a queued send. A job already claimed by another worker is skipped.
// Validation failures mark the job failed and are not returned, so the delivery is acked.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	claimed, err := s.repo.UpdateJobStatusRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	var msgID uint64
	switch j.Kind {
	case JobDirect:
		var m *DirectMessage
		m, err = s.SendDirect(ctx, j.UserID, j.TargetID, j.Content)
		if m != nil {
			msgID = m.ID
		}
	case JobGroup:
		var m *GroupMessage
		m, err = s.SendGroup(ctx, j.TargetID, j.UserID, j.Content)
		if m != nil {
			msgID = m.ID
		}
	default:
		err = ErrInvalidJob
	}

	if err != nil {
		if markErr := s.repo.MarkJobFailed(ctx, jobID, err.Error()); markErr != nil {
			return markErr
		}
		if isValidationErr(err) {
			return nil
		}
		return err
	}
	return s.repo.MarkJobSucceeded(ctx, jobID, msgID)
}

func isValidationErr(err error) bool {
	return errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, ErrSelfMessage) ||
		errors.Is(err, ErrNotAMember) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrInvalidJob)
}
