package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/database"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/metrics"
	"pcbrecon-backend/internal/models"
	"pcbrecon-backend/internal/turnlock"
)

// MaxMessageLength is the longest user message accepted, in characters.
const MaxMessageLength = 4000

type ChatServiceConfig struct {
	ChatModel        string
	InferenceTimeout time.Duration
}

// ChatService runs chat turns: one user message in, one bot reply out.
type ChatService struct {
	store     database.Store
	inference InferenceClient
	locker    turnlock.Locker
	cfg       ChatServiceConfig
	log       *logger.Logger
}

func NewChatService(store database.Store, inference InferenceClient, locker turnlock.Locker, cfg ChatServiceConfig, log *logger.Logger) *ChatService {
	return &ChatService{
		store:     store,
		inference: inference,
		locker:    locker,
		cfg:       cfg,
		log:       log.With("service", "ChatService"),
	}
}

func turnKey(projectID int64) string {
	return fmt.Sprintf("project:%d", projectID)
}

// SendMessage persists the user message, asks the model for a reply and
// persists that too. If inference fails the user message stays recorded and
// no bot message is written. Only one turn per project runs at a time;
// a concurrent call fails with apperr.ErrBusy.
func (s *ChatService) SendMessage(ctx context.Context, projectID int64, message string) (*models.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validation("message", "Please enter a message")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, apperr.Validation("message", fmt.Sprintf("Message must be at most %d characters", MaxMessageLength))
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	image, err := imagePart(project)
	if err != nil {
		return nil, fmt.Errorf("stored image for project %d is unreadable: %w", projectID, err)
	}

	release, err := s.locker.TryLock(ctx, turnKey(projectID))
	if err != nil {
		if errors.Is(err, apperr.ErrBusy) {
			metrics.ChatTurnsTotal.WithLabelValues("busy").Inc()
		}
		return nil, err
	}
	defer release()

	history, err := s.store.ListMessages(ctx, projectID)
	if err != nil {
		return nil, err
	}

	userMsg := &models.ChatMessage{ProjectID: projectID, Sender: models.SenderUser, Message: message}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	callCtx, cancel := detach(ctx, s.cfg.InferenceTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.inference.GenerateContent(callCtx, s.cfg.ChatModel, buildChatRequest(project, image, history, message))
	reply = strings.TrimSpace(reply)
	if err == nil && reply == "" {
		err = emptyReply(operationChat)
	}
	recordInference(operationChat, start, err)
	if err != nil {
		metrics.ChatTurnsTotal.WithLabelValues("failed").Inc()
		s.log.Warn("chat turn failed", "project_id", projectID, "user_message_id", userMsg.ID, "error", err)
		return nil, err
	}

	botMsg := &models.ChatMessage{ProjectID: projectID, Sender: models.SenderBot, Message: reply}
	if err := s.store.AppendMessage(callCtx, botMsg); err != nil {
		metrics.ChatTurnsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.ChatTurnsTotal.WithLabelValues("ok").Inc()
	s.log.Debug("chat turn completed",
		"project_id", projectID,
		"history", len(history),
		"duration", time.Since(start),
	)
	return botMsg, nil
}

// ListMessages returns the ordered transcript of an existing project.
func (s *ChatService) ListMessages(ctx context.Context, projectID int64) ([]models.ChatMessage, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, projectID)
}
