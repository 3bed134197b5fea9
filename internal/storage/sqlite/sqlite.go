package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type chatModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	IsGroup   bool
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (chatModel) TableName() string { return "chats" }

type participantModel struct {
	ChatID   string `gorm:"primaryKey"`
	UserID   string `gorm:"primaryKey;index"`
	JoinedAt time.Time
	User     userModel `gorm:"foreignKey:UserID"`
}

func (participantModel) TableName() string { return "chat_participants" }

type messageModel struct {
	ID        string `gorm:"primaryKey"`
	ChatID    string `gorm:"index:idx_messages_chat_created,priority:1"`
	SenderID  string
	Content   string
	Type      string
	CreatedAt time.Time `gorm:"index:idx_messages_chat_created,priority:2"`
	Sender    userModel `gorm:"foreignKey:SenderID"`
}

func (messageModel) TableName() string { return "messages" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&userModel{}, &chatModel{}, &participantModel{}, &messageModel{})
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	model := userModel{
		ID:        user.ID,
		Username:  user.Username,
		Password:  user.Password,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return err
	}
	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt
	return nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return toUser(model), nil
}

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return toUser(model), nil
}

// ChatExists reports whether a chat with the id is stored.
func (s *Store) ChatExists(ctx context.Context, chatID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&chatModel{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetChatSnapshot loads a chat with its participants and newest message.
func (s *Store) GetChatSnapshot(ctx context.Context, chatID string) (*storage.ChatSnapshot, error) {
	db := s.db.WithContext(ctx)

	var chat chatModel
	if err := db.Where("id = ?", chatID).First(&chat).Error; err != nil {
		return nil, translate(err)
	}

	var participants []participantModel
	if err := db.Preload("User").Where("chat_id = ?", chatID).Order("joined_at asc").Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	var latest []messageModel
	if err := db.Preload("Sender").Where("chat_id = ?", chatID).Order("created_at desc").Limit(1).Find(&latest).Error; err != nil {
		return nil, fmt.Errorf("load latest message: %w", err)
	}

	snapshot := &storage.ChatSnapshot{
		Chat:         toChat(chat),
		Participants: lo.Map(participants, func(p participantModel, _ int) storage.Participant { return toParticipant(p) }),
		Messages:     lo.Map(latest, func(m messageModel, _ int) storage.Message { return toMessage(m) }),
	}
	return snapshot, nil
}

// CreateChat stores a chat and its participants atomically.
func (s *Store) CreateChat(ctx context.Context, chat *storage.Chat, participantIDs []string) error {
	if chat == nil {
		return errors.New("nil chat")
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	ids := lo.Uniq(lo.Compact(participantIDs))

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := chatModel{ID: chat.ID, Name: chat.Name, IsGroup: chat.IsGroup, CreatedAt: chat.CreatedAt, UpdatedAt: chat.UpdatedAt}
		if err := tx.Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return storage.ErrConflict
			}
			return err
		}
		now := time.Now().UTC()
		for _, id := range ids {
			p := participantModel{ChatID: chat.ID, UserID: id, JoinedAt: now}
			if err := tx.Omit("User").Create(&p).Error; err != nil {
				return fmt.Errorf("add participant %s: %w", id, err)
			}
		}
		chat.CreatedAt = model.CreatedAt
		chat.UpdatedAt = model.UpdatedAt
		return nil
	})
}

// ListChatsForUser returns snapshots of every chat the user participates in,
// most recently active first.
func (s *Store) ListChatsForUser(ctx context.Context, userID string) ([]storage.ChatSnapshot, error) {
	var chatIDs []string
	err := s.db.WithContext(ctx).
		Model(&participantModel{}).
		Joins("JOIN chats ON chats.id = chat_participants.chat_id").
		Where("chat_participants.user_id = ?", userID).
		Order("chats.updated_at desc").
		Pluck("chat_participants.chat_id", &chatIDs).Error
	if err != nil {
		return nil, err
	}

	snapshots := make([]storage.ChatSnapshot, 0, len(chatIDs))
	for _, id := range chatIDs {
		snapshot, err := s.GetChatSnapshot(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snapshot)
	}
	return snapshots, nil
}

// IsParticipant reports whether the user belongs to the chat.
func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&participantModel{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RemoveParticipant removes a user from a chat.
func (s *Store) RemoveParticipant(ctx context.Context, chatID, userID string) error {
	res := s.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&participantModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateMessage stores a message. The chat must exist at write time.
func (s *Store) CreateMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = storage.MessageTypeUser
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat chatModel
		if err := tx.Where("id = ?", msg.ChatID).First(&chat).Error; err != nil {
			return translate(err)
		}
		model := messageModel{
			ID:        msg.ID,
			ChatID:    msg.ChatID,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			Type:      string(msg.Type),
			CreatedAt: msg.CreatedAt,
		}
		if err := tx.Omit("Sender").Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Model(&chat).Update("updated_at", msg.CreatedAt).Error; err != nil {
			return err
		}
		var sender userModel
		err := tx.Where("id = ?", msg.SenderID).First(&sender).Error
		switch {
		case err == nil:
			msg.Sender = toUser(sender)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return nil
	})
}

// ListMessages returns up to limit messages of a chat, oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []messageModel
	err := s.db.WithContext(ctx).Preload("Sender").
		Where("chat_id = ?", chatID).
		Order("created_at desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	messages := make([]storage.Message, len(models))
	for i, m := range models {
		messages[len(models)-1-i] = toMessage(m)
	}
	return messages, nil
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*storage.Message, error) {
	var model messageModel
	if err := s.db.WithContext(ctx).Preload("Sender").Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	msg := toMessage(model)
	return &msg, nil
}

// DeleteMessage removes a message by id.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&messageModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toUser(m userModel) *storage.User {
	return &storage.User{
		ID:        m.ID,
		Username:  m.Username,
		Password:  m.Password,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toChat(m chatModel) storage.Chat {
	return storage.Chat{
		ID:        m.ID,
		Name:      m.Name,
		IsGroup:   m.IsGroup,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toParticipant(m participantModel) storage.Participant {
	p := storage.Participant{ChatID: m.ChatID, UserID: m.UserID, JoinedAt: m.JoinedAt}
	if m.User.ID != "" {
		p.User = toUser(m.User)
	}
	return p
}

func toMessage(m messageModel) storage.Message {
	msg := storage.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      storage.MessageType(m.Type),
		CreatedAt: m.CreatedAt,
	}
	if m.Sender.ID != "" {
		msg.Sender = toUser(m.Sender)
	}
	return msg
}
