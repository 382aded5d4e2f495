// Package message is the append-only chat message log.
package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// MaxAuthorLength is the longest author name, in characters, the messages
// table accepts.
const MaxAuthorLength = 255

// ErrPersistenceUnavailable means the message could not be committed.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// Message is an inbound chat message. Both fields are client supplied.
type Message struct {
	Author string
	Body   string
}

// Persisted is a committed message with its server-assigned identity and time.
type Persisted struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Log is the append-only message store.
type Log interface {
	// Append commits m. A returned value means the message is durable;
	// on error nothing was written.
	Append(ctx context.Context, m Message) (Persisted, error)
	// Recent returns up to limit of the newest messages, oldest first.
	Recent(ctx context.Context, limit int) ([]Persisted, error)
}

// Record is the GORM model for the messages table.
type Record struct {
	ID        string    `gorm:"type:char(26);primaryKey"`
	Author    string    `gorm:"type:varchar(255);not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index;not null"`
}

// TableName specifies the table name for Record.
func (Record) TableName() string {
	return "messages"
}

func (r Record) toPersisted() Persisted {
	return Persisted{
		ID:        r.ID,
		Author:    r.Author,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
	}
}

// GormLog implements Log on a GORM database.
type GormLog struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormLog creates a message log on db. The messages table must exist;
// see Migrate.
func NewGormLog(db *gorm.DB) *GormLog {
	return &GormLog{db: db, now: time.Now}
}

// Migrate creates or updates the messages table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Append implements Log.
func (l *GormLog) Append(ctx context.Context, m Message) (Persisted, error) {
	rec := Record{
		ID:        ulid.Make().String(),
		Author:    m.Author,
		Body:      m.Body,
		CreatedAt: l.now().UTC(),
	}

	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Persisted{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return rec.toPersisted(), nil
}

// Recent implements Log.
func (l *GormLog) Recent(ctx context.Context, limit int) ([]Persisted, error) {
	if limit <= 0 {
		return nil, nil
	}

	var recs []Record
	err := l.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	out := make([]Persisted, len(recs))
	for i, rec := range recs {
		out[len(recs)-1-i] = rec.toPersisted()
	}
	return out, nil
}
