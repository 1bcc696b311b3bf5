package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"caregistrar/core/events"
	"caregistrar/core/types"
	"caregistrar/observability"
)

// MaxRecent caps the number of rows returned by Recent.
const MaxRecent = 500

// Entry is one committed registry event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq        int64     `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Name       string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "journal_events" }

// Event reconstructs the event value from a stored row.
func (e Entry) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(e.Attributes) != "" {
		if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("journal: decode attributes: %w", err)
		}
	}
	return &types.Event{Type: e.Type, Attributes: attrs}, nil
}

// Journal persists committed events to SQL. It implements events.Emitter so
// it can sit behind the registrar's fan-out alongside the stream hub.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq int64
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last struct{ Max int64 }
	if err := db.Model(&Entry{}).Select("COALESCE(MAX(seq), 0) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	return &Journal{db: db, logger: log, now: time.Now, seq: last.Max}, nil
}

// Append stores evt and returns the persisted row.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (*Entry, error) {
	if evt == nil {
		return nil, fmt.Errorf("journal: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entry := &Entry{
		ID:         uuid.New(),
		Seq:        j.seq + 1,
		Type:       evt.Type,
		Name:       evt.Attr("name"),
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("journal: append: %w", err)
	}
	j.seq = entry.Seq
	return entry, nil
}

// Recent returns up to limit events, newest first. Filtering by name is
// optional.
func (j *Journal) Recent(ctx context.Context, limit int, name string) ([]Entry, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}
	query := j.db.WithContext(ctx).Order("seq DESC").Limit(limit)
	if name = strings.TrimSpace(name); name != "" {
		query = query.Where("name = ?", name)
	}
	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return entries, nil
}

// Emit implements events.Emitter. Persistence failures are logged and counted
// because events are published after the registry commit and cannot fail it.
func (j *Journal) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	if _, err := j.Append(context.Background(), payload.Event()); err != nil {
		observability.Events().RecordDropped("journal")
		j.logger.Error("journal append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
