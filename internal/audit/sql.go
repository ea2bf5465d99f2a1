package audit

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/filevault-gateway/internal/audit/migrations"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var placeholder = regexp.MustCompile(`\$\d+`)

// SQLRecorder 审计事件持久化
type SQLRecorder struct {
	db     *sql.DB
	driver string
	now    func() time.Time
	logger logrus.FieldLogger
}

// Open connects to the audit database and applies pending migrations.
func Open(ctx context.Context, driver, dsn string, logger logrus.FieldLogger) (*SQLRecorder, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite serialises writers anyway; one connection also keeps
		// :memory: databases alive across calls
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}

	return NewSQLRecorder(db, driver, logger), nil
}

// Migrate applies the embedded migrations for driver.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	fsys, err := fs.Sub(migrations.Migrations, driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	return nil
}

func NewSQLRecorder(db *sql.DB, driver string, logger logrus.FieldLogger) *SQLRecorder {
	return &SQLRecorder{
		db:     db,
		driver: driver,
		now:    time.Now,
		logger: logger.WithField("component", "audit"),
	}
}

func (r *SQLRecorder) rebind(query string) string {
	if r.driver == DriverSQLite {
		return placeholder.ReplaceAllString(query, "?")
	}
	return query
}

// Record stores e. Failures are logged and otherwise ignored.
func (r *SQLRecorder) Record(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}

	var userID sql.NullString
	if e.UserID != uuid.Nil {
		userID = sql.NullString{String: e.UserID.String(), Valid: true}
	}

	query := r.rebind(`INSERT INTO audit_events (occurred_at, event, user_id, email, subject, remote_addr)
		VALUES ($1, $2, $3, $4, $5, $6)`)

	_, err := r.db.ExecContext(ctx, query,
		e.OccurredAt.UTC(), e.Type, userID, e.Email, e.Subject, e.RemoteAddr)
	if err != nil {
		r.logger.WithError(err).WithField("event", e.Type).Error("failed to record audit event")
	}
}

// Recent returns the newest events of userID, newest first.
func (r *SQLRecorder) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultRecentMax
	}

	query := r.rebind(`SELECT id, occurred_at, event, user_id, email, subject, remote_addr
		FROM audit_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`)

	rows, err := r.db.QueryContext(ctx, query, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e                       Event
			uid, email, subj, raddr sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Type, &uid, &email, &subj, &raddr); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if uid.Valid {
			e.UserID, _ = uuid.Parse(uid.String)
		}
		e.Email = email.String
		e.Subject = subj.String
		e.RemoteAddr = raddr.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	return events, nil
}

func (r *SQLRecorder) Close() error {
	return r.db.Close()
}
