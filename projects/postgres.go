package projects

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// notifyChannel carries "{appID}/{uid}" after every write.
const notifyChannel = "webforge_projects"

// PostgresConfig is the connection used by PostgresStore.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// NewPostgresPool connects, pings and applies the embedded migrations.
func NewPostgresPool(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := Migrate(cfg.DSN); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres ready", zap.String("host", poolCfg.ConnConfig.Host), zap.String("database", poolCfg.ConnConfig.Database))
	return pool, nil
}

// Migrate brings the schema up to date.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "webforge_schema_migrations"})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()
	m.LockTimeout = 30 * time.Second
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// PostgresStore keeps projects in one table keyed by app and user. Writes
// send a NOTIFY in the same transaction; subscribers LISTEN on a dedicated
// connection and reload the list.
type PostgresStore struct {
	pool   *pgxpool.Pool
	appID  string
	logger *zap.Logger
}

type projectRow struct {
	ID        string     `db:"id"`
	Name      string     `db:"name"`
	Prompt    string     `db:"prompt"`
	HTML      string     `db:"html"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
}

func (r projectRow) project() Project {
	p := Project{ID: r.ID, Name: r.Name, PromptText: r.Prompt, HTML: r.HTML, CreatedAt: r.CreatedAt}
	if r.UpdatedAt != nil {
		p.UpdatedAt = *r.UpdatedAt
	}
	return p
}

const projectColumns = `id, name, prompt, html, created_at, updated_at`

func NewPostgresStore(pool *pgxpool.Pool, appID string, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, appID: appID, logger: logger.Named("postgres")}
}

func (s *PostgresStore) payload(uid string) string {
	return s.appID + "/" + uid
}

// write runs fn in a transaction followed by the change notification.
func (s *PostgresStore) write(ctx context.Context, uid string, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, s.payload(uid))
		return err
	})
}

func (s *PostgresStore) Create(ctx context.Context, uid string, p Project) (Project, error) {
	var row projectRow
	err := s.write(ctx, uid, func(tx pgx.Tx) error {
		return pgxscan.Get(ctx, tx, &row,
			`INSERT INTO projects (id, app_id, user_id, name, prompt, html)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+projectColumns,
			uuid.NewString(), s.appID, uid, p.Name, p.PromptText, p.HTML)
	})
	if err != nil {
		return Project{}, err
	}
	return row.project(), nil
}

func (s *PostgresStore) Update(ctx context.Context, uid string, p Project) (Project, error) {
	var row projectRow
	err := s.write(ctx, uid, func(tx pgx.Tx) error {
		return pgxscan.Get(ctx, tx, &row,
			`UPDATE projects SET name = $1, prompt = $2, html = $3, updated_at = now()
			 WHERE app_id = $4 AND user_id = $5 AND id = $6
			 RETURNING `+projectColumns,
			p.Name, p.PromptText, p.HTML, s.appID, uid, p.ID)
	})
	if err != nil {
		if pgxscan.NotFound(err) {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	return row.project(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, uid, id string) error {
	return s.write(ctx, uid, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM projects WHERE app_id = $1 AND user_id = $2 AND id = $3`, s.appID, uid, id)
		return err
	})
}

func (s *PostgresStore) list(ctx context.Context, q pgxscan.Querier, uid string) ([]Project, error) {
	var rows []projectRow
	err := pgxscan.Select(ctx, q, &rows,
		`SELECT `+projectColumns+` FROM projects
		 WHERE app_id = $1 AND user_id = $2
		 ORDER BY created_at DESC, seq DESC`,
		s.appID, uid)
	if err != nil {
		return nil, err
	}
	list := make([]Project, len(rows))
	for i, r := range rows {
		list[i] = r.project()
	}
	return list, nil
}

// SubscribeAll holds one pooled connection for the lifetime of ctx.
func (s *PostgresStore) SubscribeAll(ctx context.Context, uid string) (<-chan Snapshot, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen projects: %w", err)
	}
	release := func() {
		// The connection goes back to the pool, so drop the LISTEN first.
		unlistenCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlistenCtx, "UNLISTEN *"); err != nil {
			_ = conn.Conn().Close(unlistenCtx)
		}
		conn.Release()
	}
	first, err := s.list(ctx, conn, uid)
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan Snapshot, 1)
	out <- Snapshot{Projects: first}
	want := s.payload(uid)
	go func() {
		defer close(out)
		defer release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("project notification failed", zap.String("uid", uid), zap.Error(err))
				sendLatest(ctx, out, Snapshot{Err: err})
				return
			}
			if n.Payload != want {
				continue
			}
			list, err := s.list(ctx, conn, uid)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("reload projects failed", zap.String("uid", uid), zap.Error(err))
				sendLatest(ctx, out, Snapshot{Err: err})
				return
			}
			sendLatest(ctx, out, Snapshot{Projects: list})
		}
	}()
	return out, nil
}
