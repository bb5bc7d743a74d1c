package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/*.sql
var embedded embed.FS

const (
	upSuffix   = "_up.sql"
	downSuffix = "_down.sql"
)

// Migration 一个版本的向上/向下脚本路径，Down 可为空
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// Runner 迁移执行器；FS 为空时使用内置的 datapoints/node_events 迁移
type Runner struct {
	FS fs.FS
}

// Up 使用内置迁移
func Up(ctx context.Context, db *pgxpool.Pool) error {
	return Runner{}.Up(ctx, db)
}

func (r Runner) fsys() (fs.FS, error) {
	if r.FS != nil {
		return r.FS, nil
	}
	return fs.Sub(embedded, "sql")
}

// parseName 拆出 "0001_datapoints_up.sql" 的版本号、名称与方向
func parseName(file string) (ver int64, name string, up bool, ok bool) {
	var stem string
	switch {
	case strings.HasSuffix(file, upSuffix):
		stem, up = strings.TrimSuffix(file, upSuffix), true
	case strings.HasSuffix(file, downSuffix):
		stem = strings.TrimSuffix(file, downSuffix)
	default:
		return 0, "", false, false
	}
	num, name, _ := strings.Cut(stem, "_")
	ver, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, "", false, false
	}
	return ver, name, up, true
}

// Discover 扫描迁移文件，按版本升序；只有 down 脚本的版本被忽略
func (r Runner) Discover() ([]Migration, error) {
	fsys, err := r.fsys()
	if err != nil {
		return nil, err
	}
	byVer := make(map[int64]*Migration)
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ver, name, up, ok := parseName(path.Base(p))
		if !ok {
			return nil
		}
		m := byVer[ver]
		if m == nil {
			m = &Migration{Version: ver, Name: name}
			byVer[ver] = m
		}
		if up {
			m.Up = p
		} else {
			m.Down = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(byVer))
	for _, m := range byVer {
		if m.Up != "" {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func ensureTable(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version BIGINT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`)
	return err
}

// Applied 已应用的版本集合
func Applied(ctx context.Context, db *pgxpool.Pool) (map[int64]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	res := make(map[int64]bool, len(versions))
	for _, v := range versions {
		res[v] = true
	}
	return res, nil
}

// Pending 返回 applied 中尚未包含的迁移
func Pending(all []Migration, applied map[int64]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

func (r Runner) apply(ctx context.Context, db *pgxpool.Pool, file, record string, ver int64) error {
	fsys, err := r.fsys()
	if err != nil {
		return err
	}
	script, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(script)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, record, ver)
		return err
	})
	if err != nil {
		return fmt.Errorf("migration %d (%s): %w", ver, path.Base(file), err)
	}
	return nil
}

func (r Runner) prepare(ctx context.Context, db *pgxpool.Pool) ([]Migration, map[int64]bool, error) {
	if db == nil {
		return nil, nil, errors.New("migrate: nil pool")
	}
	if err := ensureTable(ctx, db); err != nil {
		return nil, nil, err
	}
	applied, err := Applied(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	all, err := r.Discover()
	if err != nil {
		return nil, nil, err
	}
	return all, applied, nil
}

// Up 按版本顺序执行未应用的迁移，每个版本一个事务
func (r Runner) Up(ctx context.Context, db *pgxpool.Pool) error {
	all, applied, err := r.prepare(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range Pending(all, applied) {
		if err := r.apply(ctx, db, m.Up, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Version); err != nil {
			return err
		}
	}
	return nil
}

// Down 回滚最近应用的 steps 个版本
func (r Runner) Down(ctx context.Context, db *pgxpool.Pool, steps int) error {
	all, applied, err := r.prepare(ctx, db)
	if err != nil {
		return err
	}
	for i := len(all) - 1; i >= 0 && steps > 0; i-- {
		m := all[i]
		if !applied[m.Version] {
			continue
		}
		if m.Down == "" {
			return fmt.Errorf("migration %d has no down script", m.Version)
		}
		if err := r.apply(ctx, db, m.Down, `DELETE FROM schema_migrations WHERE version=$1`, m.Version); err != nil {
			return err
		}
		steps--
	}
	return nil
}
