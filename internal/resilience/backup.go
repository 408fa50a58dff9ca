package resilience

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/store"
)

// backupTables lists the guild-scoped tables in restore order (parents
// before children).
var backupTables = []string{
	"guild_settings",
	"guild_roles",
	"guild_channels",
	"guild_members",
	"events_data",
	"guild_static_groups",
	"welcome_messages",
	"absence_messages",
}

// GuildBackup is the serialized document: per table, column names and
// row values.
type GuildBackup struct {
	ID        string               `json:"id"`
	GuildID   string               `json:"guild_id"`
	CreatedAt time.Time            `json:"created_at"`
	Tables    map[string]tableRows `json:"tables"`
}

type tableRows struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// BackupManager serializes a guild's store-side rows to JSON files and
// replays them through the transactional batch path.
type BackupManager struct {
	gw  *store.Gateway
	dir string
	log *zap.Logger
}

// NewBackupManager builds a manager writing into dir.
func NewBackupManager(gw *store.Gateway, dir string, log *zap.Logger) *BackupManager {
	return &BackupManager{gw: gw, dir: dir, log: log}
}

// Backup dumps every guild-scoped table and writes one JSON document.
// Returns the written path.
func (b *BackupManager) Backup(ctx context.Context, guildID string) (string, error) {
	doc := GuildBackup{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		CreatedAt: time.Now().UTC(),
		Tables:    make(map[string]tableRows, len(backupTables)),
	}
	for _, table := range backupTables {
		rows, err := b.dumpTable(ctx, table, guildID)
		if err != nil {
			return "", fmt.Errorf("backing up %s: %w", table, err)
		}
		doc.Tables[table] = rows
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(b.dir, fmt.Sprintf("guild_%s_%s.json", guildID, doc.CreatedAt.Format("20060102T150405")))
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	b.log.Info("guild backup written",
		zap.String("guild", guildID), zap.String("path", path))
	return path, nil
}

func (b *BackupManager) dumpTable(ctx context.Context, table, guildID string) (tableRows, error) {
	var out tableRows
	// Table names come from the fixed backupTables list, never from
	// input.
	query := fmt.Sprintf("SELECT * FROM %s WHERE guild_id = ?", table)
	err := b.gw.FetchAll(ctx, query, []any{guildID}, func(rows *sql.Rows) error {
		if out.Columns == nil {
			cols, err := rows.Columns()
			if err != nil {
				return err
			}
			out.Columns = cols
		}
		vals := make([]any, len(out.Columns))
		ptrs := make([]any, len(out.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range vals {
			if raw, ok := v.([]byte); ok {
				vals[i] = string(raw)
			}
		}
		out.Rows = append(out.Rows, vals)
		return nil
	})
	return out, err
}

// Restore replays a backup document as one transactional batch. Rows
// are merged with REPLACE so a partial guild state is overwritten.
func (b *BackupManager) Restore(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc GuildBackup
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing backup: %w", err)
	}

	var stmts []store.Stmt
	for _, table := range backupTables {
		tr, ok := doc.Tables[table]
		if !ok || len(tr.Rows) == 0 {
			continue
		}
		query := fmt.Sprintf("REPLACE INTO %s (%s) VALUES (%s)",
			table, joinColumns(tr.Columns), store.Placeholders(len(tr.Columns)))
		for _, row := range tr.Rows {
			stmts = append(stmts, store.Stmt{SQL: query, Args: row})
		}
	}
	if err := b.gw.ExecBatch(ctx, stmts); err != nil {
		return fmt.Errorf("restoring guild %s: %w", doc.GuildID, err)
	}
	b.log.Info("guild backup restored",
		zap.String("guild", doc.GuildID), zap.Int("statements", len(stmts)))
	return nil
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += "`" + c + "`"
	}
	return out
}
