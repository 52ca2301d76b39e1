package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/storage"
)

const selectEntry = `
	SELECT dn, attributes, version, deleted
	FROM entries
`

// GetEntry returns the entry stored under dn, tombstones included
func (s *Storage) GetEntry(ctx context.Context, dn string) (*models.Entry, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	key := models.NormalizeDN(dn)
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE dn_key = ?`, key)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrEntryNotFound, key)
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return entry, nil
}

// PutEntry stores entry if the stored version equals expectedVersion
func (s *Storage) PutEntry(ctx context.Context, entry *models.Entry, expectedVersion int64) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	attrs, err := json.Marshal(entry.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	key := entry.Key()
	next := expectedVersion + 1
	newest := storage.NewestChange(entry).SortKey()
	now := time.Now().Unix()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO entries (dn_key, dn, entry_uuid, attributes, version, deleted, newest_cn, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(dn_key) DO NOTHING
		`, key, entry.DN, entry.EntryUUID(), string(attrs), next, boolToInt(entry.Deleted), newest, now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE entries
			SET dn = ?, entry_uuid = ?, attributes = ?, version = ?, deleted = ?, newest_cn = ?, updated_at = ?
			WHERE dn_key = ? AND version = ?
		`, entry.DN, entry.EntryUUID(), string(attrs), next, boolToInt(entry.Deleted), newest, now, key, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s expected version %d", storage.ErrWriteConflict, key, expectedVersion)
	}

	entry.Version = next
	return nil
}

// DeleteEntry removes the entry if its version equals expectedVersion
func (s *Storage) DeleteEntry(ctx context.Context, dn string, expectedVersion int64) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	key := models.NormalizeDN(dn)
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE dn_key = ? AND version = ?`, key, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// различаем отсутствующую запись и конфликт версий
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE dn_key = ?`, key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrEntryNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to check entry: %w", err)
	}
	return fmt.Errorf("%w: %s expected version %d", storage.ErrWriteConflict, key, expectedVersion)
}

// ScanEntries returns up to limit entries with keys after afterKey
func (s *Storage) ScanEntries(ctx context.Context, afterKey string, limit int) ([]*models.Entry, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	return s.queryEntries(ctx, selectEntry+` WHERE dn_key > ? ORDER BY dn_key ASC LIMIT ?`, afterKey, limit)
}

// ScanChangedSince returns up to limit entries changed after since, in key order
func (s *Storage) ScanChangedSince(ctx context.Context, since crdt.ChangeNumber, afterKey string, limit int) ([]*models.Entry, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	return s.queryEntries(ctx, selectEntry+`
		WHERE (newest_cn > ? OR newest_cn = '') AND dn_key > ?
		ORDER BY dn_key ASC LIMIT ?
	`, since.SortKey(), afterKey, limit)
}

func (s *Storage) queryEntries(ctx context.Context, query string, args ...any) (entries []*models.Entry, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

// Import overwrites stored entries in one transaction
func (s *Storage) Import(ctx context.Context, entries []*models.Entry) (err error) {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().Unix()
	for _, entry := range entries {
		attrs, err := json.Marshal(entry.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (dn_key, dn, entry_uuid, attributes, version, deleted, newest_cn, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?)
			ON CONFLICT(dn_key) DO UPDATE SET
				dn = excluded.dn,
				entry_uuid = excluded.entry_uuid,
				attributes = excluded.attributes,
				version = entries.version + 1,
				deleted = excluded.deleted,
				newest_cn = excluded.newest_cn,
				updated_at = excluded.updated_at
		`, entry.Key(), entry.DN, entry.EntryUUID(), string(attrs), boolToInt(entry.Deleted),
			storage.NewestChange(entry).SortKey(), now)
		if err != nil {
			return fmt.Errorf("failed to import entry %s: %w", entry.DN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		entry   models.Entry
		attrs   string
		deleted int
	)
	if err := row.Scan(&entry.DN, &attrs, &entry.Version, &deleted); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	entry.Deleted = intToBool(deleted)
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
