package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreatePreset inserts a PENDING voice preset.
func (s *Store) CreatePreset(ctx context.Context, userID, name string) (*VoicePreset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("create preset: name required")
	}
	id := uuid.NewString()
	now := s.timestamp()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO voice_presets (id, user_id, name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, nullableString(strings.TrimSpace(userID)), name, PresetPending, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert preset: %w", err)
	}
	return s.GetPreset(ctx, id)
}

// GetPreset fetches a preset by ID. Unknown IDs return ErrNotFound.
func (s *Store) GetPreset(ctx context.Context, id string) (*VoicePreset, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+presetColumns+` FROM voice_presets WHERE id = ?`, id)
	preset, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get preset: %w", err)
	}
	return preset, nil
}

// ListPresets returns presets, optionally restricted to one user.
func (s *Store) ListPresets(ctx context.Context, userID string) ([]*VoicePreset, error) {
	query := `SELECT ` + presetColumns + ` FROM voice_presets`
	var args []any
	if userID = strings.TrimSpace(userID); userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()
	var out []*VoicePreset
	for rows.Next() {
		preset, err := scanPreset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		out = append(out, preset)
	}
	return out, rows.Err()
}

// MarkPresetReady stores the conditioning reference and flips the preset to READY.
func (s *Store) MarkPresetReady(ctx context.Context, id, conditioningRef string) error {
	conditioningRef = strings.TrimSpace(conditioningRef)
	if conditioningRef == "" {
		return errors.New("mark preset ready: conditioning reference required")
	}
	return s.updatePreset(ctx, id, PresetReady, conditioningRef, "")
}

// MarkPresetFailed records why a preset could not be built.
func (s *Store) MarkPresetFailed(ctx context.Context, id, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "unknown failure"
	}
	return s.updatePreset(ctx, id, PresetFailed, "", message)
}

func (s *Store) updatePreset(ctx context.Context, id string, status PresetStatus, ref, message string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE voice_presets SET status = ?, conditioning_ref = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, nullableString(ref), nullableString(strings.TrimSpace(message)), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update preset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("preset %s: %w", id, ErrNotFound)
	}
	return nil
}
