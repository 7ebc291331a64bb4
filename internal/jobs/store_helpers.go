package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const jobColumns = "id, user_id, status, step, source_key, output_key, target_language, voice_preset_id, glossary_json, error, created_at, updated_at, completed_at"

const presetColumns = "id, user_id, name, status, conditioning_ref, error, created_at, updated_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		id             string
		userID         sql.NullString
		statusStr      string
		step           int64
		sourceKey      string
		outputKey      sql.NullString
		targetLanguage string
		presetID       sql.NullString
		glossaryJSON   sql.NullString
		errorMessage   sql.NullString
		createdRaw     string
		updatedRaw     string
		completedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&userID,
		&statusStr,
		&step,
		&sourceKey,
		&outputKey,
		&targetLanguage,
		&presetID,
		&glossaryJSON,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		UserID:         userID.String,
		Status:         Status(statusStr),
		Step:           Step(step),
		SourceKey:      sourceKey,
		OutputKey:      outputKey.String,
		TargetLanguage: targetLanguage,
		VoicePresetID:  presetID.String,
		Error:          errorMessage.String,
	}
	if glossaryJSON.Valid && glossaryJSON.String != "" {
		if err := json.Unmarshal([]byte(glossaryJSON.String), &job.Glossary); err != nil {
			return nil, err
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}

func scanPreset(scanner rowScanner) (*VoicePreset, error) {
	var (
		preset     VoicePreset
		userID     sql.NullString
		statusStr  string
		ref        sql.NullString
		errMsg     sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&preset.ID, &userID, &preset.Name, &statusStr, &ref, &errMsg, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	preset.UserID = userID.String
	preset.Status = PresetStatus(statusStr)
	preset.ConditioningRef = ref.String
	preset.Error = errMsg.String
	if created, err := parseTimeString(createdRaw); err == nil {
		preset.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		preset.UpdatedAt = updated
	}
	return &preset, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func encodeGlossary(glossary map[string]string) (any, error) {
	if len(glossary) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(glossary)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
