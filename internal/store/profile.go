package store

import (
	"database/sql"
	"errors"
	"time"
)

// PutProfile inserts or updates the cached profile snapshot.
func (db *DB) PutProfile(p *Profile) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO profiles (id, nickname, email, phone, tagline, native_language, is_searchable, translation_quota_remaining, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nickname = excluded.nickname,
			email = excluded.email,
			phone = excluded.phone,
			tagline = excluded.tagline,
			native_language = excluded.native_language,
			is_searchable = excluded.is_searchable,
			translation_quota_remaining = excluded.translation_quota_remaining,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		p.ID, p.Nickname, p.Email, p.Phone, p.Tagline, p.NativeLanguage, p.IsSearchable, p.TranslationQuotaRemaining, p.CreatedAt.UnixMilli(), now)
	return err
}

// GetProfile returns the cached profile by user id, or nil if none is cached.
func (db *DB) GetProfile(id string) (*Profile, error) {
	var p Profile
	var createdAt int64
	err := db.QueryRow(`
		SELECT id, nickname, email, phone, tagline, native_language, is_searchable, translation_quota_remaining, created_at
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Nickname, &p.Email, &p.Phone, &p.Tagline, &p.NativeLanguage, &p.IsSearchable, &p.TranslationQuotaRemaining, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &p, nil
}

// LatestProfile returns the most recently cached profile, or nil if none is
// cached. It identifies the local user before the server is reachable.
func (db *DB) LatestProfile() (*Profile, error) {
	var id string
	err := db.QueryRow(`SELECT id FROM profiles ORDER BY updated_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.GetProfile(id)
}
