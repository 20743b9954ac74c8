package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"avatarstudio/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const profileColumns = `id, owner_id, name, origin_country, age, gender, primary_language,
	secondary_languages, images, persona_tags, mbti_type, backstory, hidden_rules,
	created_at, updated_at`

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) (Profile, error) {
	if profile.ID == "" {
		profile.ID = util.NewID("av")
	}
	secondary, images, tags, err := encodeProfileLists(profile)
	if err != nil {
		return Profile{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (id, owner_id, name, origin_country, age, gender, primary_language,
			secondary_languages, images, persona_tags, mbti_type, backstory, hidden_rules)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb, $11, $12, $13)
		RETURNING created_at, updated_at
	`, profile.ID, profile.OwnerID, profile.Name, profile.OriginCountry, profile.Age, profile.Gender,
		profile.PrimaryLanguage, secondary, images, tags, profile.MBTIType, profile.Backstory, profile.HiddenRules,
	).Scan(&profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, id)
	profile, err := scanProfile(row)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) ListProfilesByOwner(ctx context.Context, ownerID string) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE owner_id=$1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0)
	for rows.Next() {
		item, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

// UpdateProfile writes only the fields set on patch. It returns
// sql.ErrNoRows when the profile does not exist.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (Profile, error) {
	sets := make([]string, 0, 12)
	args := make([]any, 0, 12)
	add := func(column string, value any, cast string) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d%s", column, len(args), cast))
	}

	if patch.Name != nil {
		add("name", *patch.Name, "")
	}
	if patch.OriginCountry != nil {
		add("origin_country", *patch.OriginCountry, "")
	}
	if patch.Age != nil {
		add("age", *patch.Age, "")
	}
	if patch.Gender != nil {
		add("gender", *patch.Gender, "")
	}
	if patch.PrimaryLanguage != nil {
		add("primary_language", *patch.PrimaryLanguage, "")
	}
	for _, list := range []struct {
		column string
		values *[]string
	}{
		{"secondary_languages", patch.SecondaryLanguages},
		{"images", patch.Images},
		{"persona_tags", patch.PersonaTags},
	} {
		if list.values == nil {
			continue
		}
		encoded, err := encodeList(*list.values)
		if err != nil {
			return Profile{}, err
		}
		add(list.column, encoded, "::jsonb")
	}
	if patch.MBTIType != nil {
		add("mbti_type", *patch.MBTIType, "")
	}
	if patch.Backstory != nil {
		add("backstory", *patch.Backstory, "")
	}
	if patch.HiddenRules != nil {
		add("hidden_rules", *patch.HiddenRules, "")
	}

	if len(sets) == 0 {
		return s.GetProfile(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE profiles SET %s, updated_at=NOW() WHERE id=$%d RETURNING `+profileColumns,
		strings.Join(sets, ", "), len(args))
	profile, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) InsertKnowledge(ctx context.Context, row KnowledgeRow) (KnowledgeRow, error) {
	if row.ID == "" {
		row.ID = util.NewID("kd")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO knowledge_documents (id, profile_id, owner_id, display_name, storage_key,
			size_bytes, content_type, page_count, linked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING uploaded_at
	`, row.ID, row.ProfileID, row.OwnerID, row.DisplayName, row.StorageKey,
		row.SizeBytes, row.ContentType, row.PageCount, row.Linked,
	).Scan(&row.UploadedAt)
	if err != nil {
		return KnowledgeRow{}, fmt.Errorf("insert knowledge document: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) ListKnowledge(ctx context.Context, profileID string) ([]KnowledgeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, owner_id, display_name, storage_key, size_bytes, content_type,
			page_count, linked, uploaded_at
		FROM knowledge_documents
		WHERE profile_id=$1
		ORDER BY uploaded_at, id
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge documents: %w", err)
	}
	defer rows.Close()

	items := make([]KnowledgeRow, 0)
	for rows.Next() {
		var item KnowledgeRow
		if err := rows.Scan(&item.ID, &item.ProfileID, &item.OwnerID, &item.DisplayName, &item.StorageKey,
			&item.SizeBytes, &item.ContentType, &item.PageCount, &item.Linked, &item.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge documents: %w", err)
	}
	return items, nil
}

// SetKnowledgeLinked returns sql.ErrNoRows when the row is gone.
func (s *PostgresStore) SetKnowledgeLinked(ctx context.Context, id string, linked bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE knowledge_documents SET linked=$2 WHERE id=$1`, id, linked)
	if err != nil {
		return fmt.Errorf("update knowledge link: %w", err)
	}
	return requireAffected(result)
}

// DeleteKnowledge is idempotent: deleting a missing row is not an error.
func (s *PostgresStore) DeleteKnowledge(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete knowledge document: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var (
		profile                  Profile
		secondary, images, tags []byte
	)
	if err := row.Scan(&profile.ID, &profile.OwnerID, &profile.Name, &profile.OriginCountry, &profile.Age,
		&profile.Gender, &profile.PrimaryLanguage, &secondary, &images, &tags, &profile.MBTIType,
		&profile.Backstory, &profile.HiddenRules, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	var err error
	if profile.SecondaryLanguages, err = decodeList(secondary); err != nil {
		return Profile{}, err
	}
	if profile.Images, err = decodeList(images); err != nil {
		return Profile{}, err
	}
	if profile.PersonaTags, err = decodeList(tags); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func encodeProfileLists(profile Profile) (string, string, string, error) {
	secondary, err := encodeList(profile.SecondaryLanguages)
	if err != nil {
		return "", "", "", err
	}
	images, err := encodeList(profile.Images)
	if err != nil {
		return "", "", "", err
	}
	tags, err := encodeList(profile.PersonaTags)
	if err != nil {
		return "", "", "", err
	}
	return secondary, images, tags, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}

func decodeList(raw []byte) ([]string, error) {
	values := []string{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return values, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
