package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/options"
)

// sqlStore holds the queries shared by both backends. Queries are written
// with ? placeholders and rebound for the driver.
type sqlStore struct {
	conn   *sql.DB
	rebind func(string) string
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, s.rebind(query), args...)
}

// execEach runs query once per id inside one transaction.
func (s *sqlStore) execEach(ctx context.Context, query string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// --- Folder Methods ---

const folderColumns = "id, user_id, name, parent_id"

// GetFolders returns a user's folders ordered by name.
func (s *sqlStore) GetFolders(ctx context.Context, userID string) ([]model.Folder, error) {
	rows, err := s.query(ctx, "SELECT "+folderColumns+" FROM folders WHERE user_id = ? ORDER BY name", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFolders(rows)
}

// GetFolderByID returns one folder or ErrNotFound.
func (s *sqlStore) GetFolderByID(ctx context.Context, id int64) (*model.Folder, error) {
	var f model.Folder
	err := s.queryRow(ctx, "SELECT "+folderColumns+" FROM folders WHERE id = ?", id).
		Scan(&f.ID, &f.UserID, &f.Name, &f.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFoldersRecursive returns the folder and all of its descendants.
func (s *sqlStore) GetFoldersRecursive(ctx context.Context, rootID int64) ([]model.Folder, error) {
	rows, err := s.query(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM folders WHERE id = ?
			UNION
			SELECT f.id FROM folders f JOIN tree t ON f.parent_id = t.id
		)
		SELECT `+folderColumns+` FROM folders WHERE id IN (SELECT id FROM tree) ORDER BY id`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFolders(rows)
}

// CreateFolder inserts f and sets its ID.
func (s *sqlStore) CreateFolder(ctx context.Context, f *model.Folder) error {
	return s.queryRow(ctx, "INSERT INTO folders (user_id, name, parent_id) VALUES (?, ?, ?) RETURNING id",
		f.UserID, f.Name, f.ParentID).Scan(&f.ID)
}

// UpdateFolder saves the name and parent of f.
func (s *sqlStore) UpdateFolder(ctx context.Context, f *model.Folder) error {
	res, err := s.exec(ctx, "UPDATE folders SET name = ?, parent_id = ? WHERE id = ?", f.Name, f.ParentID, f.ID)
	if err != nil {
		return err
	}
	return expectRow(res, "folder", f.ID)
}

// DeleteFolders removes folders by id.
func (s *sqlStore) DeleteFolders(ctx context.Context, ids []int64) error {
	return s.execEach(ctx, "DELETE FROM folders WHERE id = ?", ids)
}

func scanFolders(rows *sql.Rows) ([]model.Folder, error) {
	var folders []model.Folder
	for rows.Next() {
		var f model.Folder
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.ParentID); err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// --- Subscription Methods ---

const subscriptionColumns = `id, user_id, parent_folder_id, name, description, subscription_id,
	subscription_provider_id, original_url, thumbnail_url`

// GetSubscriptions returns a user's subscriptions ordered by name.
func (s *sqlStore) GetSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	rows, err := s.query(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id = ? ORDER BY name", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// GetAllSubscriptions returns every subscription ordered by id.
func (s *sqlStore) GetAllSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.query(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// GetSubscriptionByID returns one subscription or ErrNotFound.
func (s *sqlStore) GetSubscriptionByID(ctx context.Context, id int64) (*model.Subscription, error) {
	rows, err := s.query(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return &subs[0], nil
}

// GetSubscriptionsInFolder returns the direct children of a folder, or the
// user's root subscriptions when folderID is nil.
func (s *sqlStore) GetSubscriptionsInFolder(ctx context.Context, userID string, folderID *int64) ([]model.Subscription, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if folderID == nil {
		rows, err = s.query(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id = ? AND parent_folder_id IS NULL ORDER BY name", userID)
	} else {
		rows, err = s.query(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id = ? AND parent_folder_id = ? ORDER BY name", userID, *folderID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// GetSubscriptionsRecursive returns subscriptions in the folder and all of its descendants.
func (s *sqlStore) GetSubscriptionsRecursive(ctx context.Context, folderID int64) ([]model.Subscription, error) {
	rows, err := s.query(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM folders WHERE id = ?
			UNION
			SELECT f.id FROM folders f JOIN tree t ON f.parent_id = t.id
		)
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE parent_folder_id IN (SELECT id FROM tree) ORDER BY id`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// CreateSubscription inserts sub and sets its ID.
func (s *sqlStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	return s.queryRow(ctx, `
		INSERT INTO subscriptions (user_id, parent_folder_id, name, description, subscription_id,
			subscription_provider_id, original_url, thumbnail_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		sub.UserID, sub.ParentFolderID, sub.Name, sub.Description, nullString(sub.SubscriptionID),
		nullString(sub.SubscriptionProviderID), nullString(sub.OriginalURL), nullString(sub.ThumbnailURL)).Scan(&sub.ID)
}

// UpdateSubscription saves the mutable fields of sub.
func (s *sqlStore) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	res, err := s.exec(ctx, `
		UPDATE subscriptions SET parent_folder_id = ?, name = ?, description = ?, thumbnail_url = ?
		WHERE id = ?`,
		sub.ParentFolderID, sub.Name, sub.Description, nullString(sub.ThumbnailURL), sub.ID)
	if err != nil {
		return err
	}
	return expectRow(res, "subscription", sub.ID)
}

// DeleteSubscriptions removes subscriptions, their videos and their options.
func (s *sqlStore) DeleteSubscriptions(ctx context.Context, ids []int64) error {
	return s.execEach(ctx, "DELETE FROM subscriptions WHERE id = ?", ids)
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		var (
			sub                                  model.Subscription
			subID, providerID, origURL, thumbURL sql.NullString
			description                          sql.NullString
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.ParentFolderID, &sub.Name, &description,
			&subID, &providerID, &origURL, &thumbURL); err != nil {
			return nil, err
		}
		sub.Description = description.String
		sub.SubscriptionID = subID.String
		sub.SubscriptionProviderID = providerID.String
		sub.OriginalURL = origURL.String
		sub.ThumbnailURL = thumbURL.String
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// --- Video Methods ---

const videoColumns = `id, subscription_id, subscription_provider_id, video_id, video_provider_id,
	name, description, original_url, thumbnail_url, published, last_updated, discovered,
	views, rating, playlist_index, is_watched, downloaded_path, downloaded_size`

// GetVideos returns a subscription's videos in playlist order.
func (s *sqlStore) GetVideos(ctx context.Context, subscriptionID int64) ([]model.Video, error) {
	return s.findVideos(ctx, "WHERE subscription_id = ? ORDER BY playlist_index", subscriptionID)
}

// GetVideoByID returns one video or ErrNotFound.
func (s *sqlStore) GetVideoByID(ctx context.Context, id int64) (*model.Video, error) {
	return s.findVideo(ctx, fmt.Sprintf("video %d", id), "WHERE id = ?", id)
}

// GetDownloadedVideos returns videos that have a downloaded file on record.
func (s *sqlStore) GetDownloadedVideos(ctx context.Context, subscriptionID int64) ([]model.Video, error) {
	return s.findVideos(ctx, "WHERE subscription_id = ? AND downloaded_path IS NOT NULL ORDER BY playlist_index", subscriptionID)
}

// FindVideoBySubscriptionProviderID matches on the playlist item id.
func (s *sqlStore) FindVideoBySubscriptionProviderID(ctx context.Context, subscriptionID int64, itemID string) (*model.Video, error) {
	return s.findVideo(ctx, "video item "+itemID,
		"WHERE subscription_id = ? AND subscription_provider_id = ? ORDER BY id LIMIT 1", subscriptionID, itemID)
}

// FindVideoByVideoID matches on the source-wide video id.
func (s *sqlStore) FindVideoByVideoID(ctx context.Context, subscriptionID int64, videoID string) (*model.Video, error) {
	return s.findVideo(ctx, "video "+videoID,
		"WHERE subscription_id = ? AND video_id = ? ORDER BY id LIMIT 1", subscriptionID, videoID)
}

// FindVideoByURL matches on the original URL, ignoring case.
func (s *sqlStore) FindVideoByURL(ctx context.Context, subscriptionID int64, url string) (*model.Video, error) {
	return s.findVideo(ctx, "video url "+url,
		"WHERE subscription_id = ? AND LOWER(original_url) = LOWER(?) ORDER BY id LIMIT 1", subscriptionID, url)
}

// NextPlaylistIndex returns one past the highest index in the subscription.
func (s *sqlStore) NextPlaylistIndex(ctx context.Context, subscriptionID int64) (int, error) {
	var max sql.NullInt64
	err := s.queryRow(ctx, "SELECT MAX(playlist_index) FROM videos WHERE subscription_id = ?", subscriptionID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// CreateVideo inserts v and sets its ID.
func (s *sqlStore) CreateVideo(ctx context.Context, v *model.Video) error {
	return s.queryRow(ctx, `
		INSERT INTO videos (subscription_id, subscription_provider_id, video_id, video_provider_id,
			name, description, original_url, thumbnail_url, published, last_updated, discovered,
			views, rating, playlist_index, is_watched, downloaded_path, downloaded_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		v.SubscriptionID, nullString(v.SubscriptionProviderID), nullString(v.VideoID), nullString(v.VideoProviderID),
		v.Name, v.Description, v.OriginalURL, nullString(v.ThumbnailURL), v.Published, v.LastUpdated, v.Discovered,
		v.Views, v.Rating, v.PlaylistIndex, v.IsWatched, nullString(v.DownloadedPath), v.DownloadedSize).Scan(&v.ID)
}

// UpdateVideo saves every mutable field of v.
func (s *sqlStore) UpdateVideo(ctx context.Context, v *model.Video) error {
	res, err := s.exec(ctx, `
		UPDATE videos SET video_id = ?, video_provider_id = ?, name = ?, description = ?, thumbnail_url = ?,
			last_updated = ?, views = ?, rating = ?, is_watched = ?, downloaded_path = ?, downloaded_size = ?
		WHERE id = ?`,
		nullString(v.VideoID), nullString(v.VideoProviderID), v.Name, v.Description, nullString(v.ThumbnailURL),
		v.LastUpdated, v.Views, v.Rating, v.IsWatched, nullString(v.DownloadedPath), v.DownloadedSize, v.ID)
	if err != nil {
		return err
	}
	return expectRow(res, "video", v.ID)
}

// GetSubscriptionStats aggregates counts and disk usage for a subscription.
func (s *sqlStore) GetSubscriptionStats(ctx context.Context, subscriptionID int64) (*model.SubscriptionStats, error) {
	st := model.SubscriptionStats{SubscriptionID: subscriptionID}
	err := s.queryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_watched THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN downloaded_path IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(downloaded_size), 0)
		FROM videos WHERE subscription_id = ?`, subscriptionID).
		Scan(&st.TotalCount, &st.WatchedCount, &st.DownloadedCount, &st.DiskUsage)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *sqlStore) findVideo(ctx context.Context, what, where string, args ...any) (*model.Video, error) {
	videos, err := s.findVideos(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return &videos[0], nil
}

func (s *sqlStore) findVideos(ctx context.Context, where string, args ...any) ([]model.Video, error) {
	rows, err := s.query(ctx, "SELECT "+videoColumns+" FROM videos "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []model.Video
	for rows.Next() {
		var (
			v                                        model.Video
			itemID, videoID, providerID, thumb, path sql.NullString
			description                              sql.NullString
			published, updated, discovered           sql.NullTime
			views, size                              sql.NullInt64
			rating                                   sql.NullFloat64
		)
		if err := rows.Scan(&v.ID, &v.SubscriptionID, &itemID, &videoID, &providerID,
			&v.Name, &description, &v.OriginalURL, &thumb, &published, &updated, &discovered,
			&views, &rating, &v.PlaylistIndex, &v.IsWatched, &path, &size); err != nil {
			return nil, err
		}
		v.SubscriptionProviderID = itemID.String
		v.VideoID = videoID.String
		v.VideoProviderID = providerID.String
		v.Description = description.String
		v.ThumbnailURL = thumb.String
		v.DownloadedPath = path.String
		v.Published = published.Time
		v.LastUpdated = updated.Time
		v.Discovered = discovered.Time
		if views.Valid {
			v.Views = &views.Int64
		}
		if rating.Valid {
			v.Rating = &rating.Float64
		}
		if size.Valid {
			v.DownloadedSize = &size.Int64
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// --- Option Methods ---

// GetOption returns the raw JSON override stored at key.
func (s *sqlStore) GetOption(ctx context.Context, key options.ScopeKey) (string, bool, error) {
	query, args := optionQuery("SELECT value FROM %s WHERE %s", key)
	var val string
	err := s.queryRow(ctx, query, args...).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetOption inserts or replaces the override stored at key.
func (s *sqlStore) SetOption(ctx context.Context, key options.ScopeKey, value string) error {
	table, cols, args := optionTarget(key)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)+1), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s, value) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET value = excluded.value",
		table, strings.Join(cols, ", "), placeholders, strings.Join(cols, ", "))
	_, err := s.exec(ctx, query, append(args, value)...)
	return err
}

// DeleteOption removes the override stored at key.
func (s *sqlStore) DeleteOption(ctx context.Context, key options.ScopeKey) error {
	query, args := optionQuery("DELETE FROM %s WHERE %s", key)
	_, err := s.exec(ctx, query, args...)
	return err
}

func optionQuery(format string, key options.ScopeKey) (string, []any) {
	table, cols, args := optionTarget(key)
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = c + " = ?"
	}
	return fmt.Sprintf(format, table, strings.Join(conds, " AND ")), args
}

func optionTarget(key options.ScopeKey) (table string, cols []string, args []any) {
	switch key.Scope {
	case options.ScopeUser:
		return "user_options", []string{"user_id", "key"}, []any{key.UserID, key.Key}
	case options.ScopeFolder:
		return "folder_options", []string{"folder_id", "key"}, []any{key.FolderID, key.Key}
	case options.ScopeSubscription:
		return "subscription_options", []string{"subscription_id", "key"}, []any{key.SubscriptionID, key.Key}
	default:
		return "options", []string{"key"}, []any{key.Key}
	}
}

// --- Provider Configuration Methods ---

// GetProviderConfigs returns every stored provider configuration.
func (s *sqlStore) GetProviderConfigs(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := s.query(ctx, "SELECT provider_id, config FROM provider_configs")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	configs := make(map[string]map[string]string)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var cfg map[string]string
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("decode config for %s: %w", id, err)
		}
		configs[id] = cfg
	}
	return configs, rows.Err()
}

// SetProviderConfig saves a provider configuration.
func (s *sqlStore) SetProviderConfig(ctx context.Context, providerID string, cfg map[string]string) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO provider_configs (provider_id, config) VALUES (?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET config = excluded.config`, providerID, string(raw))
	return err
}

// DeleteProviderConfig removes a provider configuration.
func (s *sqlStore) DeleteProviderConfig(ctx context.Context, providerID string) error {
	_, err := s.exec(ctx, "DELETE FROM provider_configs WHERE provider_id = ?", providerID)
	return err
}

// --- Helper functions ---

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}
	return nil
}
