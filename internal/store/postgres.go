package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyagen/m3uvault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// --- subscriptions ---

const subscriptionColumns = `s.id, s.title, s.url, COALESCE(s.user_agent, ''), s.enabled, s.last_updated, s.created_at,
	(SELECT COUNT(*) FROM lives l WHERE l.subscription_id = s.id)`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	if err := row.Scan(&s.ID, &s.Title, &s.URL, &s.UserAgent, &s.Enabled, &s.LastUpdated, &s.CreatedAt, &s.LiveCount); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) CreateOrGetSubscription(ctx context.Context, title, url, userAgent string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (title, url, user_agent, enabled)
		 VALUES ($1, $2, NULLIF($3, ''), true)
		 ON CONFLICT (url) DO UPDATE SET title = EXCLUDED.title, user_agent = EXCLUDED.user_agent
		 RETURNING id`,
		title, url, userAgent,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("CreateOrGetSubscription: %w", err)
	}
	return id, nil
}

func (p *Postgres) GetSubscription(ctx context.Context, id int64) (*models.Subscription, error) {
	s, err := scanSubscription(p.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	return s, nil
}

func (p *Postgres) GetSubscriptionByURL(ctx context.Context, url string) (*models.Subscription, error) {
	s, err := scanSubscription(p.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.url = $1`, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSubscriptionByURL: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions s ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("ListSubscriptions: %w", err)
	}
	defer rows.Close()
	var out []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("ListSubscriptions scan: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateSubscription(ctx context.Context, id int64, fields SubscriptionUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.Title != nil {
		add("title", *fields.Title)
	}
	if fields.URL != nil {
		add("url", *fields.URL)
	}
	if fields.UserAgent != nil {
		add("user_agent", *fields.UserAgent)
	}
	if fields.Enabled != nil {
		add("enabled", *fields.Enabled)
	}
	if len(sets) == 0 {
		_, err := p.GetSubscription(ctx, id)
		return err
	}
	args = append(args, id)
	tag, err := p.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE subscriptions SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("UpdateSubscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id int64) error {
	// lives go with it via ON DELETE CASCADE.
	tag, err := p.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteSubscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchSubscription(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `UPDATE subscriptions SET last_updated = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("TouchSubscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- lives ---

const liveColumns = `l.id, l.subscription_id, s.url, l.url, l.title, l.group_title, l.cover, l.tvg_id, l.duration,
	COALESCE(l.referrer, ''), COALESCE(l.user_agent, ''), COALESCE(l.http_origin, ''), l.favourite`

func scanLive(row pgx.Row) (*models.Live, error) {
	var (
		l models.Live
		h models.LiveHeaders
	)
	if err := row.Scan(&l.ID, &l.SubscriptionID, &l.SubscriptionURL, &l.URL, &l.Title, &l.Group, &l.Cover,
		&l.TvgID, &l.Duration, &h.Referrer, &h.UserAgent, &h.HTTPOrigin, &l.Favourite); err != nil {
		return nil, err
	}
	if !h.Empty() {
		l.Headers = &h
	}
	return &l, nil
}

// ReplaceLives upserts the new set and prunes stale rows in one transaction.
func (p *Postgres) ReplaceLives(ctx context.Context, subscriptionID int64, lives []models.Live) (ReplaceResult, error) {
	var res ReplaceResult
	unique, dups := dedupeLives(lives)
	res.Duplicates = dups

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock serialises concurrent replaces of the same subscription.
	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM subscriptions WHERE id = $1 FOR UPDATE`, subscriptionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, ErrNotFound
	}
	if err != nil {
		return res, fmt.Errorf("lock subscription: %w", err)
	}

	batch := &pgx.Batch{}
	for i, l := range unique {
		var h models.LiveHeaders
		if l.Headers != nil {
			h = *l.Headers
		}
		batch.Queue(
			`INSERT INTO lives (subscription_id, url, title, group_title, cover, tvg_id, duration,
			                    referrer, user_agent, http_origin, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
			 ON CONFLICT (subscription_id, url) DO UPDATE SET
			   title = EXCLUDED.title, group_title = EXCLUDED.group_title, cover = EXCLUDED.cover,
			   tvg_id = EXCLUDED.tvg_id, duration = EXCLUDED.duration, referrer = EXCLUDED.referrer,
			   user_agent = EXCLUDED.user_agent, http_origin = EXCLUDED.http_origin, position = EXCLUDED.position
			 RETURNING id, (xmax = 0)`,
			subscriptionID, l.URL, l.Title, l.Group, l.Cover, l.TvgID, l.Duration,
			h.Referrer, h.UserAgent, h.HTTPOrigin, i,
		)
	}
	keepIDs := make([]int64, 0, len(unique))
	br := tx.SendBatch(ctx, batch)
	for range unique {
		var (
			id       int64
			inserted bool
		)
		if err := br.QueryRow().Scan(&id, &inserted); err != nil {
			br.Close()
			return res, fmt.Errorf("upsert live: %w", err)
		}
		keepIDs = append(keepIDs, id)
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := br.Close(); err != nil {
		return res, fmt.Errorf("batch close: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM lives WHERE subscription_id = $1 AND NOT (id = ANY($2))`,
		subscriptionID, keepIDs,
	)
	if err != nil {
		return res, fmt.Errorf("remove stale lives: %w", err)
	}
	res.Removed = int(tag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (p *Postgres) ListLives(ctx context.Context, filter LiveFilter) ([]models.Live, int, error) {
	filter = filter.Normalize()
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.SubscriptionID != nil {
		add("l.subscription_id = $%d", *filter.SubscriptionID)
	}
	if filter.Group != nil {
		add("l.group_title = $%d", *filter.Group)
	}
	if filter.Favourite != nil {
		add("l.favourite = $%d", *filter.Favourite)
	}
	if filter.Search != "" {
		add(`l.title ILIKE '%%' || $%d || '%%' ESCAPE '\'`, likeEscaper.Replace(filter.Search))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lives l`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListLives count: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM lives l JOIN subscriptions s ON s.id = l.subscription_id%s
		 ORDER BY l.subscription_id, l.position LIMIT $%d OFFSET $%d`, liveColumns, clause, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListLives: %w", err)
	}
	defer rows.Close()
	var out []models.Live
	for rows.Next() {
		l, err := scanLive(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListLives scan: %w", err)
		}
		out = append(out, *l)
	}
	return out, total, rows.Err()
}

func (p *Postgres) GetLive(ctx context.Context, id int64) (*models.Live, error) {
	l, err := scanLive(p.pool.QueryRow(ctx,
		`SELECT `+liveColumns+` FROM lives l JOIN subscriptions s ON s.id = l.subscription_id WHERE l.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetLive: %w", err)
	}
	return l, nil
}

func (p *Postgres) SetFavourite(ctx context.Context, id int64, favourite bool) error {
	tag, err := p.pool.Exec(ctx, `UPDATE lives SET favourite = $2 WHERE id = $1`, id, favourite)
	if err != nil {
		return fmt.Errorf("SetFavourite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListGroups(ctx context.Context, subscriptionID int64) ([]models.Group, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT group_title, COUNT(*) FROM lives WHERE subscription_id = $1
		 GROUP BY group_title ORDER BY MIN(position)`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("ListGroups: %w", err)
	}
	defer rows.Close()
	groups := []models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.Name, &g.Count); err != nil {
			return nil, fmt.Errorf("ListGroups scan: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
