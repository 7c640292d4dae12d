package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Article is one stored page of the harvest.
type Article struct {
	URL      string
	Title    string
	FullText string
	Comments []string
	RunID    string
}

// Exists reports whether an article with rawURL is stored.
func (s *SQLStore) Exists(ctx context.Context, rawURL string) (bool, error) {
	var one int
	err := s.withSchemaRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM articles WHERE url = ? LIMIT 1`), rawURL).Scan(&one)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup article: %w", err)
	}
	return true, nil
}

// UpsertArticle stores the article and adds its comments. Existing comments
// are kept; duplicates are ignored.
func (s *SQLStore) UpsertArticle(ctx context.Context, a Article) error {
	if strings.TrimSpace(a.URL) == "" {
		return errors.New("article url is empty")
	}
	err := s.withSchemaRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO articles (url, title, full_text, run_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (url) DO UPDATE SET
			    title = excluded.title,
			    full_text = excluded.full_text,
			    run_id = excluded.run_id,
			    updated_at = excluded.updated_at`),
			a.URL, a.Title, a.FullText, a.RunID, now, now,
		); err != nil {
			return errors.Join(err, tx.Rollback())
		}
		if _, err := s.insertComments(ctx, tx, a.URL, a.Comments, now); err != nil {
			return errors.Join(err, tx.Rollback())
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("upsert article %s: %w", a.URL, err)
	}
	return nil
}

// AppendComments adds comments to an existing article and returns how many
// were new.
func (s *SQLStore) AppendComments(ctx context.Context, rawURL string, comments []string) (int, error) {
	if len(comments) == 0 {
		return 0, nil
	}
	var added int
	err := s.withSchemaRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		added, err = s.insertComments(ctx, tx, rawURL, comments, time.Now().UTC())
		if err != nil {
			return errors.Join(err, tx.Rollback())
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE articles SET updated_at = ? WHERE url = ?`), time.Now().UTC(), rawURL); err != nil {
			return errors.Join(err, tx.Rollback())
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("append comments %s: %w", rawURL, err)
	}
	return added, nil
}

func (s *SQLStore) insertComments(ctx context.Context, tx *sql.Tx, rawURL string, comments []string, now time.Time) (int, error) {
	if len(comments) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO article_comments (url, comment, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (url, comment) DO NOTHING`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	added := 0
	for _, c := range comments {
		res, err := stmt.ExecContext(ctx, rawURL, c, now)
		if err != nil {
			return added, err
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}
	return added, nil
}

// StoredComments returns the comments of rawURL in insertion order.
func (s *SQLStore) StoredComments(ctx context.Context, rawURL string) ([]string, error) {
	var out []string
	err := s.withSchemaRetry(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT comment FROM article_comments WHERE url = ? ORDER BY id`), rawURL)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load comments %s: %w", rawURL, err)
	}
	return out, nil
}

// ProcessedURLs returns every stored article URL that starts with prefix.
func (s *SQLStore) ProcessedURLs(ctx context.Context, prefix string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := s.withSchemaRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			s.rebind(`SELECT url FROM articles WHERE url LIKE ? ESCAPE '\'`),
			escapeLike(prefix)+"%",
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				return err
			}
			out[u] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load processed urls: %w", err)
	}
	return out, nil
}

// GetArticle loads one article with its comments.
func (s *SQLStore) GetArticle(ctx context.Context, rawURL string) (*Article, error) {
	a := &Article{URL: rawURL}
	var runID sql.NullString
	err := s.withSchemaRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			s.rebind(`SELECT title, full_text, run_id FROM articles WHERE url = ?`), rawURL,
		).Scan(&a.Title, &a.FullText, &runID)
	})
	if err != nil {
		return nil, fmt.Errorf("load article %s: %w", rawURL, err)
	}
	a.RunID = runID.String
	comments, err := s.StoredComments(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	a.Comments = comments
	return a, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
