// Package notebook manages notebooks: titled text documents that grow by
// append. Every read-modify-write runs inside one immediate transaction.
package notebook

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/sqlitemcp/internal/db"
	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/query"
)

const (
	table = "notebooks"

	DefaultListLimit = 50
	MaxListLimit     = 500
	SnippetRunes     = 200
)

var columns = []string{"id", "title", "content", "created_at", "updated_at"}

type Notebook struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Summary struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	UpdatedAt string `json:"updated_at"`
}

type ListOptions struct {
	Query  string
	Limit  *int64
	Offset *int64
}

type ListResult struct {
	Items []Summary `json:"items"`
	Count int       `json:"count"`
}

type Service struct {
	db *db.DB
}

func New(database *db.DB) *Service {
	return &Service{db: database}
}

// Create inserts a notebook and returns it as stored.
func (s *Service) Create(ctx context.Context, title, content string) (*Notebook, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &dispatch.ValidationError{Parameter: "title", Reason: "must not be blank"}
	}
	var nb *Notebook
	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		st, err := query.Insert(table, []query.Assignment{
			{Column: "title", Value: title},
			{Column: "content", Value: content},
		})
		if err != nil {
			return err
		}
		res, err := tx.ExecStatement(ctx, st)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return &db.StoreError{Op: "last insert id", Err: err}
		}
		nb, err = get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return nb, nil
}

// Get returns the notebook with id or a *db.NotFoundError.
func (s *Service) Get(ctx context.Context, id int64) (*Notebook, error) {
	return get(ctx, s.db, id)
}

// Append concatenates text onto the notebook's content. The read and the
// write share one transaction, so concurrent appends never lose a fragment.
func (s *Service) Append(ctx context.Context, id int64, text string) (*Notebook, error) {
	var nb *Notebook
	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		cur, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := update(ctx, tx, id, []query.Assignment{{Column: "content", Value: cur.Content + text}}); err != nil {
			return err
		}
		nb, err = get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return nb, nil
}

// Update replaces the title and/or the content.
func (s *Service) Update(ctx context.Context, id int64, title, content *string) (*Notebook, error) {
	var set []query.Assignment
	if title != nil {
		if strings.TrimSpace(*title) == "" {
			return nil, &dispatch.ValidationError{Parameter: "title", Reason: "must not be blank"}
		}
		set = append(set, query.Assignment{Column: "title", Value: *title})
	}
	if content != nil {
		set = append(set, query.Assignment{Column: "content", Value: *content})
	}
	if len(set) == 0 {
		return nil, &dispatch.ValidationError{Reason: "nothing to update: give title or content"}
	}

	var nb *Notebook
	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := get(ctx, tx, id); err != nil {
			return err
		}
		if err := update(ctx, tx, id, set); err != nil {
			return err
		}
		var err error
		nb, err = get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return nb, nil
}

// Delete removes the notebook. Deleting an absent id is a *db.NotFoundError.
func (s *Service) Delete(ctx context.Context, id int64) error {
	st, err := query.Delete(table, []query.Cond{query.Eq("id", id)})
	if err != nil {
		return err
	}
	res, err := s.db.ExecStatement(ctx, st)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &db.NotFoundError{Entity: "notebook", Key: id}
	}
	return nil
}

// List returns notebooks newest first, optionally filtered by a
// case-insensitive substring of title or content.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := int64(DefaultListLimit)
	if opts.Limit != nil {
		limit = min(max(*opts.Limit, 1), MaxListLimit)
	}
	var offset int64
	if opts.Offset != nil {
		if *opts.Offset < 0 {
			return nil, &dispatch.ValidationError{Parameter: "offset", Reason: "must not be negative"}
		}
		offset = *opts.Offset
	}

	spec := query.SelectSpec{
		Table:   table,
		Columns: []string{"id", "title", "content", "updated_at"},
		OrderBy: []query.Order{{Column: "id", Desc: true}},
		Limit:   &limit,
		Offset:  &offset,
	}
	if q := strings.TrimSpace(opts.Query); q != "" {
		pattern := query.Contains(q)
		spec.Where = []query.Cond{query.AnyOf(
			query.FoldLike("title", pattern),
			query.FoldLike("content", pattern),
		)}
	}
	st, err := query.Select(spec)
	if err != nil {
		return nil, err
	}

	out := &ListResult{Items: []Summary{}}
	for row, err := range s.db.Stream(ctx, st) {
		if err != nil {
			return nil, err
		}
		nb, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, Summary{
			ID:        nb.ID,
			Title:     nb.Title,
			Snippet:   snippet(nb.Content),
			UpdatedAt: nb.UpdatedAt,
		})
	}
	out.Count = len(out.Items)
	return out, nil
}

type runner interface {
	ExecStatement(ctx context.Context, st query.Statement) (sql.Result, error)
	First(ctx context.Context, st query.Statement, entity string, key any) (db.Row, error)
}

func get(ctx context.Context, r runner, id int64) (*Notebook, error) {
	st, err := query.Select(query.SelectSpec{
		Table:   table,
		Columns: columns,
		Where:   []query.Cond{query.Eq("id", id)},
	})
	if err != nil {
		return nil, err
	}
	row, err := r.First(ctx, st, "notebook", id)
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

func update(ctx context.Context, r runner, id int64, set []query.Assignment) error {
	set = append(set, query.Assignment{Column: "updated_at", Value: now()})
	st, err := query.Update(table, set, []query.Cond{query.Eq("id", id)})
	if err != nil {
		return err
	}
	_, err = r.ExecStatement(ctx, st)
	return err
}

// now matches the text form of SQLite's datetime('now').
func now() string { return time.Now().UTC().Format(time.DateTime) }

func fromRow(row db.Row) (*Notebook, error) {
	nb := &Notebook{}
	var ok bool
	if nb.ID, ok = row["id"].(int64); !ok {
		return nil, &db.CorruptStateError{Table: table, Column: "id", Key: row["id"], Err: fmt.Errorf("unexpected %T", row["id"])}
	}
	nb.Title, _ = row["title"].(string)
	nb.Content, _ = row["content"].(string)
	nb.CreatedAt, _ = row["created_at"].(string)
	nb.UpdatedAt, _ = row["updated_at"].(string)
	return nb, nil
}

func snippet(s string) string {
	if utf8.RuneCountInString(s) <= SnippetRunes {
		return s
	}
	r := []rune(s)
	return string(r[:SnippetRunes])
}
