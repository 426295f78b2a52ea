// Package registry keeps the set of MCP servers known to this process and
// their environment variables, stored as one JSON object per server.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/sqlitemcp/internal/db"
	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/query"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

const (
	table     = "active_mcp_servers"
	envColumn = "environment_variables"
)

var columns = []string{"id", "mcp_server_uuid", "name", "command", "args", "config", envColumn, "created_at", "updated_at"}

// Server is one registration. Env is only populated by env-specific calls;
// listings expose EnvKeys instead so secrets stay out of transcripts.
type Server struct {
	ID        int64             `json:"id"`
	UUID      string            `json:"mcp_server_uuid"`
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Config    json.RawMessage   `json:"config"`
	EnvKeys   []string          `json:"env_keys"`
	Env       map[string]string `json:"-"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

type Registration struct {
	*Server
	Created bool `json:"created"`
}

type RegisterInput struct {
	Name    string
	Command string
	Args    []string
	Config  value.Value // object, or Null for {}
}

type EnvResult struct {
	Name string            `json:"name"`
	Env  map[string]string `json:"env"`
}

type Service struct {
	db *db.DB
}

func New(database *db.DB) *Service {
	return &Service{db: database}
}

// Register records a server under a unique name. Registering a name that
// already exists returns the stored record unchanged with Created false.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	name, err := serverName(in.Name)
	if err != nil {
		return nil, err
	}
	cfg := []byte("{}")
	if !in.Config.IsNull() {
		b, err := in.Config.MarshalJSON()
		if err != nil {
			return nil, &dispatch.ValidationError{Parameter: "config", Reason: err.Error()}
		}
		cfg = b
	}
	if in.Args == nil {
		in.Args = []string{}
	}
	args, err := json.Marshal(in.Args)
	if err != nil {
		return nil, fmt.Errorf("encoding args: %w", err)
	}

	var reg *Registration
	err = s.db.WithTx(ctx, func(tx *db.Tx) error {
		existing, err := get(ctx, tx, name)
		var nf *db.NotFoundError
		switch {
		case err == nil:
			reg = &Registration{Server: existing}
			return nil
		case !errors.As(err, &nf):
			return err
		}

		st, err := query.Insert(table, []query.Assignment{
			{Column: "mcp_server_uuid", Value: db.NewID()},
			{Column: "name", Value: name},
			{Column: "command", Value: in.Command},
			{Column: "args", Value: string(args)},
			{Column: "config", Value: string(cfg)},
			{Column: envColumn, Value: "{}"},
		})
		if err != nil {
			return err
		}
		if _, err := tx.ExecStatement(ctx, st); err != nil {
			return err
		}
		created, err := get(ctx, tx, name)
		if err != nil {
			return err
		}
		reg = &Registration{Server: created, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Unregister deletes the server. An unknown name is a *db.NotFoundError.
func (s *Service) Unregister(ctx context.Context, name string) error {
	name, err := serverName(name)
	if err != nil {
		return err
	}
	st, err := query.Delete(table, []query.Cond{query.Eq("name", name)})
	if err != nil {
		return err
	}
	res, err := s.db.ExecStatement(ctx, st)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &db.NotFoundError{Entity: "mcp server", Key: name}
	}
	return nil
}

// List returns every registration ordered by name.
func (s *Service) List(ctx context.Context) ([]*Server, error) {
	st, err := query.Select(query.SelectSpec{
		Table:   table,
		Columns: columns,
		OrderBy: []query.Order{{Column: "name"}},
	})
	if err != nil {
		return nil, err
	}
	out := []*Server{}
	for row, err := range s.db.Stream(ctx, st) {
		if err != nil {
			return nil, err
		}
		srv, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, nil
}

// Get returns one registration by name.
func (s *Service) Get(ctx context.Context, name string) (*Server, error) {
	name, err := serverName(name)
	if err != nil {
		return nil, err
	}
	return get(ctx, s.db, name)
}

// GetEnv decodes the stored environment of a server.
func (s *Service) GetEnv(ctx context.Context, name string) (*EnvResult, error) {
	srv, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &EnvResult{Name: srv.Name, Env: srv.Env}, nil
}

// SetEnv applies updates to the stored environment in one transaction:
// string values set a key, null removes it. A stored environment that does
// not decode aborts the call and is left untouched.
func (s *Service) SetEnv(ctx context.Context, name string, updates value.Value) (*EnvResult, error) {
	name, err := serverName(name)
	if err != nil {
		return nil, err
	}
	type change struct {
		key string
		val *string
	}
	changes := make([]change, 0, updates.Len())
	for _, m := range updates.Members() {
		if m.Key == "" {
			return nil, &dispatch.ValidationError{Parameter: "envUpdates", Reason: "variable names must not be empty"}
		}
		v, err := value.Coerce(m.Key, m.Value, value.Nullable(value.Text))
		if err != nil {
			return nil, err
		}
		c := change{key: m.Key}
		if str, ok := v.(string); ok {
			c.val = &str
		}
		changes = append(changes, c)
	}

	var out *EnvResult
	err = s.db.WithTx(ctx, func(tx *db.Tx) error {
		srv, err := get(ctx, tx, name)
		if err != nil {
			return err
		}
		env := srv.Env
		for _, c := range changes {
			if c.val == nil {
				delete(env, c.key)
			} else {
				env[c.key] = *c.val
			}
		}
		encoded, err := encodeEnv(env)
		if err != nil {
			return err
		}
		st, err := query.Update(table, []query.Assignment{
			{Column: envColumn, Value: encoded},
			{Column: "updated_at", Value: time.Now().UTC().Format(time.DateTime)},
		}, []query.Cond{query.Eq("name", name)})
		if err != nil {
			return err
		}
		if _, err := tx.ExecStatement(ctx, st); err != nil {
			return err
		}
		out = &EnvResult{Name: srv.Name, Env: env}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// serverName is the one normalization of a server name: surrounding space
// is not significant.
func serverName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &dispatch.ValidationError{Parameter: "name", Reason: "must not be blank"}
	}
	return name, nil
}

type runner interface {
	First(ctx context.Context, st query.Statement, entity string, key any) (db.Row, error)
	ExecStatement(ctx context.Context, st query.Statement) (sql.Result, error)
}

func get(ctx context.Context, r runner, name string) (*Server, error) {
	st, err := query.Select(query.SelectSpec{
		Table:   table,
		Columns: columns,
		Where:   []query.Cond{query.Eq("name", name)},
	})
	if err != nil {
		return nil, err
	}
	row, err := r.First(ctx, st, "mcp server", name)
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

func fromRow(row db.Row) (*Server, error) {
	srv := &Server{}
	srv.ID, _ = row["id"].(int64)
	srv.UUID, _ = row["mcp_server_uuid"].(string)
	srv.Name, _ = row["name"].(string)
	srv.Command, _ = row["command"].(string)
	srv.CreatedAt, _ = row["created_at"].(string)
	srv.UpdatedAt, _ = row["updated_at"].(string)

	corrupt := func(col string, err error) error {
		return &db.CorruptStateError{Table: table, Column: col, Key: srv.Name, Err: err}
	}

	argsText, _ := row["args"].(string)
	if argsText == "" {
		srv.Args = []string{}
	} else if err := json.Unmarshal([]byte(argsText), &srv.Args); err != nil {
		return nil, corrupt("args", err)
	}
	if srv.Args == nil {
		srv.Args = []string{}
	}

	cfgText, _ := row["config"].(string)
	if cfgText == "" {
		cfgText = "{}"
	}
	if !json.Valid([]byte(cfgText)) {
		return nil, corrupt("config", errors.New("not valid JSON"))
	}
	srv.Config = json.RawMessage(cfgText)

	env, err := decodeEnv(row[envColumn])
	if err != nil {
		return nil, corrupt(envColumn, err)
	}
	srv.Env = env
	srv.EnvKeys = make([]string, 0, len(env))
	for k := range env {
		srv.EnvKeys = append(srv.EnvKeys, k)
	}
	sort.Strings(srv.EnvKeys)
	return srv, nil
}

// decodeEnv accepts NULL or empty text as an empty mapping. Anything else
// must be a JSON object whose values are all strings.
func decodeEnv(stored any) (map[string]string, error) {
	env := map[string]string{}
	var text string
	switch v := stored.(type) {
	case nil:
		return env, nil
	case string:
		text = v
	default:
		return nil, fmt.Errorf("stored as %T, want JSON text", stored)
	}
	if strings.TrimSpace(text) == "" {
		return env, nil
	}
	obj, err := value.ParseJSON([]byte(text))
	if err != nil {
		return nil, err
	}
	if obj.Kind() != value.KindObject {
		return nil, fmt.Errorf("want a JSON object, got %s", obj.Kind())
	}
	for _, m := range obj.Members() {
		s, ok := m.Value.Str()
		if !ok {
			return nil, fmt.Errorf("variable %q is %s, want String", m.Key, m.Value.Kind())
		}
		env[m.Key] = s
	}
	return env, nil
}

// encodeEnv writes env as a JSON object with sorted keys.
func encodeEnv(env map[string]string) (string, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	members := make([]value.Member, len(keys))
	for i, k := range keys {
		members[i] = value.Member{Key: k, Value: value.String(env[k])}
	}
	b, err := value.Object(members...).MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
