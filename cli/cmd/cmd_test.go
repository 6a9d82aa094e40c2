package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/cli/internal/client"
	"github.com/telhawk-systems/telhawk-audit/cli/internal/config"
	"github.com/telhawk-systems/telhawk-audit/cli/pkg/output"
)

const deleteEnvelope = `{
  "id": "E1",
  "detail-type": "Object State Change",
  "source": "books",
  "detail": {"entity-type": "book", "entity-id": "B1", "operation": "delete", "author": "a@x", "ts": "1603294852000"}
}`

// execute runs the CLI with a private config file and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	prevOut, prevErr, prevColor := output.Stdout, output.Stderr, output.NoColor
	output.Stdout, output.Stderr, output.NoColor = &out, io.Discard, true
	t.Cleanup(func() {
		output.Stdout, output.Stderr, output.NoColor = prevOut, prevErr, prevColor
	})

	if !hasFlag(args, "--config") {
		args = append([]string{"--config", filepath.Join(t.TempDir(), "config.yaml")}, args...)
	}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	err := rootCmd.Execute()
	return out.String(), err
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name || strings.HasPrefix(a, name+"=") {
			return true
		}
	}
	return false
}

// resetFlags restores every flag to its default so tests do not leak state
// through the package-level command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			def := strings.Trim(f.DefValue, "[]")
			var vals []string
			if def != "" {
				vals = strings.Split(def, ",")
			}
			_ = sv.Replace(vals)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{
		"publish": false,
		"events":  false,
		"archive": false,
		"rules":   false,
		"seed":    false,
		"dlq":     false,
		"profile": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := expected[c.Name()]; ok {
			expected[c.Name()] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "command %q should be registered", name)
	}

	sub := map[*cobra.Command][]string{
		eventsCmd:  {"get", "entity", "author", "history"},
		rulesCmd:   {"validate", "default", "route"},
		profileCmd: {"set", "use", "list", "remove"},
	}
	for parent, names := range sub {
		for _, name := range names {
			c, _, err := parent.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())
		}
	}
}

func TestParseMillis(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1603294852000", 1603294852000, false},
		{"2020-10-21T15:40:52Z", 1603294852000, false},
		{"yesterday", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMillis(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "2020-10-21T15:40:52Z", formatMillis(1603294852000))
}

func TestRulesRoute_Offline(t *testing.T) {
	path := writeFile(t, "event.json", deleteEnvelope)

	out, err := execute(t, "rules", "route", path, "-o", "json")
	require.NoError(t, err)

	var resp client.RouteResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "E1", resp.EventID)
	require.Len(t, resp.Matches, 3)
	assert.Equal(t, "all-events", resp.Matches[0].Rule)
	assert.Equal(t, "workflow", resp.Matches[1].Target)
	assert.Equal(t, "notification", resp.Matches[2].Target)
	assert.Equal(t, "Entity with id B1 has been deleted by a@x", resp.Matches[2].Message)
}

func TestRulesRoute_CustomRulesTable(t *testing.T) {
	rules := writeFile(t, "rules.yaml", `rules:
  - name: book-changes
    pattern:
      detail:
        entity-type: [book]
    targets:
      - type: notification
        template: "<$.detail.entity-id> changed by <$.detail.missing>"
`)
	path := writeFile(t, "event.json", deleteEnvelope)

	out, err := execute(t, "rules", "route", path, "--rules", rules)
	require.NoError(t, err)
	assert.Contains(t, out, "book-changes")
	assert.Contains(t, out, "error:")
}

func TestRulesValidate(t *testing.T) {
	path := writeFile(t, "rules.yaml", string(routing.DefaultRules()))

	out, err := execute(t, "rules", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3 rules OK")
	assert.Contains(t, out, "deleted-entities")

	bad := writeFile(t, "bad.yaml", "rules:\n  - name: x\n    pattern: {}\n    targets:\n      - type: fax\n")
	_, err = execute(t, "rules", "validate", bad)
	assert.Error(t, err)
}

func TestPublish_FromFlags(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		received, _ = io.ReadAll(r.Body)
		ev, err := event.Parse(received)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": ev.ID})
	}))
	defer srv.Close()

	out, err := execute(t, "publish", "--server", srv.URL,
		"--entity-type", "book", "--entity-id", "B1", "--operation", "delete",
		"--author", "a@x", "--ts", "1603294852000", "-o", "json")
	require.NoError(t, err)

	ev, err := event.Parse(received)
	require.NoError(t, err)
	assert.Equal(t, "thawk-audit", ev.SourceSystem)
	assert.Equal(t, event.DetailTypeStateChange, ev.DetailType)
	assert.Equal(t, "B1", ev.EntityID)
	assert.Equal(t, event.OperationDelete, ev.Operation)
	assert.Equal(t, int64(1603294852000), ev.TS)
	assert.False(t, ev.HasData())
	assert.Contains(t, out, ev.ID)
}

func TestPublish_Validation(t *testing.T) {
	_, err := execute(t, "publish", "--entity-type", "book")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--entity-id")

	_, err = execute(t, "publish", "--entity-id", "B1", "--data", "{not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--data")
}

func TestEventsEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/entities/B1/events", r.URL.Path)
		assert.Equal(t, "1603294852000", r.URL.Query().Get("from"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []client.EventRecord{{
				EventID: "E1", EntityType: "book", EntityID: "B1", Operation: "insert",
				S3Key: "2020/10/21/E1", Author: "a@x", TS: 1603294852000,
			}},
			"count": 1,
		})
	}))
	defer srv.Close()

	out, err := execute(t, "events", "entity", "B1", "--server", srv.URL,
		"--from", "2020-10-21T15:40:52Z", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "EVENT ID")
	assert.Contains(t, out, "2020/10/21/E1")
	assert.Contains(t, out, "2020-10-21T15:40:52Z")
}

func TestEventsGet_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	_, err := execute(t, "events", "get", "nope", "--server", srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestArchiveGet_DerivesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2020/10/21/E1", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"name":"x"}`))
	}))
	defer srv.Close()

	out, err := execute(t, "archive", "get", "--server", srv.URL, "--id", "E1", "--ts", "1603294852000")
	require.NoError(t, err)
	assert.Equal(t, "{\"name\":\"x\"}\n", out)

	_, err = execute(t, "archive", "get", "--id", "E1")
	assert.Error(t, err)
}

func TestProfileLifecycle(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "--config", cfgPath, "profile", "set", "staging",
		"--server", "http://audit.staging:8090/", "--author", "ops@x")
	require.NoError(t, err)

	saved, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "staging", saved.CurrentProfile)
	p, err := saved.GetProfile("")
	require.NoError(t, err)
	assert.Equal(t, "http://audit.staging:8090", p.ServerURL)
	assert.Equal(t, "ops@x", p.Author)

	out, err := execute(t, "--config", cfgPath, "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "staging")
	assert.Contains(t, out, "default")

	_, err = execute(t, "--config", cfgPath, "profile", "use", "missing")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfgPath, "profile", "remove", "staging")
	require.NoError(t, err)
	saved, err = config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "default", saved.CurrentProfile)
	assert.Empty(t, saved.Profiles)
}
