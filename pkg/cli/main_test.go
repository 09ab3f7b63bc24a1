package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimburion/docstore/pkg/config"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
	"github.com/nimburion/docstore/pkg/store/memory"
)

func TestResolveServiceNameValue(t *testing.T) {
	tests := []struct {
		name              string
		currentConfigName string
		defaultService    string
		override          string
		want              string
	}{
		{name: "override wins", currentConfigName: "from-config", defaultService: "from-cli", override: "from-flag", want: "from-flag"},
		{name: "configured value wins over default", currentConfigName: "from-config", defaultService: "from-cli", want: "from-config"},
		{name: "default used when config missing", defaultService: "from-cli", want: "from-cli"},
		{name: "docstore fallback", want: "docstore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveServiceNameValue(tt.currentConfigName, tt.defaultService, tt.override)
			if got != tt.want {
				t.Fatalf("resolveServiceNameValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewCommand_AddsCompletionByDefault(t *testing.T) {
	cmd := NewCommand(CommandOptions{Name: "testctl", Description: "test"})

	completionCmd, _, err := cmd.Find([]string{"completion"})
	if err != nil {
		t.Fatalf("expected completion command, got error: %v", err)
	}
	if completionCmd == nil || completionCmd.Name() != "completion" {
		t.Fatalf("expected completion command, got %#v", completionCmd)
	}
	if got := GetCommandPolicies(completionCmd)[defaultPolicyContext]; got != string(PolicyAlways) {
		t.Fatalf("expected completion policy %q, got %q", PolicyAlways, got)
	}
}

func TestNewCommand_Tree(t *testing.T) {
	cmd := NewCommand(CommandOptions{})
	policies := map[string]CommandPolicy{
		"get":              PolicyOnDemand,
		"query":            PolicyOnDemand,
		"count":            PolicyOnDemand,
		"page":             PolicyOnDemand,
		"report":           PolicyOnDemand,
		"put":              PolicyManual,
		"delete":           PolicyManual,
		"watch":            PolicyRun,
		"serve-management": PolicyRun,
		"healthcheck":      PolicyAlways,
		"version":          PolicyAlways,
		"config":           PolicyAlways,
	}
	for name, want := range policies {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		require.Equal(t, name, sub.Name())
		assert.Equal(t, string(want), GetCommandPolicies(sub)[defaultPolicyContext], name)
	}
}

func TestCustomCommandsGetDefaultPolicy(t *testing.T) {
	custom := &cobra.Command{Use: "custom", Run: func(*cobra.Command, []string) {}}
	root := NewCommand(CommandOptions{CustomCommands: []*cobra.Command{custom}})
	sub, _, err := root.Find([]string{"custom"})
	require.NoError(t, err)
	assert.Equal(t, string(PolicyOnDemand), GetCommandPolicies(sub)[defaultPolicyContext])
}

func TestParseWhere(t *testing.T) {
	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		want query.Filter
	}{
		{"status:==:open", query.Where("status", query.Equal, "open")},
		{"progress:>=:50", query.Where("progress", query.GreaterOrEqual, 50)},
		{"archived:!=:true", query.Where("archived", query.NotEqual, true)},
		{"status:in:[open, closed]", query.Where("status", query.In, []any{"open", "closed"})},
		{"tags:contains:urgent", query.Where("tags", query.ArrayContains, "urgent")},
		{"dueDate:<:2025-01-01T00:00:00Z", query.Where("dueDate", query.LessThan, due)},
		{"notes:==:", query.Where("notes", query.Equal, "")},
		{"clientId:==:null", query.Where("clientId", query.Equal, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseWhere(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, raw := range []string{"status", "status:==", ":==:x", "name:like:x"} {
		if _, err := parseWhere(raw); err == nil {
			t.Errorf("parseWhere(%q) must fail", raw)
		}
	}
	_, err := parseWhere("name:like:x")
	assert.True(t, errors.Is(err, query.ErrInvalidQuery))
}

func TestParseOrder(t *testing.T) {
	got, err := parseOrder("createdAt:DESC")
	require.NoError(t, err)
	assert.Equal(t, query.OrderBy("createdAt", query.Desc), got)

	got, err = parseOrder("name")
	require.NoError(t, err)
	assert.Equal(t, query.OrderBy("name", ""), got)

	_, err = parseOrder(":asc")
	assert.Error(t, err)
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields(`{"name": "Alpha", "progress": 40, "tags": ["a"], "startDate": "2025-03-01T00:00:00Z"}`)
	require.NoError(t, err)
	assert.Len(t, fields, 4)

	_, err = parseFields(`[1, 2]`)
	assert.Error(t, err)
	_, err = parseFields(``)
	assert.Error(t, err)
}

// keepOpen shares one memory adapter across command invocations.
type keepOpen struct{ store.Adapter }

func (keepOpen) Close() error { return nil }

type harness struct {
	t       *testing.T
	adapter store.Adapter
	cfgPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\nstore:\n  type: memory\n"), 0o600))
	return &harness{t: t, adapter: memory.NewAdapter(logger.Nop()), cfgPath: cfgPath}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := NewCommand(CommandOptions{
		Name: "docstorectl",
		OpenStore: func(*config.Config, logger.Logger) (store.Adapter, error) {
			return keepOpen{h.adapter}, nil
		},
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"-c", h.cfgPath, "--output", "json"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v), raw)
	return v
}

func TestDocumentCommands(t *testing.T) {
	h := newHarness(t)
	for i, name := range []string{"Charlie", "Alpha", "Bravo"} {
		h.mustRun("put", "projects", "p"+name, "--data", `{"name": "`+name+`", "progress": `+string(rune('1'+i))+`0, "status": "active"}`)
	}
	h.mustRun("put", "projects", "pDelta", "--data", `{name: Delta, progress: 90, status: archived}`)

	got := decode[map[string]any](t, h.mustRun("get", "projects", "pAlpha"))
	assert.Equal(t, "pAlpha", got["id"])
	assert.Equal(t, "Alpha", got["name"])
	assert.EqualValues(t, 20, got["progress"])

	_, err := h.run("get", "projects", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	listed := decode[[]map[string]any](t, h.mustRun("query", "projects",
		"--where", "status:==:active", "--order", "name:asc"))
	require.Len(t, listed, 3)
	assert.Equal(t, []any{"Alpha", "Bravo", "Charlie"}, []any{listed[0]["name"], listed[1]["name"], listed[2]["name"]})

	limited := decode[[]map[string]any](t, h.mustRun("query", "projects", "--order", "progress:desc", "--limit", "1"))
	require.Len(t, limited, 1)
	assert.Equal(t, "Delta", limited[0]["name"])

	counted := decode[map[string]any](t, h.mustRun("count", "projects", "--where", "progress:>=:20"))
	assert.EqualValues(t, 3, counted["count"])

	first := decode[map[string]any](t, h.mustRun("page", "projects", "--order", "name", "--size", "2"))
	require.Len(t, first["documents"], 2)
	assert.Equal(t, true, first["hasNext"])
	cursor, _ := first["nextCursor"].(string)
	require.NotEmpty(t, cursor)

	second := decode[map[string]any](t, h.mustRun("page", "projects", "--order", "name", "--size", "2", "--cursor", cursor))
	docs := second["documents"].([]any)
	require.Len(t, docs, 2)
	assert.Equal(t, "Charlie", docs[0].(map[string]any)["name"])

	numbered := decode[map[string]any](t, h.mustRun("page", "projects", "--order", "name", "--size", "3", "--number", "2"))
	assert.EqualValues(t, 4, numbered["total"])
	assert.EqualValues(t, 2, numbered["totalPages"])
	assert.Equal(t, true, numbered["hasPrev"])
	assert.Len(t, numbered["documents"], 1)

	_, err = h.run("page", "projects", "--cursor", "garbage", "--order", "name")
	require.Error(t, err)
	assert.True(t, errors.Is(err, query.ErrInvalidQuery))

	out := h.mustRun("delete", "projects", "pDelta")
	assert.Contains(t, out, "deleted projects/pDelta")
	counted = decode[map[string]any](t, h.mustRun("count", "projects"))
	assert.EqualValues(t, 3, counted["count"])
}

func TestQueryCommand_RejectsInvalidFilters(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("query", "projects", "--where", "name:like:x")
	require.Error(t, err)
	_, err = h.run("query", "projects", "--order", "name:sideways")
	require.Error(t, err)
	assert.True(t, errors.Is(err, query.ErrInvalidQuery))
}

func TestPutAssignsID(t *testing.T) {
	h := newHarness(t)
	created := decode[map[string]any](t, h.mustRun("put", "tickets", "--data", `{"title": "Broken build"}`))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	got := decode[map[string]any](t, h.mustRun("get", "tickets", id))
	assert.Equal(t, "Broken build", got["title"])
}

func TestHealthcheckCommand(t *testing.T) {
	h := newHarness(t)
	result := decode[map[string]any](t, h.mustRun("healthcheck"))
	assert.Equal(t, "healthy", result["status"])
	assert.Len(t, result["checks"], 2)
}

func TestReportCommand(t *testing.T) {
	h := newHarness(t)
	created := `"createdAt": "2025-03-01T00:00:00Z"`
	h.mustRun("put", "projects", "p1", "--data", `{"name": "Alpha", "status": "active", `+created+`}`)
	h.mustRun("put", "tickets", "t1", "--data", `{"title": "Login fails", "status": "open", `+created+`}`)
	h.mustRun("put", "invoices", "i1", "--data", `{"number": "INV-1", "status": "sent", "total": 120.5, "dueDate": "2099-01-01T00:00:00Z", `+created+`}`)

	report := decode[map[string]any](t, h.mustRun("report"))
	assert.EqualValues(t, 1, report["activeProjects"])
	assert.EqualValues(t, 1, report["openTickets"])
	assert.EqualValues(t, 120.5, report["outstanding"])
	assert.EqualValues(t, 0, report["overdueTasks"])
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	t.Setenv("DOCSTORE_DYNAMODB_SECRET_ACCESS_KEY", "super-secret")
	h := newHarness(t)

	out := h.mustRun("config", "show")
	assert.Contains(t, out, "secret_access_key: ***")
	assert.NotContains(t, out, "super-secret")

	out = h.mustRun("config", "show", "--show-secrets")
	assert.Contains(t, out, "super-secret")
}

func TestConfigValidate(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.mustRun("config", "validate"), "Configuration is valid")

	_, err := h.run("config", "validate", "--store", "cassandra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestSecretFileFlag(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--secret-file", filepath.Join(t.TempDir(), "missing.yaml"), "config", "validate")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not accessible"))
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)
	info := decode[map[string]any](t, h.mustRun("version"))
	assert.Equal(t, "docstorectl", info["service"])
}
