package cli

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evcraddock/street-kams/internal/blob"
	"github.com/evcraddock/street-kams/internal/config"
	"github.com/evcraddock/street-kams/internal/db"
	"github.com/evcraddock/street-kams/internal/visit"
	"github.com/evcraddock/street-kams/internal/web"
)

const testPassword = "correct-horse"

// startServer runs a real street-kams server on a temp database and points
// the CLI at it. It returns the database path.
func startServer(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KAMS_API_KEY", "")
	t.Setenv("KAMS_DB", "")

	path := filepath.Join(t.TempDir(), "kams.db")
	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	dir, err := blob.NewDirStore(t.TempDir(), "http://localhost:8080", []byte("test-secret"))
	if err != nil {
		t.Fatalf("dir store: %v", err)
	}

	cfg := config.Config{
		AppID:       "test-app",
		AdminEmails: []string{"boss@example.com"},
		DevMode:     true,
		FormSchema:  "blocks",
	}
	srv, err := web.NewServer(cfg, web.Deps{DB: database, Blobs: dir, Downloads: dir})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	t.Setenv("KAMS_SERVER_URL", ts.URL)
	return path
}

func addUser(t *testing.T, dbPath, email string) {
	t.Helper()
	out, err := executeCommand("users", "add", email, "--password", testPassword, "--db", dbPath)
	if err != nil {
		t.Fatalf("users add: %v\n%s", err, out)
	}
}

func login(t *testing.T, email string) {
	t.Helper()
	out, err := executeCommandWithInput(testPassword+"\n", "login", "--email", email)
	if err != nil {
		t.Fatalf("login: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Signed in as "+email) {
		t.Errorf("login output = %q", out)
	}
}

// completeVisitArgs returns submit flags for a complete on-site visit.
// located adds check-in coordinates.
func completeVisitArgs(restaurant string, located bool) []string {
	args := []string{
		"submit",
		"--zone", "Suba",
		"--brand", "B-10",
		"--restaurant", restaurant,
		"--decision-maker", "Ana",
		"--details", "Menu review",
	}
	if located {
		args = append(args, "--lat", "4.65", "--lon", "-74.1")
	}
	for _, f := range visit.BlocksSchema.Fields {
		value := "98"
		if f.Kind == visit.Choice {
			value = f.Options[0]
		}
		args = append(args, "--answer", f.Name+"="+value)
	}
	return args
}

func TestUsersCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "kams.db")

	addUser(t, dbPath, "kam@example.com")

	out, err := executeCommandWithInput("another-password\n", "users", "add", "ana@example.com", "--name", "Ana", "--db", dbPath)
	if err != nil {
		t.Fatalf("add with prompt: %v", err)
	}
	if !strings.Contains(out, "Added ana@example.com") {
		t.Errorf("add output = %q", out)
	}

	if _, err := executeCommand("users", "add", "kam@example.com", "--password", testPassword, "--db", dbPath); err == nil {
		t.Error("duplicate account accepted")
	}
	if _, err := executeCommand("users", "add", "short@example.com", "--password", "short", "--db", dbPath); err == nil {
		t.Error("short password accepted")
	}

	out, err = executeCommand("users", "list", "--db", dbPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"EMAIL", "kam@example.com", "ana@example.com", "Ana"} {
		if !strings.Contains(out, want) {
			t.Errorf("list missing %q:\n%s", want, out)
		}
	}

	if _, err := executeCommand("users", "passwd", "kam@example.com", "--password", "new-password-1", "--db", dbPath); err != nil {
		t.Fatalf("passwd: %v", err)
	}

	if _, err := executeCommand("users", "remove", "ana@example.com", "--db", dbPath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := executeCommand("users", "remove", "ana@example.com", "--db", dbPath); err == nil {
		t.Error("removing a missing account succeeded")
	}

	out, err = executeCommand("users", "list", "--format", "json", "--db", dbPath)
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var users []map[string]any
	if err := json.Unmarshal([]byte(out), &users); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(users) != 1 {
		t.Errorf("users = %d, want 1", len(users))
	}
}

func TestLoginStatusLogout(t *testing.T) {
	dbPath := startServer(t)
	addUser(t, dbPath, "kam@example.com")

	out, err := executeCommand("status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "not configured") {
		t.Errorf("status before login = %q", out)
	}

	if _, err := executeCommandWithInput("wrong-password\n", "login", "--email", "kam@example.com"); err == nil {
		t.Fatal("login with a wrong password succeeded")
	}

	login(t, "kam@example.com")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.HasPrefix(cfg.APIKey, "kams_") {
		t.Errorf("stored key = %q", cfg.APIKey)
	}

	out, err = executeCommand("status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "signed in as kam@example.com (KAM)") {
		t.Errorf("status = %q", out)
	}

	out, err = executeCommand("logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(out, "Logged out") {
		t.Errorf("logout output = %q", out)
	}
	cfg, _ = loadConfig()
	if cfg.APIKey != "" {
		t.Error("key kept after logout")
	}

	out, _ = executeCommand("logout")
	if !strings.Contains(out, "Not logged in.") {
		t.Errorf("second logout = %q", out)
	}
}

func TestStatusRejectedKey(t *testing.T) {
	startServer(t)
	if err := saveConfig(CLIConfig{APIKey: "kams_revoked0000"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := executeCommand("status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "no longer valid") {
		t.Errorf("status = %q", out)
	}
	if cfg, _ := loadConfig(); cfg.APIKey != "" {
		t.Error("rejected key kept")
	}
}

func TestStatusUnreachable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KAMS_SERVER_URL", "http://127.0.0.1:1")
	t.Setenv("KAMS_API_KEY", "kams_ab")

	out, err := executeCommand("status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "cannot reach server") {
		t.Errorf("status = %q", out)
	}
}

func TestSubmitRequiresSignIn(t *testing.T) {
	startServer(t)
	_, err := executeCommand(completeVisitArgs("La Esquina", true)...)
	if err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Errorf("err = %v, want not signed in", err)
	}
}

func TestSubmitListExport(t *testing.T) {
	dbPath := startServer(t)
	addUser(t, dbPath, "kam@example.com")
	login(t, "kam@example.com")

	out, err := executeCommand(completeVisitArgs("La Esquina", true)...)
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	for _, want := range []string{"Location registered:", "Visit recorded.", "La Esquina (B-10)", "4.6500, -74.1000"} {
		if !strings.Contains(out, want) {
			t.Errorf("submit output missing %q:\n%s", want, out)
		}
	}

	// Without coordinates the check-in falls back to the simulated location.
	out, err = executeCommand(completeVisitArgs("Casa Sur", false)...)
	if err != nil {
		t.Fatalf("simulated submit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "simulated") {
		t.Errorf("simulated submit output = %q", out)
	}

	_, err = executeCommand("submit", "--zone", "Suba")
	if err == nil || !strings.Contains(err.Error(), "[general]") {
		t.Errorf("incomplete submit err = %v, want general category", err)
	}

	_, err = executeCommand("submit", "--zone", "Atlantis")
	if err == nil || !strings.Contains(err.Error(), "invalid value") {
		t.Errorf("bad zone err = %v", err)
	}

	out, err = executeCommand("visits")
	if err != nil {
		t.Fatalf("visits: %v", err)
	}
	if !strings.Contains(out, "La Esquina") || !strings.Contains(out, "Total: 2 visits") {
		t.Errorf("visits output:\n%s", out)
	}

	out, err = executeCommand("visits", "--format", "json")
	if err != nil {
		t.Fatalf("visits json: %v", err)
	}
	var visits []visit.Visit
	if err := json.Unmarshal([]byte(out), &visits); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(visits) != 2 || visits[0].OwnerLabel != "kam@example.com" {
		t.Errorf("visits = %+v", visits)
	}

	if _, err := executeCommand("admin"); err == nil {
		t.Error("non-admin listed every visit")
	}

	dir := t.TempDir()
	out, err = executeCommand("export", "--dir", dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "Exported 2 visits") || !strings.Contains(out, "Stored copy:") {
		t.Errorf("export output = %q", out)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("export dir = %v, %v", entries, err)
	}
	if !strings.HasPrefix(entries[0].Name(), "Visitas_KAM_Exportado_") {
		t.Errorf("file name = %q", entries[0].Name())
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "La Esquina") {
		t.Error("export missing the visit")
	}
}

func TestAdminAndEmptyExport(t *testing.T) {
	dbPath := startServer(t)
	addUser(t, dbPath, "boss@example.com")
	login(t, "boss@example.com")

	out, err := executeCommand("export", "--dir", t.TempDir())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "There are no visits to export.") {
		t.Errorf("export output = %q", out)
	}

	if _, err := executeCommand(completeVisitArgs("Casa Sur", true)...); err != nil {
		t.Fatalf("submit: %v", err)
	}
	out, err = executeCommand("admin")
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if !strings.Contains(out, "KAM") || !strings.Contains(out, "boss@example.com") {
		t.Errorf("admin output:\n%s", out)
	}
}

func TestFieldsCommand(t *testing.T) {
	startServer(t)

	out, err := executeCommand("fields")
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	for _, want := range []string{"catalogPhotos", "priceParity", "Top Operator", "(required)"} {
		if !strings.Contains(out, want) {
			t.Errorf("fields missing %q", want)
		}
	}
}
