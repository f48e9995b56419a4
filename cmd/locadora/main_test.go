package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ucasvieira/locadora/internal/app"
	"github.com/ucasvieira/locadora/internal/config"
	"github.com/ucasvieira/locadora/internal/errs"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/storage/memory"
)

// newTestContext opens a context on dev; several calls on the same device
// behave like consecutive CLI invocations.
func newTestContext(t *testing.T, dev *memory.Device, id string) *app.App {
	t.Helper()
	cfg := &config.Config{
		Backend:       config.BackendMemory,
		ContextID:     id,
		LimitWindow:   time.Minute,
		LimitMaxFails: 5,
		LimitBlockFor: time.Minute,
	}
	a, err := app.New(context.Background(), cfg, dev.Open(id), nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func runCmd(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), a, args, &out)
	return out.String(), err
}

func Test_run_UnknownCommand(t *testing.T) {
	a := newTestContext(t, memory.NewDevice(), "cli")
	for _, args := range [][]string{nil, {"nope"}, {"movies"}, {"movies", "fly"}, {"users", "fly"}} {
		if _, err := runCmd(t, a, args...); !errors.Is(err, errUsage) {
			t.Fatalf("%v: want errUsage, got %v", args, err)
		}
	}
}

func Test_movies_ListAndGet(t *testing.T) {
	a := newTestContext(t, memory.NewDevice(), "cli")

	out, err := runCmd(t, a, "movies", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := strings.Count(out, "\n"); got != len(a.Seed.Movies) {
		t.Fatalf("list lines=%d, want %d:\n%s", got, len(a.Seed.Movies), out)
	}

	out, err = runCmd(t, a, "movies", "list", "-page", "1", "-size", "5")
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if !strings.Contains(out, "page 1/") {
		t.Fatalf("missing page footer:\n%s", out)
	}

	out, err = runCmd(t, a, "movies", "get", "-id", "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var m model.Movie
	if err := json.Unmarshal([]byte(out), &m); err != nil || m.ID != "1" {
		t.Fatalf("get output: %q %v", out, err)
	}

	if _, err := runCmd(t, a, "movies", "get", "-id", "999"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := runCmd(t, a, "movies", "list", "-where", "year between 1"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func Test_movies_MutationsNeedAdmin(t *testing.T) {
	a := newTestContext(t, memory.NewDevice(), "cli")
	if _, err := runCmd(t, a, "movies", "add", "-title", "X"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if _, err := runCmd(t, a, "login", "-u", "user", "-p", "user123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := runCmd(t, a, "movies", "rm", "-id", "1"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for non-admin, got %v", err)
	}
}

func Test_movies_AddEditRemoveRestore(t *testing.T) {
	dev := memory.NewDevice()
	first := newTestContext(t, dev, "cli-1")
	if _, err := runCmd(t, first, "login", "-u", "admin", "-p", "admin123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// a later invocation sees the stored session and the added record
	a := newTestContext(t, dev, "cli-2")
	out, err := runCmd(t, a, "movies", "add", "-title", "Arrival", "-category", "Sci-Fi", "-year", "2016", "-rating", "7.9")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var added model.Movie
	if err := json.Unmarshal([]byte(out), &added); err != nil || added.Title != "Arrival" || added.ID == "" {
		t.Fatalf("add output: %q %v", out, err)
	}

	before, _ := first.Catalog.Get(context.Background(), "1")
	out, err = runCmd(t, a, "movies", "edit", "-id", "1", "-rating", "9.5")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	var edited model.Movie
	_ = json.Unmarshal([]byte(out), &edited)
	if edited.Rating != 9.5 || edited.Title != before.Title || edited.Year != before.Year {
		t.Fatalf("edit should only touch rating: before=%+v after=%+v", before, edited)
	}

	out, err = runCmd(t, a, "movies", "rm", "-id", added.ID)
	if err != nil {
		t.Fatalf("rm: %v", err)
	}
	file := filepath.Join(t.TempDir(), "removed.json")
	if err := os.WriteFile(file, []byte(out), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCmd(t, a, "movies", "rm", "-id", added.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second rm: want ErrNotFound, got %v", err)
	}
	if _, err := runCmd(t, a, "movies", "restore", "-file", file); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := a.Catalog.Get(context.Background(), added.ID)
	if err != nil || got != added {
		t.Fatalf("restored=%+v err=%v, want %+v", got, err, added)
	}
}

func Test_auth_Commands(t *testing.T) {
	a := newTestContext(t, memory.NewDevice(), "cli")

	if _, err := runCmd(t, a, "whoami"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("whoami before login: %v", err)
	}

	old := stdin
	stdin = strings.NewReader("secret1\n")
	defer func() { stdin = old }()
	oldTerm := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	defer func() { stdinIsTerminal = oldTerm }()

	if _, err := runCmd(t, a, "register", "-u", "alice", "-role", "admin"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := runCmd(t, a, "login", "-u", "alice", "-p", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	out, err := runCmd(t, a, "whoami")
	if err != nil || out != "alice (user)\n" {
		t.Fatalf("whoami=%q err=%v", out, err)
	}

	out, err = runCmd(t, a, "users", "list")
	if err != nil || !strings.Contains(out, "alice") || !strings.Contains(out, "stored") {
		t.Fatalf("users list=%q err=%v", out, err)
	}
	if err := run(context.Background(), a, []string{"users", "rm", "-u", "alice"}, io.Discard); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("non-admin rm: %v", err)
	}

	if _, err := runCmd(t, a, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := runCmd(t, a, "whoami"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("whoami after logout: %v", err)
	}
}

func Test_rentals_Commands(t *testing.T) {
	a := newTestContext(t, memory.NewDevice(), "cli")
	if _, err := runCmd(t, a, "rentals", "list"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("rentals without session: %v", err)
	}
	if _, err := runCmd(t, a, "login", "-u", "user", "-p", "user123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	out, err := runCmd(t, a, "rentals", "add", "-customer", "Ana", "-movie", "Arrival", "-date", "2024-06-01")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var r model.Rental
	if err := json.Unmarshal([]byte(out), &r); err != nil || r.Status != model.RentalActive {
		t.Fatalf("add output: %q %v", out, err)
	}

	out, err = runCmd(t, a, "rentals", "edit", "-id", r.ID, "-status", "Returned", "-return", "2024-06-03")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	var edited model.Rental
	_ = json.Unmarshal([]byte(out), &edited)
	if edited.Status != model.RentalReturned || edited.CustomerName != "Ana" || edited.ReturnDate != "2024-06-03" {
		t.Fatalf("edit result: %+v", edited)
	}

	out, err = runCmd(t, a, "rentals", "list")
	if err != nil || !strings.Contains(out, r.ID) {
		t.Fatalf("list=%q err=%v", out, err)
	}
	if _, err := runCmd(t, a, "rentals", "rm", "-id", r.ID); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if _, err := runCmd(t, a, "rentals", "rm", "-id", r.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second rm: %v", err)
	}
}

func Test_watch_PrintsRemoteChanges(t *testing.T) {
	dev := memory.NewDevice()
	watcher := newTestContext(t, dev, "cli-watch")
	writer := newTestContext(t, dev, "cli-write")

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- cmdWatch(ctx, watcher, []string{"-topic", "rentals"}, pw)
		_ = pw.Close()
	}()

	if _, err := writer.Rentals.Create(context.Background(), model.Rental{CustomerName: "Ana", MovieTitle: "X"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var ev struct {
		Topic  string `json:"topic"`
		Origin string `json:"origin"`
		Remote bool   `json:"remote"`
	}
	if err := json.NewDecoder(pr).Decode(&ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Topic != "rentals" || !ev.Remote || ev.Origin != "cli-write" {
		t.Fatalf("event: %+v", ev)
	}

	cancel()
	go func() { _, _ = io.Copy(io.Discard, pr) }()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func Test_stringList(t *testing.T) {
	t.Parallel()

	var l stringList
	_ = l.Set("year greaterThan 1990")
	_ = l.Set("or")
	if len(l) != 2 || l.String() != "year greaterThan 1990, or" {
		t.Fatalf("stringList=%v", l)
	}
}

func Test_readPassword_NotTerminal(t *testing.T) {
	old := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	defer func() { stdinIsTerminal = old }()

	p, err := readPassword("", strings.NewReader("hunter2\r\nrest"))
	if err != nil || p != "hunter2" {
		t.Fatalf("readPassword=%q err=%v", p, err)
	}
	p, err = readPassword("", strings.NewReader("no-newline"))
	if err != nil || p != "no-newline" {
		t.Fatalf("readPassword at EOF=%q err=%v", p, err)
	}
}

func Test_readAll_File(t *testing.T) {
	t.Parallel()

	tmp := filepath.Join(t.TempDir(), "f.json")
	_ = os.WriteFile(tmp, []byte(`{"id":"2"}`), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != `{"id":"2"}` {
		t.Fatalf("readAll(file): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJSON(&buf, map[string]any{"a": 1})
	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\n  ")) {
		t.Fatalf("printJSON should indent")
	}
}
