package binding

import (
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bindings.json")
	return Open(path), path
}

func sample(sessionID string, threadID int) *Binding {
	return &Binding{
		ChatID:    -100123,
		ThreadID:  threadID,
		Directory: "/work/proj",
		SessionID: sessionID,
		State:     StateIdle,
		Model:     ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4-20250514"},
		CreatedBy: 42,
		Title:     "demo",
	}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s, _ := testStore(t)

	if got := len(s.All()); got != 0 {
		t.Errorf("expected empty store, got %d bindings", got)
	}
}

func TestOpenMalformedFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Open(path)
	if got := len(s.All()); got != 0 {
		t.Errorf("malformed file should yield empty store, got %d", got)
	}
}

func TestOpenWrongVersionIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"topics":[{"sessionId":"x"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Open(path)
	if got := len(s.All()); got != 0 {
		t.Errorf("version mismatch should yield empty store, got %d", got)
	}
}

func TestUpsertRoundTripSurvivesRestart(t *testing.T) {
	s, path := testStore(t)

	b := sample("ses_1", 10)
	if err := s.Upsert(b); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// simulate process restart
	s2 := Open(path)

	got, ok := s2.BySession("ses_1")
	if !ok {
		t.Fatal("binding lost across restart")
	}

	if got.ChatID != b.ChatID || got.ThreadID != b.ThreadID || got.Directory != b.Directory ||
		got.State != b.State || got.Model != b.Model || got.CreatedBy != b.CreatedBy || got.Title != b.Title {
		t.Errorf("binding fields changed across restart: %+v vs %+v", got, b)
	}
}

func TestByThreadSkipsClosed(t *testing.T) {
	s, _ := testStore(t)

	old := sample("ses_old", 10)
	old.State = StateClosed
	if err := s.Upsert(old); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.ByThread(-100123, 10); ok {
		t.Error("closed binding must not match for new prompts")
	}

	if err := s.Upsert(sample("ses_new", 10)); err != nil {
		t.Fatal(err)
	}

	got, ok := s.ByThread(-100123, 10)
	if !ok || got.SessionID != "ses_new" {
		t.Errorf("expected ses_new, got %+v", got)
	}
}

func TestUpsertClosesPreviousBindingOnThread(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Upsert(sample("ses_a", 10)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(sample("ses_b", 10)); err != nil {
		t.Fatal(err)
	}

	got, ok := s.ByThread(-100123, 10)
	if !ok || got.SessionID != "ses_b" {
		t.Fatalf("expected ses_b bound, got %+v", got)
	}

	a, ok := s.BySession("ses_a")
	if !ok || !a.Closed() {
		t.Errorf("previous binding should be closed, got %+v", a)
	}
}

func TestPatch(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Upsert(sample("ses_1", 10)); err != nil {
		t.Fatal(err)
	}

	updated, ok, err := s.Patch("ses_1", func(b *Binding) {
		b.State = StateError
		b.LastError = "boom"
	})
	if err != nil || !ok {
		t.Fatalf("patch: ok=%v err=%v", ok, err)
	}
	if updated.State != StateError || updated.LastError != "boom" {
		t.Errorf("patch not applied: %+v", updated)
	}

	if _, ok, _ := s.Patch("nope", func(b *Binding) {}); ok {
		t.Error("patch of unknown session should report absent")
	}
}

func TestPatchRefusesClosedBinding(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Upsert(sample("ses_1", 10)); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.CloseByThread(-100123, 10); !ok || err != nil {
		t.Fatalf("close: ok=%v err=%v", ok, err)
	}

	if _, ok, _ := s.Patch("ses_1", func(b *Binding) {
		b.State = StateError
		b.LastError = "late failure"
	}); ok {
		t.Fatal("patch of closed binding should report absent")
	}

	got, _ := s.BySession("ses_1")
	if !got.Closed() || got.LastError != "" {
		t.Errorf("closed binding mutated: %+v", got)
	}
}

func TestCloseByThread(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Upsert(sample("ses_1", 10)); err != nil {
		t.Fatal(err)
	}

	closed, ok, err := s.CloseByThread(-100123, 10)
	if err != nil || !ok {
		t.Fatalf("close: ok=%v err=%v", ok, err)
	}
	if !closed.Closed() {
		t.Error("returned binding should be closed")
	}

	// retained for audit
	if got := len(s.All()); got != 1 {
		t.Errorf("closed binding should be retained, have %d", got)
	}

	if _, ok, _ := s.CloseByThread(-100123, 10); ok {
		t.Error("second close should report absent")
	}
}

func TestNoTempFileLeftBehind(t *testing.T) {
	s, path := testStore(t)

	if err := s.Upsert(sample("ses_1", 10)); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away after save")
	}
}
