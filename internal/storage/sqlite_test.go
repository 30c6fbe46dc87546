package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/kalambet/msgforge/internal/gate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClock returns a clock that advances one millisecond per call so
// ordering by timestamp is deterministic.
func fakeClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Millisecond)
		return cur
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_generation_jobs_status", "idx_variants_job", "idx_session_versions_single_active", "idx_action_jobs_status"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestPainPointRoundTripAndDedup(t *testing.T) {
	s := openTestStore(t)

	p := PainPoint{
		ID:        "pp-1",
		Title:     "Kubernetes upgrades break every quarter",
		Content:   "We lose a weekend each time.",
		Source:    "reddit",
		SourceURL: "https://example.com/r/1",
		Keywords:  []string{"kubernetes", "upgrades"},
		Metadata:  PainPointMetadata{Tools: []string{"helm"}},
	}
	if err := s.SavePainPoint(p); err != nil {
		t.Fatalf("SavePainPoint: %v", err)
	}

	got, err := s.GetPainPoint("pp-1")
	if err != nil {
		t.Fatalf("GetPainPoint: %v", err)
	}
	if got.Title != p.Title || len(got.Keywords) != 2 || got.Metadata.Tools[0] != "helm" {
		t.Errorf("unexpected pain point: %+v", got)
	}

	exists, err := s.PainPointExistsByURL("https://example.com/r/1")
	if err != nil || !exists {
		t.Errorf("PainPointExistsByURL = %v, %v; want true", exists, err)
	}
	exists, _ = s.PainPointExistsByURL("")
	if exists {
		t.Error("empty URL should never match")
	}

	if _, err := s.GetPainPoint("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVoiceProfileDefaultsThresholds(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.db.Exec(`INSERT INTO voice_profiles (id, name, guide, thresholds, created_at) VALUES ('v1', 'plain', '', '{}', ?)`,
		formatTime(time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v, err := s.GetVoiceProfile("v1")
	if err != nil {
		t.Fatalf("GetVoiceProfile: %v", err)
	}
	if v.Thresholds != gate.DefaultThresholds() {
		t.Errorf("thresholds = %+v, want defaults", v.Thresholds)
	}

	custom := gate.Thresholds{SlopMax: 3, VendorSpeakMax: 4, AuthenticityMin: 7, SpecificityMin: 7, PersonaMin: 7}
	if err := s.SaveVoiceProfile(VoiceProfile{ID: "v2", Name: "strict", Thresholds: custom}); err != nil {
		t.Fatalf("SaveVoiceProfile: %v", err)
	}
	v2, _ := s.GetVoiceProfile("v2")
	if v2.Thresholds != custom {
		t.Errorf("thresholds = %+v, want %+v", v2.Thresholds, custom)
	}
}

func TestReferenceDocsKeepInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	s.SetClock(fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	for _, id := range []string{"c", "a", "b"} {
		if err := s.SaveReferenceDoc(ReferenceDoc{ID: id, Name: id}); err != nil {
			t.Fatalf("SaveReferenceDoc: %v", err)
		}
	}
	docs, err := s.ListReferenceDocs()
	if err != nil {
		t.Fatalf("ListReferenceDocs: %v", err)
	}
	if len(docs) != 3 || docs[0].ID != "c" || docs[1].ID != "a" || docs[2].ID != "b" {
		t.Errorf("unexpected order: %+v", docs)
	}

	if err := s.DeleteReferenceDoc("a"); err != nil {
		t.Fatalf("DeleteReferenceDoc: %v", err)
	}
	if err := s.DeleteReferenceDoc("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func seedJob(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.EnqueueGenerationJob(GenerationJob{ID: id, PainPointID: "pp", VoiceProfileIDs: []string{"v"}, AssetTypes: []string{"battlecard"}}); err != nil {
		t.Fatalf("EnqueueGenerationJob: %v", err)
	}
}

func TestClaimNextGenerationJobOldestFirst(t *testing.T) {
	s := openTestStore(t)
	s.SetClock(fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	seedJob(t, s, "job-1")
	seedJob(t, s, "job-2")

	j, err := s.ClaimNextGenerationJob()
	if err != nil {
		t.Fatalf("ClaimNextGenerationJob: %v", err)
	}
	if j == nil || j.ID != "job-1" {
		t.Fatalf("claimed %+v, want job-1", j)
	}
	if j.Status != JobRunning || j.Attempts != 1 || j.StartedAt == nil {
		t.Errorf("unexpected claimed job: %+v", j)
	}

	j2, _ := s.ClaimNextGenerationJob()
	if j2 == nil || j2.ID != "job-2" {
		t.Fatalf("second claim = %+v, want job-2", j2)
	}

	j3, err := s.ClaimNextGenerationJob()
	if err != nil || j3 != nil {
		t.Errorf("empty queue claim = %+v, %v; want nil, nil", j3, err)
	}
}

func TestTransitionGenerationJob(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "job-1")

	if err := s.TransitionGenerationJob("job-1", JobRunning, JobCompleted, "", ""); !errors.Is(err, ErrConflict) {
		t.Errorf("transition from wrong status: expected ErrConflict, got %v", err)
	}
	if err := s.TransitionGenerationJob("nope", JobPending, JobRunning, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing job: expected ErrNotFound, got %v", err)
	}

	if err := s.TransitionGenerationJob("job-1", JobPending, JobRunning, "", ""); err != nil {
		t.Fatalf("pending->running: %v", err)
	}
	if err := s.TransitionGenerationJob("job-1", JobRunning, JobFailed, "boom", "stack"); err != nil {
		t.Fatalf("running->failed: %v", err)
	}
	j, _ := s.GetGenerationJob("job-1")
	if j.Status != JobFailed || j.ErrorMessage != "boom" || j.ErrorStack != "stack" || j.CompletedAt == nil {
		t.Errorf("unexpected failed job: %+v", j)
	}

	if err := s.TransitionGenerationJob("job-1", JobFailed, JobPending, "", ""); err != nil {
		t.Fatalf("failed->pending: %v", err)
	}
	j, _ = s.GetGenerationJob("job-1")
	if j.ErrorMessage != "" || j.CompletedAt != nil || j.StartedAt != nil {
		t.Errorf("retry did not clear job state: %+v", j)
	}
}

func TestRequeueStaleGenerationJobs(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	seedJob(t, s, "job-1")
	if _, err := s.ClaimNextGenerationJob(); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := s.RequeueStaleGenerationJobs(base.Add(-time.Minute))
	if err != nil || n != 0 {
		t.Errorf("fresh job requeued: n=%d err=%v", n, err)
	}
	n, err = s.RequeueStaleGenerationJobs(base.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("stale requeue: n=%d err=%v", n, err)
	}
	j, _ := s.GetGenerationJob("job-1")
	if j.Status != JobPending {
		t.Errorf("status = %s, want pending", j.Status)
	}
}

func TestSelectVariantReplacesPreviousSelection(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "job-1")

	for i, id := range []string{"var-a", "var-b"} {
		err := s.SaveVariant(Variant{ID: id, JobID: "job-1", PainPointID: "pp", VoiceProfileID: "v", AssetType: "battlecard", VariantIndex: i, Content: id})
		if err != nil {
			t.Fatalf("SaveVariant: %v", err)
		}
	}

	if err := s.SelectVariant("var-a"); err != nil {
		t.Fatalf("SelectVariant(a): %v", err)
	}
	if err := s.SelectVariant("var-b"); err != nil {
		t.Fatalf("SelectVariant(b): %v", err)
	}

	a, _ := s.GetVariant("var-a")
	b, _ := s.GetVariant("var-b")
	if a.ReviewStatus != ReviewApproved || b.ReviewStatus != ReviewSelected {
		t.Errorf("statuses = %s, %s; want approved, selected", a.ReviewStatus, b.ReviewStatus)
	}
	if a.Health.Failed == nil {
		t.Error("scorer health failed list should decode as empty, not nil")
	}

	if err := s.SelectVariant("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertActiveVersionSingleActive(t *testing.T) {
	s := openTestStore(t)

	v1, err := s.InsertActiveVersion(SessionVersion{ID: "ver-1", SessionID: "s1", AssetType: "battlecard", Content: "X", Source: SourceEdit})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	v2, err := s.InsertActiveVersion(SessionVersion{ID: "ver-2", SessionID: "s1", AssetType: "battlecard", Content: "Y", Source: SourceEdit})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if v1.VersionNumber != 1 || v2.VersionNumber != 2 {
		t.Errorf("version numbers = %d, %d; want 1, 2", v1.VersionNumber, v2.VersionNumber)
	}

	list, err := s.ListVersions("s1", "battlecard")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(list) != 2 || list[0].IsActive || !list[1].IsActive {
		t.Errorf("unexpected versions: %+v", list)
	}

	// A different pair numbers independently.
	other, _ := s.InsertActiveVersion(SessionVersion{ID: "ver-3", SessionID: "s1", AssetType: "one_pager", Content: "Z", Source: SourceEdit})
	if other.VersionNumber != 1 {
		t.Errorf("other pair version = %d, want 1", other.VersionNumber)
	}

	if _, err := s.ActivateVersion("ver-1"); err != nil {
		t.Fatalf("ActivateVersion: %v", err)
	}
	active, err := s.GetActiveVersion("s1", "battlecard")
	if err != nil || active.ID != "ver-1" {
		t.Errorf("active = %+v, %v; want ver-1", active, err)
	}

	var count int
	s.db.QueryRow(`SELECT COUNT(*) FROM session_versions WHERE session_id = 's1' AND asset_type = 'battlecard' AND is_active = 1`).Scan(&count)
	if count != 1 {
		t.Errorf("active count = %d, want 1", count)
	}
}

func TestSecondActiveRowRejectedByIndex(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertActiveVersion(SessionVersion{ID: "ver-1", SessionID: "s1", AssetType: "battlecard", Content: "X"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := s.db.Exec(`INSERT INTO session_versions (id, session_id, asset_type, version_number, content, source, is_active, created_at)
		VALUES ('ver-x', 's1', 'battlecard', 9, 'Q', 'edit', 1, ?)`, formatTime(time.Now()))
	if err == nil {
		t.Error("expected unique index violation for a second active row")
	}
}

func TestActionJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateActionJob(ActionJob{ID: "act-1", SessionID: "s1", AssetType: "battlecard", ActionName: "polish"}); err != nil {
		t.Fatalf("CreateActionJob: %v", err)
	}
	s.UpdateActionProgress("act-1", 40, "drafting")
	s.UpdateActionProgress("act-1", 20, "late update")

	a, err := s.GetActionJob("act-1")
	if err != nil {
		t.Fatalf("GetActionJob: %v", err)
	}
	if a.Progress != 40 {
		t.Errorf("progress = %d, want 40 (never decreases)", a.Progress)
	}

	if err := s.FinishActionJob("act-1", ActionCompleted, `{"ok":true}`, ""); err != nil {
		t.Fatalf("FinishActionJob: %v", err)
	}
	a, _ = s.GetActionJob("act-1")
	if a.Status != ActionCompleted || a.Progress != 100 || a.CompletedAt == nil {
		t.Errorf("unexpected completed job: %+v", a)
	}

	if err := s.FinishActionJob("act-1", ActionFailed, "", "late"); !errors.Is(err, ErrConflict) {
		t.Errorf("finishing twice: expected ErrConflict, got %v", err)
	}
	s.UpdateActionProgress("act-1", 10, "ignored")
	a, _ = s.GetActionJob("act-1")
	if a.CurrentStep == "ignored" {
		t.Error("progress update applied to a terminal job")
	}
}

func TestFailStaleActionJobs(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	s.CreateActionJob(ActionJob{ID: "act-1", SessionID: "s1", AssetType: "battlecard", ActionName: "polish"})
	n, err := s.FailStaleActionJobs(base.Add(time.Second), "interrupted")
	if err != nil || n != 1 {
		t.Fatalf("FailStaleActionJobs: n=%d err=%v", n, err)
	}
	a, _ := s.GetActionJob("act-1")
	if a.Status != ActionFailed || a.ErrorMessage != "interrupted" {
		t.Errorf("unexpected job: %+v", a)
	}
}

func TestDueSchedules(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	schedules := []DiscoverySchedule{
		{ID: "never", Name: "never ran", IsActive: true},
		{ID: "past", Name: "overdue", IsActive: true, NextRunAt: &past},
		{ID: "future", Name: "later", IsActive: true, NextRunAt: &future},
		{ID: "off", Name: "inactive", IsActive: false, NextRunAt: &past},
	}
	for _, sc := range schedules {
		if err := s.SaveSchedule(sc); err != nil {
			t.Fatalf("SaveSchedule: %v", err)
		}
	}

	due, err := s.ListDueSchedules(now)
	if err != nil {
		t.Fatalf("ListDueSchedules: %v", err)
	}
	if len(due) != 2 || due[0].ID != "never" || due[1].ID != "past" {
		t.Fatalf("due = %+v, want [never past]", due)
	}

	next := now.Add(4 * time.Hour)
	if err := s.MarkScheduleSucceeded("past", now, next); err != nil {
		t.Fatalf("MarkScheduleSucceeded: %v", err)
	}
	if err := s.MarkScheduleFailed("never", "upstream down"); err != nil {
		t.Fatalf("MarkScheduleFailed: %v", err)
	}

	due, _ = s.ListDueSchedules(now)
	if len(due) != 1 || due[0].ID != "never" || due[0].LastError != "upstream down" {
		t.Errorf("due after marking = %+v", due)
	}
	got, _ := s.GetSchedule("past")
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) || got.LastRunAt == nil {
		t.Errorf("unexpected schedule: %+v", got)
	}
}
