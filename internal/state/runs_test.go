package state

import (
	"slices"
	"testing"
	"time"

	"github.com/ShayCichocki/friday/pkg/models"
)

func TestRunCRUD(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	r := &Run{ID: "run-1", Task: "zip the reports", WorkingDir: "/work", Status: RunActive, StartedAt: started}
	if err := db.CreateRun(r); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil || got == nil {
		t.Fatalf("GetRun = (%v, %v)", got, err)
	}
	if got.Task != "zip the reports" || got.Status != RunActive || !got.StartedAt.Equal(started) || got.FinishedAt != nil {
		t.Errorf("GetRun() = %+v", got)
	}

	finished := started.Add(time.Minute)
	got.Status = RunFailed
	got.Error = "node zip_folder: amend budget of 3 exhausted"
	got.InputTokens, got.OutputTokens = 1200, 340
	got.FinishedAt = &finished
	if err := db.UpdateRun(got); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	again, _ := db.GetRun("run-1")
	if again.Status != RunFailed || again.InputTokens != 1200 || again.FinishedAt == nil || !again.FinishedAt.Equal(finished) {
		t.Errorf("after update: %+v", again)
	}

	missing, err := db.GetRun("nope")
	if err != nil || missing != nil {
		t.Errorf("GetRun(missing) = (%v, %v)", missing, err)
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, status := range []RunStatus{RunSucceeded, RunActive, RunActive} {
		r := &Run{ID: string(rune('a' + i)), Task: "t", Status: status, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := db.CreateRun(r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.ListRuns(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("ListRuns(nil) = %v, want newest first", all)
	}

	active := RunActive
	act, _ := db.ListRuns(&active)
	if len(act) != 2 {
		t.Errorf("ListRuns(active) returned %d runs, want 2", len(act))
	}
}

func TestSaveAndLoadNodes(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(&Run{ID: "r", Task: "t", Status: RunActive, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	nodes := []*models.TaskNode{
		{Name: "list_files", Type: models.NodeTypeShell, Status: models.NodeStatusSucceeded, Code: "ls", ReturnValue: "a.txt", Score: 8},
		{
			Name: "count_words", Type: models.NodeTypePython, Status: models.NodeStatusPending,
			Dependencies: []string{"list_files"}, RetryCount: 1, ReplanCount: 1, LastReasoning: "typo",
			History: []models.AttemptRecord{{Attempt: 1, Error: "NameError", Repair: models.RepairAmend, At: at}},
		},
	}
	if err := db.SaveNodes("r", nodes); err != nil {
		t.Fatalf("SaveNodes failed: %v", err)
	}
	// Saving again replaces the snapshot.
	nodes[0].ReturnValue = "a.txt\nb.txt"
	if err := db.SaveNodes("r", nodes); err != nil {
		t.Fatalf("second SaveNodes failed: %v", err)
	}

	loaded, err := db.LoadNodes("r")
	if err != nil {
		t.Fatalf("LoadNodes failed: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Name != "list_files" || loaded[1].Name != "count_words" {
		t.Fatalf("LoadNodes() order = %v", loaded)
	}
	if loaded[0].ReturnValue != "a.txt\nb.txt" || loaded[0].Dependencies != nil {
		t.Errorf("list_files = %+v", loaded[0])
	}
	cw := loaded[1]
	if !slices.Equal(cw.Dependencies, []string{"list_files"}) || cw.RetryCount != 1 || cw.ReplanCount != 1 {
		t.Errorf("count_words = %+v", cw)
	}
	if len(cw.History) != 1 || cw.History[0].Repair != models.RepairAmend || !cw.History[0].At.Equal(at) {
		t.Errorf("History = %+v", cw.History)
	}

	counts, err := db.NodeStatusCounts("r")
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.NodeStatusSucceeded] != 1 || counts[models.NodeStatusPending] != 1 {
		t.Errorf("NodeStatusCounts() = %v", counts)
	}
}

func TestRecoveryManager(t *testing.T) {
	db := setupTestDB(t)
	rm := NewRecoveryManager(db)

	if info, err := rm.CheckForInterrupted(); err != nil || info != nil {
		t.Fatalf("CheckForInterrupted on empty db = (%v, %v)", info, err)
	}

	if err := db.CreateRun(&Run{ID: "r", Task: "t", Status: RunActive, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveNodes("r", []*models.TaskNode{
		{Name: "a", Type: models.NodeTypeShell, Status: models.NodeStatusSucceeded},
		{Name: "b", Type: models.NodeTypeShell, Status: models.NodeStatusRunning},
		{Name: "c", Type: models.NodeTypeShell, Status: models.NodeStatusPending},
	}); err != nil {
		t.Fatal(err)
	}

	info, err := rm.CheckForInterrupted()
	if err != nil || info == nil {
		t.Fatalf("CheckForInterrupted = (%v, %v)", info, err)
	}
	if info.RunID != "r" || info.InFlight != 1 || info.Remaining != 2 {
		t.Errorf("InterruptedRun = %+v", info)
	}

	if err := rm.Abandon("r"); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if info, _ := rm.CheckForInterrupted(); info != nil {
		t.Errorf("abandoned run still reported: %+v", info)
	}
}

func TestDeleteRunRemovesNodes(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(&Run{ID: "r", Task: "t", Status: RunSucceeded, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveNodes("r", []*models.TaskNode{{Name: "a", Type: models.NodeTypeQA, Status: models.NodeStatusSucceeded}}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteRun("r"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	nodes, err := db.LoadNodes("r")
	if err != nil || len(nodes) != 0 {
		t.Errorf("LoadNodes after delete = (%v, %v)", nodes, err)
	}
}
