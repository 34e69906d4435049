package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/internal/genservice/genstub"
	"github.com/ShayCichocki/friday/pkg/models"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		response string
		want     models.RepairKind
		wantErr  bool
	}{
		{genstub.Classify("amend", "typo in variable name"), models.RepairAmend, false},
		{genstub.Classify("replan", "openpyxl missing"), models.RepairReplan, false},
		{genstub.Classify("Planning", "needs a tool"), models.RepairReplan, false},
		{"```json\n{\"reasoning\": \"x\", \"type\": \" AMEND \"}\n```", models.RepairAmend, false},
		{genstub.Classify("retry", "?"), "", true},
		{genstub.Classify("", "?"), "", true},
		{"it is broken", "", true},
	}

	for _, tt := range tests {
		d, err := ParseDecision(tt.response)
		if tt.wantErr {
			if !errors.Is(err, errs.ErrContractViolation) || !errs.Fatal(err) {
				t.Errorf("ParseDecision(%q) error = %v, want fatal contract violation", tt.response, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDecision(%q): %v", tt.response, err)
			continue
		}
		if d.Kind != tt.want {
			t.Errorf("ParseDecision(%q) = %s, want %s", tt.response, d.Kind, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	stub := genstub.New().Default(genservice.KindErrorAnalysis, genstub.Classify("replan", "module not found"))
	node := &models.TaskNode{Name: "read_sheet", Description: "Read a.xlsx", Code: "import openpyxl"}

	d, err := New(stub).Classify(context.Background(), node, models.ExecutionResult{Error: "ModuleNotFoundError: openpyxl", ExitCode: 1}, genservice.Env{WorkingDir: "/w"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Kind != models.RepairReplan || d.Reasoning != "module not found" {
		t.Errorf("Classify() = %+v", d)
	}

	req := stub.Calls()[0].Req
	if req.Error != "ModuleNotFoundError: openpyxl" || req.Code != "import openpyxl" || req.WorkingDir != "/w" {
		t.Errorf("request = %+v", req)
	}
}

func TestClassifyGenerationError(t *testing.T) {
	_, err := New(genstub.New()).Classify(context.Background(), &models.TaskNode{Name: "a"}, models.ExecutionResult{}, genservice.Env{})
	if err == nil {
		t.Fatal("expected error for unscripted generator")
	}
	if errors.Is(err, errs.ErrContractViolation) {
		t.Error("generation failure should not be reported as a contract violation")
	}
}
