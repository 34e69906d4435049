package genstub

import (
	"context"
	"testing"

	"github.com/ShayCichocki/friday/internal/genservice"
)

func TestStubQueueThenDefault(t *testing.T) {
	s := New().
		Queue(genservice.KindJudge, "a", Judge(false, 0, "first"), Judge(true, 7, "second")).
		Default(genservice.KindJudge, Judge(true, 5, "default"))

	ctx := context.Background()
	req := genservice.Request{NodeName: "a"}
	want := []string{Judge(false, 0, "first"), Judge(true, 7, "second"), Judge(true, 5, "default")}
	for i, w := range want {
		got, err := s.Generate(ctx, genservice.KindJudge, req)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got != w {
			t.Errorf("call %d = %q, want %q", i, got, w)
		}
	}

	if n := s.Count(genservice.KindJudge, "a"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestStubUnscripted(t *testing.T) {
	if _, err := New().Generate(context.Background(), genservice.KindQA, genservice.Request{}); err == nil {
		t.Error("expected error for unscripted kind")
	}
}

func TestStubHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New().Default(genservice.KindQA, "42")
	if _, err := s.Generate(ctx, genservice.KindQA, genservice.Request{}); err == nil {
		t.Error("expected context error")
	}
}

func TestPlanRoundTrip(t *testing.T) {
	resp := Plan(Subtask{Name: "a", Description: "do a", Type: "Python"})
	var m map[string]Subtask
	if err := genservice.ExtractJSON(resp, &m); err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if m["a"].Description != "do a" || m["a"].Dependencies == nil {
		t.Errorf("unexpected plan: %+v", m)
	}
}
