package results

import "testing"

func TestStoreMergeOnce(t *testing.T) {
	s := NewStore()
	a := &Job{PromptID: "j", Status: StatusCompleted, Outputs: []Output{{Name: "a.png"}}}
	b := &Job{PromptID: "j", Status: StatusError, ErrorMessage: "late"}

	if !s.Merge("j", a) {
		t.Fatal("Expected the first merge to be accepted")
	}
	if s.Merge("j", b) {
		t.Fatal("Expected the second merge to be rejected")
	}
	got, ok := s.Get("j")
	if !ok {
		t.Fatal("Expected job j to be present")
	}
	if got != a {
		t.Errorf("Expected the first record to be kept by reference")
	}
	if got.Status != StatusCompleted || got.ErrorMessage != "" || len(got.Outputs) != 1 {
		t.Errorf("Stored record was blended: %+v", got)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 job, got %d", s.Len())
	}
}

func TestStoreDuplicateDeliveryIsIdempotent(t *testing.T) {
	s := NewStore()
	rec := &ResultRecord{PromptID: "p1", Status: "completed"}
	first, _ := Normalize(rec)
	second, _ := Normalize(rec)

	s.Merge("p1", first)
	before, _ := s.Get("p1")
	s.Merge("p1", second)
	after, _ := s.Get("p1")
	if before != after {
		t.Error("Expected the same record after a duplicate delivery")
	}
}

func TestStoreListNewestFirstAndReset(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		s.Merge(id, &Job{PromptID: id, Status: StatusCompleted})
	}
	list := s.List()
	if len(list) != 3 || list[0].PromptID != "c" || list[2].PromptID != "a" {
		t.Errorf("Expected newest first, got %v", ids(list))
	}

	dropped := s.Reset()
	if len(dropped) != 3 || s.Len() != 0 {
		t.Errorf("Expected reset to drop 3 jobs, dropped %d, left %d", len(dropped), s.Len())
	}
	if !s.Merge("a", &Job{PromptID: "a"}) {
		t.Error("Expected an id to be mergeable again after reset")
	}
}

func TestStoreRejectsEmpty(t *testing.T) {
	s := NewStore()
	if s.Merge("", &Job{}) || s.Merge("x", nil) {
		t.Error("Expected empty ids and nil jobs to be rejected")
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.PromptID)
	}
	return out
}
