package testrunner

import "testing"

func TestAssertCallbackRecordsResult(t *testing.T) {
	r := New()
	if _, err := r.assertCallback([]any{true, "ok case"}); err != nil {
		t.Fatalf("assertCallback: %v", err)
	}
	if _, err := r.assertCallback([]any{false, "bad case"}); err != nil {
		t.Fatalf("assertCallback: %v", err)
	}

	got := r.Results()
	if len(got) != 2 {
		t.Fatalf("Results() = %+v, want 2 entries", got)
	}
	if !got[0].Passed || got[0].Name != "ok case" {
		t.Fatalf("got[0] = %+v, want {ok case, true}", got[0])
	}
	if got[1].Passed || got[1].Name != "bad case" {
		t.Fatalf("got[1] = %+v, want {bad case, false}", got[1])
	}
}

func TestRegisterTestCallbackAssignsSequentialIDs(t *testing.T) {
	r := New()
	id1, err := r.registerTestCallback([]any{"first"})
	if err != nil {
		t.Fatalf("registerTestCallback: %v", err)
	}
	id2, err := r.registerTestCallback([]any{"second"})
	if err != nil {
		t.Fatalf("registerTestCallback: %v", err)
	}
	if id1.(int) == id2.(int) {
		t.Fatalf("two isolated tests got the same id: %v", id1)
	}
}

func TestAwaitIsolatedTestsRunsSequentiallyInRegistrationOrder(t *testing.T) {
	r := New()
	id1, _ := r.registerTestCallback([]any{"first"})
	id2, _ := r.registerTestCallback([]any{"second"})

	pumpCalls := 0
	pump := func() {
		pumpCalls++
		switch pumpCalls {
		case 1:
			_, _ = r.testDoneCallback([]any{id1, true, ""})
		case 2:
			_, _ = r.testDoneCallback([]any{id2, false, "boom"})
		}
	}

	results := r.AwaitIsolatedTests(pump)
	if len(results) != 2 {
		t.Fatalf("AwaitIsolatedTests() = %+v, want 2 results", results)
	}
	if results[0].Name != "first" || !results[0].Passed {
		t.Fatalf("results[0] = %+v, want {first, true}", results[0])
	}
	if results[1].Name != "second" || results[1].Passed || results[1].Message != "boom" {
		t.Fatalf("results[1] = %+v, want {second, false, boom}", results[1])
	}
}

func TestTestDoneCallbackUnknownIDFails(t *testing.T) {
	r := New()
	if _, err := r.testDoneCallback([]any{float64(999), true, ""}); err == nil {
		t.Fatalf("testDoneCallback with an unknown id did not fail")
	}
}

func TestSummaryCountsSyncAndIsolatedTogether(t *testing.T) {
	sync := []Result{{Name: "a", Passed: true}, {Name: "b", Passed: false}}
	isolated := []Result{{Name: "c", Passed: true}}

	passed, total := Summary(sync, isolated)
	if passed != 2 || total != 3 {
		t.Fatalf("Summary() = (%d, %d), want (2, 3)", passed, total)
	}
}
