// Package testrunner implements the `test` CLI mode: a script registers
// synchronous assertions and deferred Isolated Tests (a `{name,
// script_fn}` record) via native bridge globals; the runner records
// synchronous assertions as they run, then awaits isolated tests one at
// a time, sequentially, each body starting only after the previous one's
// promise has settled. There is no separate async-test stage. Grounded on Go's own
// table-driven testing idiom (one name, one outcome, aggregate pass/fail
// count) rather than any teacher file, since cryguy-worker has no
// script-driven test harness of its own — the closest analog is its
// table-driven _test.go files, whose "one case, one verdict" shape this
// mirrors for the script-visible API instead.
package testrunner

import (
	"fmt"
	"sync"

	"github.com/kestrel-run/kestrel/internal/engine"
)

// Result is one assertion's or isolated test's outcome.
type Result struct {
	Name    string
	Passed  bool
	Message string
}

// isolatedTest is the Isolated Test record: a deferred,
// sequentially executed asynchronous test case, identified by a promise
// id the script side resolves once the test body completes.
type isolatedTest struct {
	name      string
	promiseID uint32
}

// Runner tracks assertion/test outcomes for one `test <path>` invocation
// and exposes the native bridge functions the loaded script calls.
type Runner struct {
	mu      sync.Mutex
	results []Result

	isolated []isolatedTest
	nextID   uint32
	pending  map[uint32]chan Result
}

func New() *Runner {
	return &Runner{pending: make(map[uint32]chan Result)}
}

// Install registers the native bridge functions a test script calls:
// __kestrel_assert(cond, name) for synchronous assertions, and
// __kestrel_test(name) which returns an id the script uses to later
// report that isolated test's outcome via __kestrel_test_done.
func (r *Runner) Install(eng engine.Engine) error {
	if err := eng.RegisterFunc("__kestrel_assert", r.assertCallback); err != nil {
		return err
	}
	if err := eng.RegisterFunc("__kestrel_test", r.registerTestCallback); err != nil {
		return err
	}
	if err := eng.RegisterFunc("__kestrel_test_done", r.testDoneCallback); err != nil {
		return err
	}
	return eng.Eval(`
		globalThis.assert = function(cond, name) { __kestrel_assert(!!cond, String(name || "assertion")); };
		var isolatedChain = Promise.resolve();
		globalThis.isolatedTest = function(name, fn) {
			var id = __kestrel_test(String(name));
			isolatedChain = isolatedChain.then(function() {
				try {
					var result = fn();
					return Promise.resolve(result);
				} catch (e) {
					return Promise.reject(e);
				}
			}).then(function() {
				__kestrel_test_done(id, true, "");
			}, function(err) {
				__kestrel_test_done(id, false, String(err && err.message ? err.message : err));
			});
		};
	`)
}

func (r *Runner) assertCallback(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("assert expects (cond, name)")
	}
	cond, _ := args[0].(bool)
	name, _ := args[1].(string)

	r.mu.Lock()
	r.results = append(r.results, Result{Name: name, Passed: cond})
	r.mu.Unlock()
	return nil, nil
}

func (r *Runner) registerTestCallback(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("isolatedTest expects (name)")
	}
	name, _ := args[0].(string)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.isolated = append(r.isolated, isolatedTest{name: name, promiseID: id})
	r.pending[id] = make(chan Result, 1)
	r.mu.Unlock()
	return int(id), nil
}

func (r *Runner) testDoneCallback(args []any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("test completion expects (id, passed, message)")
	}
	idF, ok := args[0].(float64)
	if !ok {
		if i, ok2 := args[0].(int); ok2 {
			idF = float64(i)
		}
	}
	id := uint32(idF)
	passed, _ := args[1].(bool)
	message, _ := args[2].(string)

	r.mu.Lock()
	ch, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown isolated test id %d", id)
	}

	var name string
	for _, t := range r.isolated {
		if t.promiseID == id {
			name = t.name
			break
		}
	}
	ch <- Result{Name: name, Passed: passed, Message: message}
	return nil, nil
}

// AwaitIsolatedTests runs each registered isolated test one at a time
// (spec: "sequentially executed"), pumping microtasks/the event loop
// between tests so each test's own promise chain gets a chance to
// settle. pump is supplied by the caller (ties this package to the
// concrete event loop driver without importing it, avoiding a cycle).
func (r *Runner) AwaitIsolatedTests(pump func()) []Result {
	r.mu.Lock()
	tests := append([]isolatedTest(nil), r.isolated...)
	r.mu.Unlock()

	var out []Result
	for _, t := range tests {
		r.mu.Lock()
		ch := r.pending[t.promiseID]
		r.mu.Unlock()

		out = append(out, r.awaitOne(ch, pump))
	}
	return out
}

func (r *Runner) awaitOne(ch chan Result, pump func()) Result {
	for {
		select {
		case res := <-ch:
			return res
		default:
			pump()
		}
	}
}

// Results returns every synchronous assertion outcome recorded so far.
func (r *Runner) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Summary reports total/passed across both assertions and isolated
// tests, for the CLI's exit-code decision: exit code 0 iff
// tests_passed == tests_total.
func Summary(sync, isolated []Result) (passed, total int) {
	for _, r := range sync {
		total++
		if r.Passed {
			passed++
		}
	}
	for _, r := range isolated {
		total++
		if r.Passed {
			passed++
		}
	}
	return passed, total
}
