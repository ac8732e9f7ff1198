// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"stager-cli/internal/resource"
)

// fakeLocator serves named resources from a map.
type fakeLocator map[string]string

func (l fakeLocator) Text(name string) (string, error) {
	text, ok := l[name]
	if !ok {
		return "", fmt.Errorf("resource %q not found", name)
	}
	return text, nil
}

func (l fakeLocator) Open(name string) (io.ReadCloser, error) {
	text, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("resource %q not found", name)
	}
	return io.NopCloser(strings.NewReader(text)), nil
}

// eventRecorder captures every interpreter notification for assertions.
type eventRecorder struct {
	messages  []string
	notifies  []string
	successes int
	failures  []Diagnostic
}

func (r *eventRecorder) events() Events {
	return Events{
		Message: func(text string) { r.messages = append(r.messages, text) },
		Notify:  func(text string) { r.notifies = append(r.notifies, text) },
		Success: func() { r.successes++ },
		Failure: func(d Diagnostic) { r.failures = append(r.failures, d) },
	}
}

func newTestInterpreter(scripts fakeLocator, rec *eventRecorder) *Interpreter {
	return New(Config{Resources: scripts, Events: rec.events()})
}

func TestRunAssignmentsAndMessage(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": `# install script
$(Target) = /opt/app

$(IgnoreErrors) = off
$(ProcessTimeoutSeconds) = 17
Message installing into $(Target)`,
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	vars := in.Vars()
	if vars.Target != "/opt/app" {
		t.Errorf("Target = %q, want %q", vars.Target, "/opt/app")
	}
	if vars.IgnoreErrors {
		t.Error("IgnoreErrors = true after falsy assignment")
	}
	if vars.ProcessTimeoutSeconds != 17 {
		t.Errorf("ProcessTimeoutSeconds = %d, want 17", vars.ProcessTimeoutSeconds)
	}

	if len(rec.messages) != 1 || rec.messages[0] != "installing into /opt/app" {
		t.Errorf("messages = %q", rec.messages)
	}
	if rec.successes != 1 {
		t.Errorf("successes = %d, want 1", rec.successes)
	}
	if len(rec.failures) != 0 {
		t.Errorf("failures = %+v, want none", rec.failures)
	}
	if in.Status() != StatusOK {
		t.Errorf("Status = %v, want OK", in.Status())
	}
}

func TestRunUnknownVariableIsFatal(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		// IgnoreErrors never saves a malformed script.
		"bad.stg": `$(IgnoreErrors) = 1
$(Destination) = /x
Message unreachable`,
	}, rec)

	err := in.Run(context.Background(), "bad.stg")
	if !errors.Is(err, ErrMalformedScript) {
		t.Fatalf("Run error = %v, want ErrMalformedScript", err)
	}
	if rec.successes != 0 {
		t.Errorf("successes = %d, want 0", rec.successes)
	}
	if len(rec.failures) != 1 {
		t.Fatalf("failures = %d, want exactly 1", len(rec.failures))
	}
	if len(rec.messages) != 0 {
		t.Errorf("messages after failure = %q", rec.messages)
	}
	d := rec.failures[0]
	if d.Script != "bad.stg" {
		t.Errorf("diagnostic script = %q, want bad.stg", d.Script)
	}
	if !strings.Contains(d.Line, "Destination") {
		t.Errorf("diagnostic line = %q, want the offending assignment", d.Line)
	}
	if d.LineNo != 2 {
		t.Errorf("diagnostic line number = %d, want 2", d.LineNo)
	}
}

func TestAssignToReadOnlyValueIsFatal(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"bad.stg": "$(Platform) = linux-amd64",
	}, rec)

	err := in.Run(context.Background(), "bad.stg")
	if !errors.Is(err, ErrMalformedScript) {
		t.Fatalf("Run error = %v, want ErrMalformedScript", err)
	}
	if !strings.Contains(err.Error(), "read-only") {
		t.Errorf("error = %v, want it to name the value as read-only", err)
	}
	if len(rec.failures) != 1 {
		t.Errorf("failures = %d, want 1", len(rec.failures))
	}
}

func TestInterpreterResetsStateBetweenRuns(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"bad.stg":  "Run missing.stg",
		"good.stg": "Message fine",
	}, rec)

	if err := in.Run(context.Background(), "bad.stg"); err == nil {
		t.Fatal("Run(bad.stg) succeeded, want missing-script failure")
	}
	if !in.Status().Has(StatusFileNotFound) {
		t.Fatalf("Status = %v after first run, want FileNotFound", in.Status())
	}

	if err := in.Run(context.Background(), "good.stg"); err != nil {
		t.Fatalf("Run(good.stg) error: %v", err)
	}
	if in.Status() != StatusOK {
		t.Errorf("Status = %v after clean run, want OK", in.Status())
	}
	if rec.successes != 1 {
		t.Errorf("successes = %d, want 1 from the second run", rec.successes)
	}
	if len(rec.failures) != 1 {
		t.Errorf("failures = %d, want 1 from the first run", len(rec.failures))
	}
}

func TestRunMalformedAssignmentLeftSide(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"bad.stg": "Target = /x",
	}, rec)

	err := in.Run(context.Background(), "bad.stg")
	if !errors.Is(err, ErrMalformedScript) {
		t.Fatalf("Run error = %v, want ErrMalformedScript", err)
	}
	if len(rec.failures) != 1 {
		t.Errorf("failures = %d, want 1", len(rec.failures))
	}
}

func TestRunExitSentinelStopsCleanly(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": `Message before
$(Exit)
Message after`,
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(rec.messages) != 1 || rec.messages[0] != "before" {
		t.Errorf("messages = %q, want only %q", rec.messages, "before")
	}
	if rec.successes != 1 {
		t.Errorf("successes = %d, want 1", rec.successes)
	}
	if len(rec.failures) != 0 {
		t.Errorf("failures = %+v, want none", rec.failures)
	}
}

func TestRunNestedExitUnwindsAllLevels(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"parent.stg": `Message p1
Run child.stg
Message p2`,
		"child.stg": `Message c1
$(Exit)
Message c2`,
	}, rec)

	if err := in.Run(context.Background(), "parent.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	want := []string{"p1", "c1"}
	if len(rec.messages) != len(want) || rec.messages[0] != want[0] || rec.messages[1] != want[1] {
		t.Errorf("messages = %q, want %q", rec.messages, want)
	}
	if rec.successes != 1 {
		t.Errorf("successes = %d, want exactly 1", rec.successes)
	}
}

func TestRunNestedScriptsShareVariables(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"parent.stg": `$(Target) = /opt/app
Run child.stg
Message parent sees $(Target)`,
		"child.stg": `Message child sees $(Target)
$(Target) = /opt/other`,
	}, rec)

	if err := in.Run(context.Background(), "parent.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	want := []string{"child sees /opt/app", "parent sees /opt/other"}
	if len(rec.messages) != 2 || rec.messages[0] != want[0] || rec.messages[1] != want[1] {
		t.Errorf("messages = %q, want %q", rec.messages, want)
	}
}

func TestRunTrailingComments(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": `Message hello # a trailing comment
Message "a # b"
   # full comment line, indented`,
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	want := []string{"hello", "a # b"}
	if len(rec.messages) != 2 || rec.messages[0] != want[0] || rec.messages[1] != want[1] {
		t.Errorf("messages = %q, want %q", rec.messages, want)
	}
}

func TestRunNotify(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": `Notify "restart required"`,
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(rec.notifies) != 1 || rec.notifies[0] != "restart required" {
		t.Errorf("notifies = %q", rec.notifies)
	}
}

func TestIfExistsAndIfNotExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.txt")

	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": fmt.Sprintf(`IfExists "%s" Message have-present
IfExists "%s" Message have-missing
IfNotExists "%s" Message lack-present
IfNotExists "%s" Message lack-missing`, present, missing, present, missing),
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	want := []string{"have-present", "lack-missing"}
	if len(rec.messages) != 2 || rec.messages[0] != want[0] || rec.messages[1] != want[1] {
		t.Errorf("messages = %q, want %q", rec.messages, want)
	}
}

func TestIfExistsRequiresCommand(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"bad.stg": "IfExists /tmp",
	}, rec)

	if err := in.Run(context.Background(), "bad.stg"); !errors.Is(err, ErrMalformedScript) {
		t.Errorf("Run error = %v, want ErrMalformedScript", err)
	}
}

func TestIgnoreErrorsContinuesPastMissingProcess(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": `$(IgnoreErrors) = 1
stager-test-no-such-binary --flag
Message still here`,
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !in.Status().Has(StatusFileNotFound) {
		t.Errorf("Status = %v, want FileNotFound recorded", in.Status())
	}
	if len(rec.messages) != 1 || rec.messages[0] != "still here" {
		t.Errorf("messages = %q", rec.messages)
	}
	if rec.successes != 1 {
		t.Errorf("successes = %d, want 1", rec.successes)
	}
	if len(rec.failures) != 0 {
		t.Errorf("failures = %+v, want none", rec.failures)
	}
}

func TestMissingProcessIsFatalByDefault(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": `stager-test-no-such-binary
Message unreachable`,
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err == nil {
		t.Fatal("Run succeeded, want error for missing binary")
	}
	if len(rec.failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(rec.failures))
	}
	if rec.successes != 0 {
		t.Errorf("successes = %d, want 0", rec.successes)
	}
	if !rec.failures[0].Status.Has(StatusFileNotFound) {
		t.Errorf("diagnostic status = %v, want FileNotFound", rec.failures[0].Status)
	}
}

func TestDeleteSkipsMissingAndRemoves(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	sub := filepath.Join(dir, "sub")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(sub, "deep"), 0o755); err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": fmt.Sprintf(`Delete "%s" "%s" "%s"`,
			file, sub, filepath.Join(dir, "never-existed.txt")),
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if _, err := os.Stat(file); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still present after Delete")
	}
	if _, err := os.Stat(sub); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("directory still present after Delete")
	}
	if in.Status() != StatusOK {
		t.Errorf("Status = %v, want OK", in.Status())
	}
}

func TestDeletePermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory write bits are not enforced this way on Windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}

	// Entries under a read-only directory cannot be unlinked.
	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	if err := os.MkdirAll(filepath.Join(locked, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	protected := filepath.Join(locked, "a.txt")
	if err := os.WriteFile(protected, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(locked, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	t.Run("aborts without IgnoreErrors", func(t *testing.T) {
		free := filepath.Join(dir, "b.txt")
		if err := os.WriteFile(free, []byte("y"), 0o644); err != nil {
			t.Fatal(err)
		}

		rec := &eventRecorder{}
		in := newTestInterpreter(fakeLocator{
			"setup.stg": fmt.Sprintf(`Delete "%s" "%s"`, protected, free),
		}, rec)

		if err := in.Run(context.Background(), "setup.stg"); err == nil {
			t.Fatal("Run succeeded, want permission failure")
		}
		if !in.Status().Has(StatusFileAccessDenied) {
			t.Errorf("Status = %v, want FileAccessDenied", in.Status())
		}
		if len(rec.failures) != 1 {
			t.Fatalf("failures = %d, want exactly 1", len(rec.failures))
		}
		if rec.successes != 0 {
			t.Errorf("successes = %d, want 0", rec.successes)
		}
		if _, err := os.Stat(free); err != nil {
			t.Errorf("target after the denied one was processed despite abort: %v", err)
		}
	})

	t.Run("continues with IgnoreErrors", func(t *testing.T) {
		free := filepath.Join(dir, "c.txt")
		if err := os.WriteFile(free, []byte("z"), 0o644); err != nil {
			t.Fatal(err)
		}

		rec := &eventRecorder{}
		in := newTestInterpreter(fakeLocator{
			"setup.stg": fmt.Sprintf(`$(IgnoreErrors) = 1
Delete "%s" "%s" "%s"`, protected, filepath.Join(locked, "sub"), free),
		}, rec)

		if err := in.Run(context.Background(), "setup.stg"); err != nil {
			t.Fatalf("Run error: %v", err)
		}
		if !in.Status().Has(StatusFileAccessDenied) {
			t.Errorf("Status = %v, want FileAccessDenied recorded", in.Status())
		}
		if !in.Status().Has(StatusDirectoryAccessDenied) {
			t.Errorf("Status = %v, want DirectoryAccessDenied recorded", in.Status())
		}
		if _, err := os.Stat(free); !errors.Is(err, os.ErrNotExist) {
			t.Error("later Delete target still present, want it removed")
		}
		if rec.successes != 1 {
			t.Errorf("successes = %d, want 1", rec.successes)
		}
		if len(rec.failures) != 0 {
			t.Errorf("failures = %+v, want none", rec.failures)
		}
	})
}

func TestPackAndUnpackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload")
	if err := os.MkdirAll(filepath.Join(payload, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(payload, filepath.FromSlash(name)), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "list.txt"), []byte("a.txt\nsub/b.txt\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	packScript := fmt.Sprintf(`$(Source) = "%s"
$(Target) = "%s"
Pack list.txt`, payload, filepath.Join(dir, "payload.stp"))
	if err := os.WriteFile(filepath.Join(dir, "pack.stg"), []byte(packScript), 0o644); err != nil {
		t.Fatal(err)
	}

	unpackScript := fmt.Sprintf(`$(Source) = payload.stp
$(Target) = "%s"
Unpack`, filepath.Join(dir, "out"))
	if err := os.WriteFile(filepath.Join(dir, "unpack.stg"), []byte(unpackScript), 0o644); err != nil {
		t.Fatal(err)
	}

	loc := resource.NewDirLocator(dir)

	packRec := &eventRecorder{}
	packer := New(Config{Resources: loc, Events: packRec.events()})
	if err := packer.Run(context.Background(), "pack.stg"); err != nil {
		t.Fatalf("pack run error: %v", err)
	}
	if packRec.successes != 1 {
		t.Fatalf("pack successes = %d, want 1", packRec.successes)
	}

	unpackRec := &eventRecorder{}
	unpacker := New(Config{Resources: loc, Events: unpackRec.events()})
	if err := unpacker.Run(context.Background(), "unpack.stg"); err != nil {
		t.Fatalf("unpack run error: %v", err)
	}

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dir, "out", filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("reading extracted %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("extracted %s = %q, want %q", name, got, want)
		}
	}
}

func TestPackRequiresSourceAndTarget(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"bad.stg": "Pack list.txt",
	}, rec)

	err := in.Run(context.Background(), "bad.stg")
	if !errors.Is(err, ErrMalformedScript) {
		t.Fatalf("Run error = %v, want ErrMalformedScript", err)
	}
	if !in.Status().Has(StatusNullReference) {
		t.Errorf("Status = %v, want NullReference", in.Status())
	}
}

func TestProcessNonZeroExit(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": `$(RedirectOutput) = 1
sh -c "echo oops >&2; exit 3"`,
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err == nil {
		t.Fatal("Run succeeded, want non-zero exit error")
	}
	if len(rec.failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(rec.failures))
	}
	d := rec.failures[0]
	if d.ExitCode != 3 {
		t.Errorf("diagnostic exit code = %d, want 3", d.ExitCode)
	}
	if !strings.Contains(d.Stderr, "oops") {
		t.Errorf("diagnostic stderr = %q, want captured output", d.Stderr)
	}
	if !d.Status.Has(StatusNonZeroExitCode) {
		t.Errorf("diagnostic status = %v, want NonZeroExitCode", d.Status)
	}
}

func TestProcessNonZeroExitIgnored(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": `$(IgnoreErrors) = 1
sh -c "exit 3"
Message survived`,
	}, rec)

	if err := in.Run(context.Background(), "setup.stg"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !in.Status().Has(StatusNonZeroExitCode) {
		t.Errorf("Status = %v, want NonZeroExitCode recorded", in.Status())
	}
	if len(rec.messages) != 1 || rec.messages[0] != "survived" {
		t.Errorf("messages = %q", rec.messages)
	}
}

func TestProcessTimeoutAlwaysFatal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timeout test in short mode")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		// IgnoreErrors must not suppress a timeout.
		"setup.stg": `$(IgnoreErrors) = 1
$(ProcessTimeoutSeconds) = 1
sleep 10
Message unreachable`,
	}, rec)

	err := in.Run(context.Background(), "setup.stg")
	if !errors.Is(err, ErrProcessTimeout) {
		t.Fatalf("Run error = %v, want ErrProcessTimeout", err)
	}
	if len(rec.failures) != 1 {
		t.Errorf("failures = %d, want 1", len(rec.failures))
	}
	if len(rec.messages) != 0 {
		t.Errorf("messages = %q, want none", rec.messages)
	}
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{
		"setup.stg": "Message hello",
	}, rec)

	if err := in.Run(ctx, "setup.stg"); err == nil {
		t.Fatal("Run succeeded with canceled context")
	}
	if rec.successes != 0 {
		t.Errorf("successes = %d, want 0", rec.successes)
	}
}

func TestRunMissingScript(t *testing.T) {
	rec := &eventRecorder{}
	in := newTestInterpreter(fakeLocator{}, rec)

	if err := in.Run(context.Background(), "nope.stg"); err == nil {
		t.Fatal("Run succeeded for a missing script")
	}
	if !in.Status().Has(StatusFileNotFound) {
		t.Errorf("Status = %v, want FileNotFound", in.Status())
	}
	if len(rec.failures) != 1 {
		t.Errorf("failures = %d, want 1", len(rec.failures))
	}
}
