package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeWorkerScript creates a fake worker executable. The script receives the
// real protocol arguments (--db ... stdio ...) and is free to ignore them.
func writeWorkerScript(t *testing.T, body string) Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-worker")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return Config{
		Command: path,
		DBPath:  filepath.Join(dir, "mirror.db"),
	}
}

func TestBuildArgs(t *testing.T) {
	s := New(Config{
		Command:    "uv",
		Args:       []string{"run", "python", "-m", "narrative_mirror.cli_json"},
		DBPath:     "data/mirror.db",
		ConfigPath: "config.yml",
	})

	got := strings.Join(s.buildArgs(), " ")
	want := "run python -m narrative_mirror.cli_json --db data/mirror.db stdio --config config.yml"
	if got != want {
		t.Errorf("buildArgs() = %q, want %q", got, want)
	}
}

func TestStartMissingExecutable(t *testing.T) {
	s := New(Config{
		Command: filepath.Join(t.TempDir(), "does-not-exist"),
		DBPath:  "mirror.db",
	})
	if err := s.Start(); err == nil {
		t.Fatal("Start() succeeded for a missing executable")
	}
}

func TestStartValidation(t *testing.T) {
	if err := New(Config{DBPath: "x"}).Start(); err == nil {
		t.Error("Start() accepted empty command")
	}
	if err := New(Config{Command: "cat"}).Start(); err == nil {
		t.Error("Start() accepted empty db path")
	}
}

func TestWithExclusiveAccessBeforeStart(t *testing.T) {
	s := New(Config{Command: "cat", DBPath: "x"})
	err := s.WithExclusiveAccess(func(in io.Writer, out *bufio.Reader) error { return nil })
	if err != ErrNotStarted {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestEchoExchange(t *testing.T) {
	s := New(writeWorkerScript(t, "exec cat"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Terminate()

	err := s.WithExclusiveAccess(func(in io.Writer, out *bufio.Reader) error {
		if _, err := io.WriteString(in, `{"cmd":"ping"}`+"\n"); err != nil {
			return err
		}
		line, err := out.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) != `{"cmd":"ping"}` {
			return fmt.Errorf("unexpected echo: %q", line)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
}

// Concurrent exchanges must never observe interleaved bytes: each caller
// reads back exactly the line it wrote.
func TestExchangesAreSerialized(t *testing.T) {
	s := New(writeWorkerScript(t, "exec cat"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Terminate()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload := fmt.Sprintf(`{"cmd":"echo","seq":%d}`, n)
			err := s.WithExclusiveAccess(func(in io.Writer, out *bufio.Reader) error {
				if _, err := io.WriteString(in, payload+"\n"); err != nil {
					return err
				}
				line, err := out.ReadString('\n')
				if err != nil {
					return err
				}
				if strings.TrimSpace(line) != payload {
					return fmt.Errorf("caller %d read %q", n, line)
				}
				return nil
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// Terminate while a caller is blocked reading must surface a closed stream
// to that caller rather than hang.
func TestTerminateUnblocksReader(t *testing.T) {
	s := New(writeWorkerScript(t, "exec cat"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.WithExclusiveAccess(func(in io.Writer, out *bufio.Reader) error {
			// No request written; cat will never produce a line.
			_, err := out.ReadString('\n')
			return err
		})
	}()

	// Give the reader time to block.
	time.Sleep(100 * time.Millisecond)
	s.Terminate()

	select {
	case err := <-readErr:
		if err == nil {
			t.Fatal("blocked read returned nil after Terminate")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked read did not return after Terminate")
	}

	if s.Alive() {
		t.Error("Alive() = true after Terminate")
	}
}

func TestTerminateIdempotent(t *testing.T) {
	s := New(writeWorkerScript(t, "exec cat"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Terminate()
	s.Terminate() // must not panic or block
}

func TestAliveTracksExit(t *testing.T) {
	s := New(writeWorkerScript(t, "exit 0"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Terminate()

	deadline := time.Now().Add(5 * time.Second)
	for s.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("Alive() still true after worker exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
