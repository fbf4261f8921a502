package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/execbox/execbox/runner"
	"github.com/execbox/execbox/sandbox"
	"github.com/execbox/execbox/workspace"
)

type fakeEngine struct {
	mu     sync.Mutex
	startN int
	stopN  int
	srv    net.Conn
}

func (f *fakeEngine) Start(_ context.Context, _ sandbox.Spec) (*sandbox.Container, error) {
	f.mu.Lock()
	f.startN++
	f.mu.Unlock()
	return &sandbox.Container{ID: "s0"}, nil
}

func (f *fakeEngine) Attach(_ context.Context, _ *sandbox.Container) (types.HijackedResponse, error) {
	client, srv := net.Pipe()
	f.mu.Lock()
	f.srv = srv
	f.mu.Unlock()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(client)}, nil
}

func (f *fakeEngine) Stop(_ context.Context, _ *sandbox.Container) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopN++
	if f.srv != nil {
		f.srv.Close()
	}
}

type fakeStream struct {
	in  chan *Request
	out chan Response
}

func newFakeStream() *fakeStream {
	return &fakeStream{in: make(chan *Request), out: make(chan Response, 16)}
}

func (f *fakeStream) Recv() (*Request, error) {
	r, ok := <-f.in
	if !ok {
		return nil, io.EOF
	}
	return r, nil
}

func (f *fakeStream) Send(r Response) error {
	f.out <- r
	return nil
}

func (f *fakeStream) expect(t *testing.T, typ ResponseType) Response {
	t.Helper()
	select {
	case r := <-f.out:
		if r.Type != typ {
			t.Fatalf("expected %s frame, got %s (%q)", typ, r.Type, r.Data)
		}
		return r
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s frame", typ)
		return Response{}
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	co := NewCoordinator(eng, Images{Python: "execbox/python-session", Java: "execbox/java-session"},
		t.TempDir(), zaptest.NewLogger(t))
	return co, eng
}

func TestCreateAndLookup(t *testing.T) {
	co, eng := newTestCoordinator(t)
	id, err := co.Create(context.Background(), runner.LangPython)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess, err := co.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if sess.Language != runner.LangPython {
		t.Errorf("language = %s", sess.Language)
	}
	if _, err := os.Stat(sess.Workspace.Path(commandsFile)); err != nil {
		t.Errorf("commands file missing: %v", err)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.startN != 1 {
		t.Errorf("startN = %d", eng.startN)
	}
}

func TestCreateUnsupportedLanguage(t *testing.T) {
	co, _ := newTestCoordinator(t)
	if _, err := co.Create(context.Background(), runner.LangCpp); !errors.Is(err, ErrLanguageUnsupported) {
		t.Errorf("expected ErrLanguageUnsupported, got %v", err)
	}
}

func TestAttachUnknownSession(t *testing.T) {
	co, _ := newTestCoordinator(t)
	err := co.Attach(context.Background(), uuid.New(), newFakeStream())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAttachCommandFlow(t *testing.T) {
	co, eng := newTestCoordinator(t)
	id, err := co.Create(context.Background(), runner.LangJava)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess, _ := co.Lookup(id)
	ws := sess.Workspace

	s := newFakeStream()
	attachDone := make(chan error, 1)
	go func() { attachDone <- co.Attach(context.Background(), id, s) }()

	javaSrc := "package app;\npublic class Main {}"
	encoded := workspace.EncodeBase64([]byte(javaSrc))
	s.in <- &Request{Upsert: &UpsertRequest{
		Files:  map[string]string{"Main.java": encoded},
		IsJava: true,
	}}
	s.expect(t, ResponseFilesUpdated)

	// missing class name must surface as an error frame without tearing
	// the session down
	s.in <- &Request{StartProgram: &StartProgramRequest{Language: "java"}}
	s.expect(t, ResponseError)

	s.in <- &Request{StartProgram: &StartProgramRequest{Language: "java", MainClassName: "app.Main"}}
	s.expect(t, ResponseProgramStarted)

	s.in <- &Request{Input: &InputRequest{Text: "42"}}
	// input has no acknowledgement frame; the next command orders it
	s.in <- &Request{Upsert: &UpsertRequest{Files: map[string]string{"Main.java": encoded}, IsJava: true}}
	s.expect(t, ResponseFilesUpdated)

	commands, err := os.ReadFile(ws.Path(commandsFile))
	if err != nil {
		t.Fatalf("read commands: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(commands)), "\n")
	want := []string{
		"upsert app/Main.java " + encoded,
		"run app.Main",
		"input 42",
		"upsert app/Main.java " + encoded,
	}
	if len(lines) != len(want) {
		t.Fatalf("commands = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, lines[i], want[i])
		}
	}

	s.in <- &Request{Disconnect: &struct{}{}}
	if err := <-attachDone; err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := co.Lookup(id); !errors.Is(err, ErrSessionNotFound) {
		t.Error("session must be destroyed after disconnect")
	}
	if _, err := os.Stat(ws.Root); !errors.Is(err, os.ErrNotExist) {
		t.Error("workspace must be removed after disconnect")
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.stopN != 1 {
		t.Errorf("stopN = %d", eng.stopN)
	}
}

func TestAttachStripsANSIFromOutput(t *testing.T) {
	co, eng := newTestCoordinator(t)
	id, err := co.Create(context.Background(), runner.LangPython)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s := newFakeStream()
	attachDone := make(chan error, 1)
	go func() { attachDone <- co.Attach(context.Background(), id, s) }()

	// wait for the attach pump to be wired up
	deadline := time.Now().Add(time.Second)
	for {
		eng.mu.Lock()
		srv := eng.srv
		eng.mu.Unlock()
		if srv != nil {
			srv.Write([]byte(">>> \x1b[32mready\x1b[0m\r\n"))
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("attach never reached the engine")
		}
		time.Sleep(time.Millisecond)
	}

	r := s.expect(t, ResponseOutput)
	if strings.Contains(r.Data, "\x1b") {
		t.Errorf("escape sequences not stripped: %q", r.Data)
	}
	if !strings.Contains(r.Data, "ready") {
		t.Errorf("output lost: %q", r.Data)
	}

	s.in <- &Request{Disconnect: &struct{}{}}
	<-attachDone
}

func TestUpsertInvalidBase64(t *testing.T) {
	co, _ := newTestCoordinator(t)
	id, err := co.Create(context.Background(), runner.LangPython)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s := newFakeStream()
	attachDone := make(chan error, 1)
	go func() { attachDone <- co.Attach(context.Background(), id, s) }()

	s.in <- &Request{Upsert: &UpsertRequest{Files: map[string]string{"main.py": "@@@"}}}
	s.expect(t, ResponseError)

	s.in <- &Request{Disconnect: &struct{}{}}
	<-attachDone
}
