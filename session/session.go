// Package session coordinates long-lived interactive containers: stable
// session IDs map to TTY-attached containers, and a client stream is
// bridged to the container's stdio with file upserts and program
// (re)start commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/execbox/execbox/runner"
	"github.com/execbox/execbox/sandbox"
	"github.com/execbox/execbox/workspace"
)

// Coordinator errors surfaced to the client as error frames.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrBadCommand          = errors.New("bad command")
	ErrLanguageUnsupported = errors.New("language not supported for sessions")
)

// commandsFile is the newline-delimited command channel the in-image
// listener tails inside the mounted workspace.
const commandsFile = "commands.txt"

// Engine is the slice of the sandbox manager the coordinator uses.
type Engine interface {
	Start(ctx context.Context, spec sandbox.Spec) (*sandbox.Container, error)
	Attach(ctx context.Context, c *sandbox.Container) (types.HijackedResponse, error)
	Stop(ctx context.Context, c *sandbox.Container)
}

// Images selects the command-listener images per session language.
type Images struct {
	Python string
	Java   string
}

// Session binds one client-visible ID to a running container and its
// workspace.
type Session struct {
	ID        uuid.UUID
	Language  runner.Language
	Container *sandbox.Container
	Workspace *workspace.Workspace
}

// Coordinator owns the process-wide sessionID → Session map. Each key is
// written by a single owner; concurrent readers are fine.
type Coordinator struct {
	engine  Engine
	images  Images
	tmpRoot string
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewCoordinator creates an interactive session coordinator.
func NewCoordinator(engine Engine, images Images, tmpRoot string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		engine:   engine,
		images:   images,
		tmpRoot:  tmpRoot,
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create allocates a workspace, starts the long-lived listener container
// for the language and registers the session under a fresh ID.
func (co *Coordinator) Create(ctx context.Context, lang runner.Language) (uuid.UUID, error) {
	image, err := co.image(lang)
	if err != nil {
		return uuid.Nil, err
	}
	ws, err := workspace.New(co.tmpRoot, runner.ServiceName)
	if err != nil {
		return uuid.Nil, err
	}
	// the listener tails this file from the first byte on
	if err := ws.WriteFile(commandsFile, nil); err != nil {
		ws.Remove()
		return uuid.Nil, err
	}

	c, err := co.engine.Start(ctx, sandbox.Spec{
		Image:      image,
		WorkingDir: runner.ContainerWorkDir,
		Binds:      []string{ws.Root + ":" + runner.ContainerWorkDir + ":rw"},
		TTY:        true,
		OpenStdin:  true,
		KeepAlive:  true,
	})
	if err != nil {
		ws.Remove()
		return uuid.Nil, err
	}

	sess := &Session{ID: uuid.New(), Language: lang, Container: c, Workspace: ws}
	co.mu.Lock()
	co.sessions[sess.ID] = sess
	co.mu.Unlock()

	co.logger.Info("session created",
		zap.Stringer("sessionId", sess.ID),
		zap.String("language", string(lang)),
		zap.String("containerId", c.ID))
	return sess.ID, nil
}

// Lookup returns the session for an ID.
func (co *Coordinator) Lookup(id uuid.UUID) (*Session, error) {
	co.mu.RLock()
	defer co.mu.RUnlock()
	sess, ok := co.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Attach bridges the client stream to the session container: container
// stdout is pumped to the client with ANSI CSI sequences stripped, and
// typed client frames become listener commands. Attach returns when the
// client disconnects or the container exits; both destroy the session.
func (co *Coordinator) Attach(ctx context.Context, id uuid.UUID, s Stream) error {
	sess, err := co.Lookup(id)
	if err != nil {
		return err
	}
	hijack, err := co.engine.Attach(ctx, sess.Container)
	if err != nil {
		return err
	}
	defer co.destroy(sess)
	defer hijack.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outDone := make(chan error, 1)
	go func() {
		outDone <- co.pumpOutput(ctx, hijack.Reader, s)
	}()
	cmdDone := make(chan error, 1)
	go func() {
		cmdDone <- co.commandLoop(ctx, sess, s)
	}()

	select {
	case err = <-outDone:
		// container exited or attach stream broke
	case err = <-cmdDone:
	}
	cancel()
	if errors.Is(err, errDisconnect) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

var errDisconnect = errors.New("client disconnected")

// pumpOutput forwards container stdout to the client. The attached
// stream is a TTY stream (unframed UTF-8).
func (co *Coordinator) pumpOutput(ctx context.Context, r io.Reader, s Stream) error {
	var stripper Stripper
	buf := make([]byte, 4<<10)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if out := stripper.Strip(buf[:n]); len(out) > 0 {
				if serr := s.Send(Response{Type: ResponseOutput, Data: string(out)}); serr != nil {
					return serr
				}
			}
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (co *Coordinator) commandLoop(ctx context.Context, sess *Session, s Stream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		req, err := s.Recv()
		if err != nil {
			return err
		}
		switch {
		case req.Upsert != nil:
			if err := co.upsertFiles(sess, req.Upsert); err != nil {
				co.sendError(s, err)
				continue
			}
			if err := s.Send(Response{Type: ResponseFilesUpdated, Data: "files updated"}); err != nil {
				return err
			}
		case req.StartProgram != nil:
			if err := co.startProgram(sess, req.StartProgram); err != nil {
				co.sendError(s, err)
				continue
			}
			if err := s.Send(Response{Type: ResponseProgramStarted, Data: "program started"}); err != nil {
				return err
			}
		case req.Input != nil:
			if err := sess.Workspace.AppendLine(commandsFile, "input "+req.Input.Text); err != nil {
				co.sendError(s, err)
			}
		case req.Disconnect != nil:
			return errDisconnect
		default:
			co.sendError(s, fmt.Errorf("%w: empty frame", ErrBadCommand))
		}
	}
}

// upsertFiles appends one upsert command per file. Java file paths honor
// the package directory convention derived from the decoded source.
func (co *Coordinator) upsertFiles(sess *Session, req *UpsertRequest) error {
	for name, content := range req.Files {
		if err := workspace.CheckRelPath(name); err != nil {
			return err
		}
		decoded, err := workspace.DecodeBase64(content)
		if err != nil {
			return err
		}
		path := name
		if req.IsJava {
			path = workspace.JavaSourcePath(name, string(decoded))
		}
		if err := sess.Workspace.AppendLine(commandsFile, "upsert "+path+" "+content); err != nil {
			return err
		}
	}
	return nil
}

func (co *Coordinator) startProgram(sess *Session, req *StartProgramRequest) error {
	switch runner.Language(req.Language) {
	case runner.LangJava:
		if req.MainClassName == "" {
			return fmt.Errorf("%w: java startProgram requires mainClassName", ErrBadCommand)
		}
		return sess.Workspace.AppendLine(commandsFile, "run "+req.MainClassName)
	case runner.LangPython:
		return sess.Workspace.AppendLine(commandsFile, "run")
	default:
		return fmt.Errorf("%w: language %q", ErrBadCommand, req.Language)
	}
}

func (co *Coordinator) sendError(s Stream, err error) {
	co.logger.Warn("session command failed", zap.Error(err))
	if serr := s.Send(Response{Type: ResponseError, Data: err.Error()}); serr != nil {
		co.logger.Warn("session error frame not delivered", zap.Error(serr))
	}
}

// destroy stops the container, removes the workspace and drops the
// session entry. Idempotent: destroying an already-removed session only
// logs.
func (co *Coordinator) destroy(sess *Session) {
	co.mu.Lock()
	_, ok := co.sessions[sess.ID]
	delete(co.sessions, sess.ID)
	co.mu.Unlock()
	if !ok {
		return
	}
	co.engine.Stop(context.Background(), sess.Container)
	if err := sess.Workspace.Remove(); err != nil {
		co.logger.Warn("session workspace remove failed",
			zap.Stringer("sessionId", sess.ID), zap.Error(err))
	}
	co.logger.Info("session destroyed", zap.Stringer("sessionId", sess.ID))
}

func (co *Coordinator) image(lang runner.Language) (string, error) {
	switch lang {
	case runner.LangPython:
		return co.images.Python, nil
	case runner.LangJava:
		return co.images.Java, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrLanguageUnsupported, lang)
	}
}
