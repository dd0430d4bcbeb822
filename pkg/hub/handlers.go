package hub

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ClaraKoka/cocalc/pkg/blob"
	"github.com/ClaraKoka/cocalc/pkg/repository"
	"github.com/ClaraKoka/cocalc/pkg/types"
)

const (
	defaultExecTimeout = 60 * time.Second
	maxExecOutput      = 1 << 20
	defaultReadLimit   = 8 << 20
)

// Handlers holds the dependencies behind the dispatch table.
type Handlers struct {
	ProjectsRoot string
	Blobs        blob.Store
	BlobIndex    repository.BlobIndex
}

// projectPath resolves a project-relative path and rejects escapes from the
// project's home directory.
func (h *Handlers) projectPath(projectId, path string) (string, error) {
	home := filepath.Join(h.ProjectsRoot, projectId)
	resolved := filepath.Join(home, path)
	if resolved != home && !strings.HasPrefix(resolved, home+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project home", path)
	}
	return resolved, nil
}

// ExecuteCode runs a command inside the project's home directory and
// replies with captured output. Output is truncated past a fixed cap so a
// chatty command cannot blow up the reply frame.
func (h *Handlers) ExecuteCode(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	if msg.Command == "" {
		return nil, errors.New("execute_code requires a command")
	}

	timeout := defaultExecTimeout
	if msg.Timeout > 0 {
		timeout = time.Duration(msg.Timeout) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if msg.Bash {
		cmd = exec.CommandContext(execCtx, "bash", "-c", msg.Command)
	} else {
		cmd = exec.CommandContext(execCtx, msg.Command, msg.Args...)
	}
	cmd.Dir = filepath.Join(h.ProjectsRoot, conn.ProjectId)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execute_code: %w", err)
		}
	}

	return &Message{
		Event:    "exec_output",
		Stdout:   truncate(stdout.String(), maxExecOutput),
		Stderr:   truncate(stderr.String(), maxExecOutput),
		ExitCode: &exitCode,
	}, nil
}

// ReadFile replies with a file's contents. Text comes back verbatim,
// anything that is not valid UTF-8 comes back base64-encoded.
func (h *Handlers) ReadFile(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	path, err := h.projectPath(conn.ProjectId, msg.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	limit := defaultReadLimit
	if msg.MaxBytes > 0 && msg.MaxBytes < limit {
		limit = msg.MaxBytes
	}
	if len(data) > limit {
		return nil, fmt.Errorf("file %q is %d bytes, limit is %d", msg.Path, len(data), limit)
	}

	reply := &Message{Event: "file_read_from_project", Path: msg.Path}
	if utf8.Valid(data) {
		reply.Content = string(data)
	} else {
		reply.ContentBase64 = base64.StdEncoding.EncodeToString(data)
	}
	return reply, nil
}

// WriteFile writes content into the project's home, creating parent
// directories as needed.
func (h *Handlers) WriteFile(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	path, err := h.projectPath(conn.ProjectId, msg.Path)
	if err != nil {
		return nil, err
	}

	data := []byte(msg.Content)
	if msg.ContentBase64 != "" {
		data, err = base64.StdEncoding.DecodeString(msg.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("write_file_to_project: bad base64 content: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}

	return &Message{Event: "file_written_to_project", Path: msg.Path}, nil
}

// PrintToPdf converts an HTML file in the project to a PDF next to it.
func (h *Handlers) PrintToPdf(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	src, err := h.projectPath(conn.ProjectId, msg.Path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(src); err != nil {
		return nil, err
	}

	converter, err := exec.LookPath("wkhtmltopdf")
	if err != nil {
		return nil, errors.New("print_to_pdf: no pdf converter installed on this hub")
	}

	outRel := strings.TrimSuffix(msg.Path, filepath.Ext(msg.Path)) + ".pdf"
	out, err := h.projectPath(conn.ProjectId, outRel)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, converter, src, out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("print_to_pdf: %v: %s", err, truncate(string(output), 512))
	}

	return &Message{Event: "printed_to_pdf", Path: outRel}, nil
}

// JupyterKernels lists the kernel specs visible to the hub.
func (h *Handlers) JupyterKernels(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	cmd := exec.CommandContext(ctx, "jupyter", "kernelspec", "list", "--json")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("jupyter_kernels: %w", err)
	}

	var specs struct {
		Kernelspecs map[string]json.RawMessage `json:"kernelspecs"`
	}
	if err := json.Unmarshal(output, &specs); err != nil {
		return nil, fmt.Errorf("jupyter_kernels: parse kernelspec list: %w", err)
	}

	kernels := make([]string, 0, len(specs.Kernelspecs))
	for name := range specs.Kernelspecs {
		kernels = append(kernels, name)
	}

	return &Message{Event: "jupyter_kernels", Kernels: kernels}, nil
}

// JupyterExecute runs a code snippet through a jupyter kernel and replies
// with the captured output.
func (h *Handlers) JupyterExecute(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	if msg.Code == "" {
		return nil, errors.New("jupyter_execute requires code")
	}

	home := filepath.Join(h.ProjectsRoot, conn.ProjectId)
	tmp, err := os.CreateTemp(home, ".jupyter-exec-*.py")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(msg.Code); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()

	args := []string{"run"}
	if msg.KernelName != "" {
		args = append(args, "--kernel="+msg.KernelName)
	}
	args = append(args, tmp.Name())

	execCtx, cancel := context.WithTimeout(ctx, defaultExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "jupyter", args...)
	cmd.Dir = home

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("jupyter_execute: %w", err)
		}
	}

	return &Message{
		Event:    "jupyter_output",
		Stdout:   truncate(stdout.String(), maxExecOutput),
		Stderr:   truncate(stderr.String(), maxExecOutput),
		ExitCode: &exitCode,
	}, nil
}

// SendSignal delivers a signal to the process group led by the given pid.
// Only SIGINT, SIGQUIT, and SIGKILL pass the allow-list; anything else is
// an explicit error reply.
func (h *Handlers) SendSignal(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	if !types.AllowedSignals[msg.Signal] {
		return nil, &types.ErrInvalidSignal{Signal: msg.Signal}
	}
	if msg.PID <= 0 {
		return nil, fmt.Errorf("send_signal requires a positive pid, got %d", msg.PID)
	}

	if err := syscall.Kill(-msg.PID, syscall.Signal(msg.Signal)); err != nil && !errors.Is(err, syscall.ESRCH) {
		return nil, fmt.Errorf("send_signal: signal %d to pgid %d: %w", msg.Signal, msg.PID, err)
	}

	return &Message{Event: "signal_sent", PID: msg.PID, Signal: msg.Signal}, nil
}

// SaveBlob stores a base64 payload in the blob store, deduplicated by
// content hash across hub replicas.
func (h *Handlers) SaveBlob(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	if msg.Content == "" && msg.ContentBase64 == "" {
		return nil, errors.New("save_blob requires content")
	}

	data := []byte(msg.Content)
	if msg.ContentBase64 != "" {
		var err error
		data, err = base64.StdEncoding.DecodeString(msg.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("save_blob: bad base64 content: %w", err)
		}
	}

	blobId := msg.BlobId
	if blobId == "" {
		blobId = uuid.New().String()
	}

	if err := h.StoreBlob(ctx, conn.ProjectId, blobId, data); err != nil {
		return nil, err
	}

	sum := sha1.Sum(data)
	return &Message{Event: "blob_saved", BlobId: blobId, Sha1: hex.EncodeToString(sum[:])}, nil
}

// StoreBlob persists blob bytes unless an identical payload was already
// stored by this or another hub replica.
func (h *Handlers) StoreBlob(ctx context.Context, projectId, blobId string, data []byte) error {
	sum := sha1.Sum(data)
	hash := hex.EncodeToString(sum[:])

	seen, err := h.BlobIndex.MarkBlobSeen(ctx, hash)
	if err != nil {
		return err
	}
	if seen {
		log.Debug().Str("project_id", projectId).Str("sha1", hash).Msg("blob already stored, skipping upload")
		return nil
	}

	return h.Blobs.Save(ctx, blobId, data)
}

// Ping answers liveness probes over the message channel.
func (h *Handlers) Ping(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	return &Message{Event: "pong"}, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... (truncated)"
}
