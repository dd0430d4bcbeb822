package project

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ClaraKoka/cocalc/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"
)

const runtimeDir = ".cocalc-runtime"

// ProcessBackend runs each project as a same-host process group with its own
// working directory. The runner writes nothing itself; the backend records
// pid, port, and secret token as files under the project's runtime dir so
// that any hub replica can probe the sandbox from disk and the process
// table.
type ProcessBackend struct {
	projectsRoot  string
	runnerCommand []string
	host          string
}

func NewProcessBackend(cfg types.HubConfig) (*ProcessBackend, error) {
	if len(cfg.RunnerCommand) == 0 {
		return nil, fmt.Errorf("process backend: runner command not configured")
	}
	if err := os.MkdirAll(cfg.ProjectsRoot, 0755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", cfg.ProjectsRoot, err)
	}

	return &ProcessBackend{
		projectsRoot:  cfg.ProjectsRoot,
		runnerCommand: cfg.RunnerCommand,
		host:          cfg.Host,
	}, nil
}

func (b *ProcessBackend) projectDir(projectId string) string {
	return filepath.Join(b.projectsRoot, projectId)
}

func (b *ProcessBackend) runtimePath(projectId, name string) string {
	return filepath.Join(b.projectDir(projectId), runtimeDir, name)
}

// BringUp prepares the project's working directory and spawns the runner in
// its own process group. The allocated port and secret token are persisted
// to the runtime dir before the runner starts so a crash mid-launch leaves
// probeable breadcrumbs rather than a half-known sandbox.
func (b *ProcessBackend) BringUp(ctx context.Context, rec *types.ProjectRecord) error {
	dir := b.projectDir(rec.Id)
	if err := os.MkdirAll(filepath.Join(dir, runtimeDir), 0700); err != nil {
		return fmt.Errorf("prepare project dir: %w", err)
	}

	port, err := allocatePort()
	if err != nil {
		return fmt.Errorf("allocate port: %w", err)
	}

	if err := os.WriteFile(b.runtimePath(rec.Id, "secret_token"), []byte(rec.SecretToken), 0600); err != nil {
		return fmt.Errorf("write secret token: %w", err)
	}
	if err := os.WriteFile(b.runtimePath(rec.Id, "port"), []byte(strconv.Itoa(port)), 0600); err != nil {
		return fmt.Errorf("write port: %w", err)
	}

	cmd := exec.Command(b.runnerCommand[0], b.runnerCommand[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("COCALC_PROJECT_ID=%s", rec.Id),
		fmt.Sprintf("COCALC_SECRET_TOKEN=%s", rec.SecretToken),
		fmt.Sprintf("COCALC_PROJECT_PORT=%d", port),
		fmt.Sprintf("COCALC_HUB_HOST=%s", b.host),
	)
	// Own process group so signals reach the runner and all its children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(b.runtimePath(rec.Id, "pid"), []byte(strconv.Itoa(pid)), 0600); err != nil {
		syscall.Kill(-pid, syscall.SIGKILL)
		return fmt.Errorf("write pid: %w", err)
	}

	log.Info().
		Str("project_id", rec.Id).
		Int("pid", pid).
		Int("port", port).
		Msg("project runner started")

	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		err := cmd.Wait()
		log.Info().Str("project_id", rec.Id).Int("pid", pid).Err(err).Msg("project runner exited")
	}()

	return nil
}

// TearDown signals the project's process group. Missing pid means the
// sandbox is already gone, which is not an error.
func (b *ProcessBackend) TearDown(ctx context.Context, rec *types.ProjectRecord, signal int) error {
	pid, err := b.readPid(rec.Id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	log.Info().
		Str("project_id", rec.Id).
		Int("pid", pid).
		Int("signal", signal).
		Msg("signaling project process group")

	if err := syscall.Kill(-pid, syscall.Signal(signal)); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	return nil
}

// Probe inspects the pid on the process table and the runtime files.
func (b *ProcessBackend) Probe(ctx context.Context, projectId string) (*ProbeResult, error) {
	pid, err := b.readPid(projectId)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProbeResult{}, nil
		}
		return nil, err
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		// Process table has no such pid: the sandbox is down.
		return &ProbeResult{}, nil
	}
	running, err := proc.IsRunningWithContext(ctx)
	if err != nil || !running {
		return &ProbeResult{}, nil
	}

	result := &ProbeResult{Running: true, PID: pid}

	if raw, err := os.ReadFile(b.runtimePath(projectId, "port")); err == nil {
		result.Port, _ = strconv.Atoi(strings.TrimSpace(string(raw)))
	}
	if raw, err := os.ReadFile(b.runtimePath(projectId, "secret_token")); err == nil {
		result.SecretToken = strings.TrimSpace(string(raw))
	}
	if result.Port > 0 {
		result.Ports = map[string]int{"project": result.Port}
	}

	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		result.MemoryRSS = mem.RSS
	}
	if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
		result.CPUPercent = pct
	}
	if created, err := proc.CreateTimeWithContext(ctx); err == nil {
		result.StartedAt = time.UnixMilli(created)
	}

	return result, nil
}

// CopyPath copies a path between project working directories on the same
// host. The copy is synchronous, so the returned job id is always empty.
func (b *ProcessBackend) CopyPath(ctx context.Context, projectId string, opts types.CopyOptions) (string, error) {
	if opts.Path == "" {
		return "", fmt.Errorf("copy: path required")
	}

	targetProject := opts.TargetProjectId
	if targetProject == "" {
		targetProject = projectId
	}
	targetPath := opts.TargetPath
	if targetPath == "" {
		targetPath = opts.Path
	}

	src, err := confinePath(b.projectDir(projectId), opts.Path)
	if err != nil {
		return "", err
	}
	dst, err := confinePath(b.projectDir(targetProject), targetPath)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("copy source: %w", err)
	}

	if _, err := os.Stat(dst); err == nil {
		if !opts.Overwrite {
			return "", fmt.Errorf("copy: target %s exists", targetPath)
		}
		if opts.Backup {
			if err := os.Rename(dst, dst+"~"); err != nil {
				return "", fmt.Errorf("copy backup: %w", err)
			}
		} else if err := os.RemoveAll(dst); err != nil {
			return "", fmt.Errorf("copy replace: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("copy target dir: %w", err)
	}

	if info.IsDir() {
		if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
			return "", fmt.Errorf("copy tree: %w", err)
		}
	} else {
		data, err := os.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("copy read: %w", err)
		}
		if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
			return "", fmt.Errorf("copy write: %w", err)
		}
	}

	return "", nil
}

func (b *ProcessBackend) readPid(projectId string) (int, error) {
	raw, err := os.ReadFile(b.runtimePath(projectId, "pid"))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("corrupt pid file for project %s", projectId)
	}
	return pid, nil
}

// confinePath resolves rel under root and rejects escapes.
func confinePath(root, rel string) (string, error) {
	joined := filepath.Join(root, rel)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes project directory", rel)
	}
	return joined, nil
}

func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
