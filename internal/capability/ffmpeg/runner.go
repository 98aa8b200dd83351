package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandLog — результат одного вызова внешней команды.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stderr   string   `json:"stderr,omitempty"`
}

// CommandError — ошибка внешней команды с контекстом вызова.
type CommandError struct {
	Op  string
	Log CommandLog
	Err error
}

// Error форматирует ошибку с хвостом stderr.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s exit=%d: %s", e.Op, e.Log.Command, e.Log.ExitCode, tail(e.Log.Stderr, 400))
}

// Unwrap возвращает исходную ошибку.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// commandResult — вывод процесса.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner абстрагирует запуск процессов для тестов.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner запускает команды через os/exec.
type execRunner struct{}

// Run запускает команду и собирает stdout, stderr и код выхода.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
