package target

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// OutputMaxBytes is the default cap on a WASM target's stdout+stderr.
const OutputMaxBytes = 1024 * 1024 // 1MB

// BlobSource fetches module bytes by content hash. artifacts.Store satisfies it.
type BlobSource interface {
	Get(ctx context.Context, hash string) ([]byte, error)
}

// WasmLimits bounds a single invocation.
type WasmLimits struct {
	MemoryLimitBytes int64
	TimeLimit        time.Duration
	OutputMaxBytes   int
}

// Deterministic error codes for limit violations.
const (
	ErrCodeTimeExhausted   = "ERR_COMPUTE_TIME_EXHAUSTED"
	ErrCodeMemoryExhausted = "ERR_COMPUTE_MEMORY_EXHAUSTED"
	ErrCodeOutputExhausted = "ERR_COMPUTE_OUTPUT_EXHAUSTED"
	ErrCodeNonZeroExit     = "ERR_NONZERO_EXIT"
)

// WasmError is a typed error for WASM target failures.
type WasmError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WasmError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WasmTarget runs a WASI module once per call. The module reads the JSON
// encoded Call from stdin and writes its result to stdout. It gets no
// filesystem, network, clock or randomness beyond wazero's defaults.
type WasmTarget struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	limits   WasmLimits
}

// NewWasmTarget loads the module stored under hash and compiles it once.
func NewWasmTarget(ctx context.Context, src BlobSource, hash string, limits WasmLimits) (*WasmTarget, error) {
	wasmBytes, err := src.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load WASM blob %s: %w", hash, err)
	}
	return NewWasmTargetFromBytes(ctx, wasmBytes, limits)
}

func NewWasmTargetFromBytes(ctx context.Context, wasmBytes []byte, limits WasmLimits) (*WasmTarget, error) {
	if limits.OutputMaxBytes <= 0 {
		limits.OutputMaxBytes = OutputMaxBytes
	}

	rConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if limits.MemoryLimitBytes > 0 {
		pages := uint32(limits.MemoryLimitBytes / 65536) // 64KB per page
		if pages == 0 {
			pages = 1
		}
		rConfig = rConfig.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}
	return &WasmTarget{runtime: r, compiled: compiled, limits: limits}, nil
}

func (w *WasmTarget) Invoke(ctx context.Context, call Call) ([]byte, error) {
	frame, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("encode call frame: %w", err)
	}

	execCtx := ctx
	if w.limits.TimeLimit > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, w.limits.TimeLimit)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	// An empty name lets concurrent calls instantiate the same module.
	moduleConfig := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(frame)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithName("")

	mod, err := w.runtime.InstantiateModule(execCtx, w.compiled, moduleConfig)
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}
	if err != nil {
		var exitErr *sys.ExitError
		switch {
		case execCtx.Err() != nil:
			return nil, &WasmError{
				Code:    ErrCodeTimeExhausted,
				Message: fmt.Sprintf("execution exceeded time limit (%s)", w.limits.TimeLimit),
			}
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 0:
			// proc_exit(0) is a normal return.
		case errors.As(err, &exitErr):
			return nil, &WasmError{
				Code:    ErrCodeNonZeroExit,
				Message: fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())),
			}
		case isMemoryError(err):
			return nil, &WasmError{
				Code:    ErrCodeMemoryExhausted,
				Message: fmt.Sprintf("execution exceeded memory limit (%d bytes)", w.limits.MemoryLimitBytes),
			}
		default:
			return nil, fmt.Errorf("WASI execution failed: %w", err)
		}
	}

	if total := stdout.Len() + stderr.Len(); total > w.limits.OutputMaxBytes {
		return nil, &WasmError{
			Code:    ErrCodeOutputExhausted,
			Message: fmt.Sprintf("output size %d exceeds limit %d", total, w.limits.OutputMaxBytes),
		}
	}
	return stdout.Bytes(), nil
}

func (w *WasmTarget) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// isMemoryError checks if the error is a memory limit violation.
func isMemoryError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "memory") &&
		(strings.Contains(msg, "limit") || strings.Contains(msg, "grow") || strings.Contains(msg, "exceeded"))
}
