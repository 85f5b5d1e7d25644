package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

// ProcessConfig configures the subprocess runtime.
type ProcessConfig struct {
	// Bin is the runtime server binary (e.g. an Ollama-compatible server).
	Bin string
	// ExtraArgs are appended to the generated command line.
	ExtraArgs []string
	// Host to bind the runtime on; defaults to 127.0.0.1.
	Host string
	// ReadyTimeout bounds process startup; defaults to 30s.
	ReadyTimeout time.Duration
}

// Process runs one runtime server process per slot. A slot serves a single
// model at a time; switching models stops the process and starts a fresh one
// with the new model argument.
type Process struct {
	cfg  ProcessConfig
	slot int
	log  zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	baseURL string
	model   string
	waitCh  chan error

	client *http.Client
}

// NewProcess returns a Factory spawning one runtime process per slot.
func NewProcess(cfg ProcessConfig, log zerolog.Logger) Factory {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	return func(slot int) Runtime {
		// Timeout stays 0: every call carries a context with its own deadline.
		return &Process{cfg: cfg, slot: slot, log: log.With().Int("slot", slot).Logger(), client: &http.Client{Timeout: 0}}
	}
}

func (p *Process) Load(ctx context.Context, model types.Model) error {
	p.mu.Lock()
	if p.cmd != nil && p.model == model.Name {
		base := p.baseURL
		p.mu.Unlock()
		if p.healthy(ctx, base) {
			return nil
		}
		// resident but unresponsive: restart below
		p.mu.Lock()
		_ = p.stopLocked()
	} else if p.cmd != nil {
		// a different model is resident; the pool unloads first, but guard anyway
		p.mu.Unlock()
		return fmt.Errorf("slot %d busy with %s", p.slot, p.model)
	}
	p.mu.Unlock()

	port, err := pickFreePort(p.cfg.Host)
	if err != nil {
		return err
	}
	baseURL := fmt.Sprintf("http://%s:%d", p.cfg.Host, port)

	args := []string{"-m", model.Path, "--host", p.cfg.Host, "--port", strconv.Itoa(port)}
	args = append(args, p.cfg.ExtraArgs...)
	cmd := exec.Command(p.cfg.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	p.log.Info().Str("model", model.Name).Int("pid", cmd.Process.Pid).Int("port", port).Msg("runtime spawned")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	p.mu.Lock()
	p.cmd = cmd
	p.baseURL = baseURL
	p.model = model.Name
	p.waitCh = waitCh
	p.mu.Unlock()

	// Poll readiness, surfacing early exit before the deadline.
	deadline := time.Now().Add(p.cfg.ReadyTimeout)
	for {
		select {
		case werr := <-waitCh:
			p.clear()
			tail := stderr.String()
			if len(tail) > 4096 {
				tail = tail[len(tail)-4096:]
			}
			if werr != nil {
				return fmt.Errorf("runtime exited early: %v; stderr tail: %s", werr, tail)
			}
			return fmt.Errorf("runtime exited before ready: %s", baseURL)
		case <-ctx.Done():
			_ = p.stopProcess(cmd)
			p.clear()
			return ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			_ = p.stopProcess(cmd)
			p.clear()
			return fmt.Errorf("runtime not ready in time: %s", baseURL)
		}
		if p.healthy(ctx, baseURL) {
			p.log.Info().Str("model", model.Name).Str("url", baseURL).Msg("runtime ready")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (p *Process) Unload(ctx context.Context, model string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.model != model {
		return nil
	}
	return p.stopLocked()
}

func (p *Process) Generate(ctx context.Context, params Params, onChunk func(string) error) (Result, error) {
	p.mu.Lock()
	base := p.baseURL
	model := p.model
	p.mu.Unlock()
	if base == "" {
		return Result{}, errors.New("no model loaded")
	}

	payload := generateRequest{
		Model:  model,
		Prompt: params.Prompt,
		Stream: true,
		Options: generateOptions{
			NumPredict:  params.MaxTokens,
			Temperature: params.Temperature,
			TopP:        params.TopP,
			TopK:        params.TopK,
			Stop:        params.Stop,
			Seed:        params.Seed,
		},
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("runtime http error: %s: %s", resp.Status, string(b))
	}

	var res Result
	var text strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var msg generateResponse
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Response != "" {
			text.WriteString(msg.Response)
			if cbErr := onChunk(msg.Response); cbErr != nil {
				return res, cbErr
			}
		}
		if msg.Done {
			res.Tokens = msg.EvalCount
			res.FinishReason = msg.DoneReason
			break
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, err
	}
	res.Text = text.String()
	if res.FinishReason == "" {
		res.FinishReason = "stop"
	}
	return res, nil
}

func (p *Process) Ping(ctx context.Context) error {
	p.mu.Lock()
	base := p.baseURL
	cmd := p.cmd
	waitCh := p.waitCh
	p.mu.Unlock()
	if cmd == nil {
		// empty slot is healthy by definition
		return nil
	}
	select {
	case werr := <-waitCh:
		p.clear()
		return fmt.Errorf("runtime process exited: %v", werr)
	default:
	}
	if !p.healthy(ctx, base) {
		return fmt.Errorf("runtime unresponsive: %s", base)
	}
	return nil
}

func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

// Model reports the currently resident model name, if any.
func (p *Process) Model() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model, p.cmd != nil
}

func (p *Process) healthy(ctx context.Context, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	hctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(hctx, http.MethodGet, baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// stopLocked terminates the current process. Caller holds p.mu.
func (p *Process) stopLocked() error {
	if p.cmd == nil {
		return nil
	}
	err := p.stopProcess(p.cmd)
	p.cmd = nil
	p.baseURL = ""
	p.model = ""
	p.waitCh = nil
	return err
}

func (p *Process) clear() {
	p.mu.Lock()
	p.cmd = nil
	p.baseURL = ""
	p.model = ""
	p.waitCh = nil
	p.mu.Unlock()
}

// stopProcess sends SIGTERM and escalates to SIGKILL after a grace period.
func (p *Process) stopProcess(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
	p.log.Info().Int("pid", cmd.Process.Pid).Msg("runtime stopped")
	return nil
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

// Wire types for the runtime's generate API.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        int64    `json:"seed,omitempty"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	EvalCount  int    `json:"eval_count,omitempty"`
}
