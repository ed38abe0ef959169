// Package curltransport implements procurement.Transport by shelling out to curl.
// The portal's bot detection fingerprints TLS and header order per client, and
// curl sometimes passes where the Go client is rejected.
package curltransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/egp-watch/internal/procurement"
	"github.com/JakeFAU/egp-watch/internal/transport"
)

// Name identifies this transport in logs and errors.
const Name = "curl"

// statusMarker separates the response body from the status line written by -w.
const statusMarker = "\n__EGPWATCH_STATUS__:"

// Runner executes a command with stdin and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

// Config controls how curl is invoked.
type Config struct {
	// Path is the curl binary; defaults to "curl" on PATH.
	Path      string
	UserAgent string
	Headers   map[string][]string
	Timeout   time.Duration
	Detector  transport.BlockDetector
}

// Transport runs one curl process per request.
type Transport struct {
	cfg    Config
	runner Runner
}

// New builds a Transport. A nil runner uses os/exec.
func New(cfg Config, runner Runner) *Transport {
	if cfg.Path == "" {
		cfg.Path = "curl"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Transport{cfg: cfg, runner: runner}
}

// Name implements procurement.Transport.
func (t *Transport) Name() string { return Name }

// Fetch runs curl and decodes its output.
func (t *Transport) Fetch(ctx context.Context, req procurement.Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout+5*time.Second)
	defer cancel()

	out, err := t.runner.Run(ctx, t.cfg.Path, t.buildArgs(req), req.Body)
	if err != nil {
		return nil, transport.NetworkError(Name, fmt.Errorf("run %s: %w", t.cfg.Path, err))
	}
	status, body, err := splitStatus(out)
	if err != nil {
		return nil, transport.NetworkError(Name, err)
	}
	return transport.Decode(Name, status, body, t.cfg.Detector)
}

func (t *Transport) buildArgs(req procurement.Request) []string {
	args := []string{
		"--silent", "--show-error", "--location", "--compressed",
		"--max-time", strconv.Itoa(int(t.cfg.Timeout.Seconds())),
		"--request", req.MethodOrGet(),
		"--write-out", statusMarker + "%{http_code}",
	}
	if t.cfg.UserAgent != "" {
		args = append(args, "--user-agent", t.cfg.UserAgent)
	}
	for _, h := range t.headerLines(req) {
		args = append(args, "--header", h)
	}
	if len(req.Body) > 0 {
		args = append(args, "--data-binary", "@-")
	}
	return append(args, req.FullURL())
}

// headerLines renders configured then request headers, request values winning,
// in a stable order.
func (t *Transport) headerLines(req procurement.Request) []string {
	merged := make(map[string][]string, len(t.cfg.Headers)+len(req.Headers))
	canonical := make(map[string]string)
	put := func(key string, values []string) {
		lk := strings.ToLower(key)
		if prev, ok := canonical[lk]; ok {
			delete(merged, prev)
		}
		canonical[lk] = key
		merged[key] = values
	}
	for k, v := range t.cfg.Headers {
		put(k, v)
	}
	for k, v := range req.Headers {
		put(k, v)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range merged[k] {
			lines = append(lines, k+": "+v)
		}
	}
	return lines
}

func splitStatus(out []byte) (int, []byte, error) {
	idx := bytes.LastIndex(out, []byte(statusMarker))
	if idx < 0 {
		return 0, nil, errors.New("curl output missing status marker")
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(out[idx+len(statusMarker):])))
	if err != nil {
		return 0, nil, fmt.Errorf("parse curl status: %w", err)
	}
	if code == 0 {
		return 0, nil, errors.New("curl reported no HTTP response")
	}
	return code, out[:idx], nil
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	// #nosec G204 -- binary path comes from operator configuration.
	cmd := exec.CommandContext(ctx, name, args...)
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
