// Package certhelper runs the external smartcard helper that reads the user
// certificate from a token.
//
// The helper is invoked as
//
//	<path> --pre|--auth --timeout <seconds> [--nssdb <dir>]
//
// With --auth the PIN is written to its standard input. On success it prints
// the token name on the first line and the base64 DER certificate on the
// second; empty output means no certificate was found.
package certhelper

import (
	"bufio"
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/internal/telemetry"
	"github.com/marmos91/dittopam/pkg/authtok"
)

// DefaultTimeout bounds one helper run.
const DefaultTimeout = 10 * time.Second

var (
	// ErrHelperFailed is returned when the helper exits non-zero or is killed.
	ErrHelperFailed = errors.New("certhelper: helper failed")

	// ErrBadOutput is returned when the helper output cannot be parsed.
	ErrBadOutput = errors.New("certhelper: malformed helper output")
)

// Certificate is what the helper found on the token.
type Certificate struct {
	TokenName string
	DER       []byte
	Parsed    *x509.Certificate
}

// Config configures the helper runner.
type Config struct {
	Path    string        `mapstructure:"path" yaml:"path"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	NSSDB   string        `mapstructure:"nssdb" yaml:"nssdb,omitempty"`
}

// Extractor reads a certificate for a request. A nil certificate with a nil
// error means the token holds none.
type Extractor interface {
	Extract(ctx context.Context, req *pam.Request) (*Certificate, error)
}

// Runner is the Extractor backed by an external process.
type Runner struct {
	cfg Config
}

var _ Extractor = (*Runner)(nil)

// New returns a Runner. A zero timeout selects DefaultTimeout.
func New(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Runner{cfg: cfg}
}

// Extract runs the helper. During PREAUTH the token is only probed; for
// AUTHENTICATE a PIN token is handed to the helper for login.
func (r *Runner) Extract(ctx context.Context, req *pam.Request) (*Certificate, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCertHelper,
		trace.WithAttributes(telemetry.PAMCommand(req.Command.String())))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := []string{"--pre"}
	var stdin []byte
	if req.Command == pam.CmdAuthenticate {
		args[0] = "--auth"
		if pin, ok := req.AuthTok.(authtok.SCPin); ok {
			stdin = bytes.Clone(pin.PIN)
			defer clear(stdin)
		}
	}
	args = append(args, "--timeout", strconv.Itoa(int(r.cfg.Timeout/time.Second)))
	if r.cfg.NSSDB != "" {
		args = append(args, "--nssdb", r.cfg.NSSDB)
	}

	cmd := exec.CommandContext(ctx, r.cfg.Path, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	logger.Debug("Certificate helper finished",
		"path", r.cfg.Path,
		logger.DurationMs(float64(time.Since(start).Microseconds())/1000),
		logger.Err(err))
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrHelperFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrHelperFailed, err, strings.TrimSpace(stderr.String()))
	}
	return ParseOutput(stdout.Bytes())
}

// ParseOutput parses the helper's standard output.
func ParseOutput(out []byte) (*Certificate, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 16*1024), 1024*1024)

	var lines []string
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}

	switch len(lines) {
	case 0:
		return nil, nil
	case 2:
	default:
		return nil, fmt.Errorf("%w: expected 2 lines, got %d", ErrBadOutput, len(lines))
	}

	der, err := base64.StdEncoding.DecodeString(lines[1])
	if err != nil {
		return nil, fmt.Errorf("%w: certificate is not base64: %v", ErrBadOutput, err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}
	return &Certificate{TokenName: lines[0], DER: der, Parsed: parsed}, nil
}
