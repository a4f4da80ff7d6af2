// Package receiver drives cast receivers: it resolves a target device, opens
// a media channel, loads classified requests and tracks the resulting
// sessions until they are stopped or go stale.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go2tv.app/castbrowser/internal/adapters"
	"go2tv.app/castbrowser/internal/domain"
)

const (
	defaultDiscoveryTimeoutMS  = 2500
	fallbackDiscoveryTimeoutMS = 12000

	defaultIdleCleanupAfter   = 10 * time.Minute
	defaultPausedCleanupAfter = 90 * time.Minute
	defaultMaxSessionAge      = 24 * time.Hour
	defaultCleanupSweepEvery  = 5 * time.Second

	defaultRetryAttempts    = 3
	defaultRetryBaseBackoff = 120 * time.Millisecond
	defaultRetryMaxBackoff  = 800 * time.Millisecond
)

// Error codes surfaced by the manager.
const (
	CodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	CodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	CodeNotCastReceiver   = "NOT_A_CAST_RECEIVER"
	CodeSessionNotReady   = "SESSION_NOT_READY"
	CodeNetworkError      = "NETWORK_ERROR"
	CodeProtocolError     = "PROTOCOL_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

type DeviceLister interface {
	ListDevices(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
}

type Options struct {
	Logger *slog.Logger

	IdleCleanupAfter   time.Duration
	PausedCleanupAfter time.Duration
	MaxSessionAge      time.Duration
	CleanupSweepEvery  time.Duration

	RetryAttempts    int
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration
}

type Manager struct {
	discovery   DeviceLister
	castFactory adapters.CastFactory
	logger      *slog.Logger
	now         func() time.Time

	idleCleanupAfter   time.Duration
	pausedCleanupAfter time.Duration
	maxSessionAge      time.Duration
	cleanupSweepEvery  time.Duration

	retryAttempts    int
	retryBaseBackoff time.Duration
	retryMaxBackoff  time.Duration

	cleanupLoopCancel context.CancelFunc
	cleanupLoopDone   chan struct{}
	closeOnce         sync.Once
	closeErr          error

	mu                sync.Mutex
	sessionsByID      map[string]*session
	sessionByDeviceID map[string]string
	closed            bool
}

type session struct {
	handle domain.SessionHandle
	client adapters.CastClient

	stateMu           sync.Mutex
	createdAt         time.Time
	lastObservedAt    time.Time
	lastStateChangeAt time.Time
	lastProgressAt    time.Time
	lastPosition      string
	state             string

	closeOnce sync.Once
}

// NewManager starts the background cleanup loop; call Close to stop it.
func NewManager(discovery DeviceLister, castFactory adapters.CastFactory, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	m := &Manager{
		discovery:          discovery,
		castFactory:        castFactory,
		logger:             logger,
		now:                time.Now,
		idleCleanupAfter:   durationOr(opts.IdleCleanupAfter, defaultIdleCleanupAfter),
		pausedCleanupAfter: durationOr(opts.PausedCleanupAfter, defaultPausedCleanupAfter),
		maxSessionAge:      durationOr(opts.MaxSessionAge, defaultMaxSessionAge),
		cleanupSweepEvery:  durationOr(opts.CleanupSweepEvery, defaultCleanupSweepEvery),
		retryAttempts:      defaultRetryAttempts,
		retryBaseBackoff:   durationOr(opts.RetryBaseBackoff, defaultRetryBaseBackoff),
		retryMaxBackoff:    durationOr(opts.RetryMaxBackoff, defaultRetryMaxBackoff),
		cleanupLoopCancel:  cleanupCancel,
		cleanupLoopDone:    make(chan struct{}),
		sessionsByID:       map[string]*session{},
		sessionByDeviceID:  map[string]string{},
	}
	if opts.RetryAttempts > 0 {
		m.retryAttempts = opts.RetryAttempts
	}

	go m.runCleanupLoop(cleanupCtx)
	return m
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

// LoadMedia plays req on the device named by target. A device that already
// has a session managed here has that session replaced.
func (m *Manager) LoadMedia(ctx context.Context, target string, req domain.ClassifiedRequest) (domain.SessionHandle, error) {
	if m.discovery == nil || m.castFactory == nil {
		return domain.SessionHandle{}, toolError(CodeInternalError, "receiver manager is not configured")
	}
	if m.isClosed() {
		return domain.SessionHandle{}, toolError(CodeInternalError, "receiver manager is shutting down")
	}
	if strings.TrimSpace(req.ContentID) == "" {
		return domain.SessionHandle{}, toolError(CodeSessionNotReady, "Cast session is not ready for media playback: no content id")
	}

	device, err := m.resolveDevice(ctx, target)
	if err != nil {
		return domain.SessionHandle{}, err
	}
	if !device.Capabilities.CastReceiver {
		return domain.SessionHandle{}, notReceiverError(device)
	}

	client, err := m.castFactory.NewCastClient(device.Address)
	if err != nil {
		return domain.SessionHandle{}, wrapToolError(CodeProtocolError, "failed to create cast client", err)
	}
	if err := m.withRetry(ctx, "cast_connect", client.Connect); err != nil {
		_ = client.Close(true)
		return domain.SessionHandle{}, wrapToolError(CodeDeviceUnreachable, fmt.Sprintf("failed to connect to %s", device.Name), err)
	}

	live := req.Live()
	if err := m.withRetry(ctx, "cast_load", func() error {
		return client.Load(req.ContentID, req.ContentType, 0, 0, "", live)
	}); err != nil {
		_ = client.Close(true)
		return domain.SessionHandle{}, wrapToolError(loadErrorCode(err), "failed to start playback", err)
	}

	sess := &session{
		handle: domain.SessionHandle{
			SessionID:   newSessionID(),
			DeviceID:    device.ID,
			DeviceName:  device.Name,
			ContentID:   req.ContentID,
			ContentType: req.ContentType,
			StreamType:  req.StreamType,
		},
		client: client,
	}
	m.initializeSession(sess, "buffering")

	replaced, stored := m.storeSession(sess)
	if !stored {
		_ = shutdownSession(sess, true)
		return domain.SessionHandle{}, toolError(CodeInternalError, "receiver manager is shutting down")
	}
	if replaced != nil {
		m.logger.Info("receiver_replace", "device_id", device.ID, "replaced_session_id", replaced.handle.SessionID)
		_ = shutdownSession(replaced, true)
	}

	m.logger.Info("receiver_load",
		"session_id", sess.handle.SessionID,
		"device_id", device.ID,
		"content_type", req.ContentType,
		"stream_type", string(req.StreamType),
	)
	return sess.handle, nil
}

// Stop ends the session named by SessionID, or else the session playing on
// TargetDevice.
func (m *Manager) Stop(_ context.Context, req domain.StopRequest) (domain.StopResult, error) {
	if strings.TrimSpace(req.SessionID) == "" && strings.TrimSpace(req.TargetDevice) == "" {
		return domain.StopResult{}, toolError(CodeInternalError, "either session_id or target_device is required")
	}

	sess := m.takeSession(req)
	if sess == nil {
		return domain.StopResult{}, toolError(CodeDeviceNotFound, "no active session matches the provided target")
	}
	if err := shutdownSession(sess, true); err != nil {
		return domain.StopResult{}, wrapToolError(CodeProtocolError, "failed to stop playback", err)
	}

	m.logger.Info("receiver_stop", "session_id", sess.handle.SessionID, "device_id", sess.handle.DeviceID)
	return domain.StopResult{
		OK:               true,
		StoppedSessionID: sess.handle.SessionID,
		DeviceID:         sess.handle.DeviceID,
	}, nil
}

// Sessions lists active sessions, oldest first.
func (m *Manager) Sessions() []domain.SessionHandle {
	live := m.snapshotSessions()
	sort.Slice(live, func(i, j int) bool {
		ci, cj := live[i].created(), live[j].created()
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return live[i].handle.SessionID < live[j].handle.SessionID
	})

	out := make([]domain.SessionHandle, 0, len(live))
	for _, sess := range live {
		out = append(out, sess.handle)
	}
	return out
}

func (m *Manager) resolveDevice(ctx context.Context, target string) (*domain.Device, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, toolError(CodeDeviceNotFound, "target_device is empty")
	}

	var lastSeen []domain.Device
	for _, timeoutMS := range []int{defaultDiscoveryTimeoutMS, fallbackDiscoveryTimeoutMS} {
		devs, err := m.discovery.ListDevices(ctx, timeoutMS, true)
		if err != nil {
			return nil, wrapToolError(CodeInternalError, "device discovery failed", err)
		}
		if matched := matchTargetDevice(devs, target); matched != nil {
			return matched, nil
		}
		lastSeen = devs
	}

	te := toolError(CodeDeviceNotFound, fmt.Sprintf("device not found: %s", target))
	te.SuggestedFixes = []string{"Call list_devices and pass a device id or name exactly as listed."}
	if len(lastSeen) > 0 {
		names := make([]string, 0, len(lastSeen))
		for _, d := range lastSeen {
			names = append(names, d.Name)
		}
		te.Details = map[string]any{"available_devices": names}
	}
	return nil, te
}

// matchTargetDevice prefers exact id, then exact name, then case-insensitive
// forms ignoring a trailing parenthesised model suffix.
func matchTargetDevice(devices []domain.Device, target string) *domain.Device {
	target = strings.TrimSpace(target)
	loose := normalizeDeviceTarget(target)

	for i := range devices {
		if strings.TrimSpace(devices[i].ID) == target {
			return &devices[i]
		}
	}
	for i := range devices {
		if strings.TrimSpace(devices[i].Name) == target {
			return &devices[i]
		}
	}
	for i := range devices {
		if strings.EqualFold(strings.TrimSpace(devices[i].ID), target) ||
			strings.EqualFold(strings.TrimSpace(devices[i].Name), target) ||
			normalizeDeviceTarget(devices[i].Name) == loose {
			return &devices[i]
		}
	}
	return nil
}

func normalizeDeviceTarget(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if idx := strings.LastIndex(normalized, " ("); idx > 0 && strings.HasSuffix(normalized, ")") {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}

func (m *Manager) takeSession(req domain.StopRequest) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id := strings.TrimSpace(req.SessionID); id != "" {
		sess, ok := m.sessionsByID[id]
		if !ok {
			return nil
		}
		m.detachLocked(sess)
		return sess
	}

	target := strings.TrimSpace(req.TargetDevice)
	for _, sess := range m.sessionsByID {
		if sess.handle.DeviceID == target || strings.EqualFold(sess.handle.DeviceName, target) {
			m.detachLocked(sess)
			return sess
		}
	}
	return nil
}

func (m *Manager) storeSession(sess *session) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}

	var replaced *session
	if oldID, ok := m.sessionByDeviceID[sess.handle.DeviceID]; ok {
		replaced = m.sessionsByID[oldID]
		delete(m.sessionsByID, oldID)
	}
	m.sessionsByID[sess.handle.SessionID] = sess
	m.sessionByDeviceID[sess.handle.DeviceID] = sess.handle.SessionID
	return replaced, true
}

func (m *Manager) detachLocked(sess *session) {
	delete(m.sessionsByID, sess.handle.SessionID)
	if m.sessionByDeviceID[sess.handle.DeviceID] == sess.handle.SessionID {
		delete(m.sessionByDeviceID, sess.handle.DeviceID)
	}
}

func (m *Manager) detachSessionByID(sessionID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sessionsByID[sessionID]
	if sess != nil {
		m.detachLocked(sess)
	}
	return sess
}

func (m *Manager) snapshotSessions() []*session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session, 0, len(m.sessionsByID))
	for _, sess := range m.sessionsByID {
		out = append(out, sess)
	}
	return out
}

func (m *Manager) detachAllSessions() []*session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session, 0, len(m.sessionsByID))
	for _, sess := range m.sessionsByID {
		out = append(out, sess)
	}
	m.sessionsByID = map[string]*session{}
	m.sessionByDeviceID = map[string]string{}
	return out
}

// Close stops the cleanup loop and every active session. It is safe to call
// more than once.
func (m *Manager) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.cleanupLoopCancel()
		select {
		case <-m.cleanupLoopDone:
		case <-ctx.Done():
			m.closeErr = ctx.Err()
			return
		}

		var errs []error
		for _, sess := range m.detachAllSessions() {
			if err := shutdownSession(sess, true); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sess.handle.SessionID, err))
			}
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func shutdownSession(sess *session, stopMedia bool) error {
	if sess == nil {
		return nil
	}

	var shutdownErr error
	sess.closeOnce.Do(func() {
		if sess.client == nil {
			return
		}
		var errs []error
		if stopMedia {
			if err := sess.client.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop: %w", err))
			}
		}
		if err := sess.client.Close(stopMedia); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		shutdownErr = errors.Join(errs...)
	})
	return shutdownErr
}

func newSessionID() string {
	return "sess_" + uuid.NewString()
}

func toolError(code, message string) *domain.ToolError {
	return &domain.ToolError{Code: code, Message: message}
}

func wrapToolError(code, message string, err error) *domain.ToolError {
	return &domain.ToolError{Code: code, Message: fmt.Sprintf("%s: %v", message, err), Err: err}
}

func notReceiverError(device *domain.Device) *domain.ToolError {
	return &domain.ToolError{
		Code:        CodeNotCastReceiver,
		Message:     fmt.Sprintf("device %q (%s) is not a cast receiver", device.Name, device.Protocol),
		Limitations: append([]domain.Limitation{}, device.Capabilities.Limitations...),
		SuggestedFixes: []string{
			"Pick a Chromecast or Google TV device from list_devices.",
		},
		Details: map[string]any{"device_id": device.ID, "protocol": device.Protocol},
	}
}

// loadErrorCode separates network trouble and a receiver that has not
// launched its media app from other protocol failures.
func loadErrorCode(err error) string {
	if isTransientNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return CodeNetworkError
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"not connected", "not ready", "no application", "application not"} {
		if strings.Contains(msg, marker) {
			return CodeSessionNotReady
		}
	}
	return CodeProtocolError
}
