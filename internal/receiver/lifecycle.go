package receiver

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const (
	stateIdle      = "idle"
	statePlaying   = "playing"
	statePaused    = "paused"
	stateBuffering = "buffering"
)

func (m *Manager) runCleanupLoop(ctx context.Context) {
	defer close(m.cleanupLoopDone)

	ticker := time.NewTicker(m.cleanupSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupSweep()
		}
	}
}

// cleanupSweep polls every session and shuts down those that stalled, sat
// paused or idle too long, or outlived the maximum age.
func (m *Manager) cleanupSweep() {
	now := m.now()
	for _, sess := range m.snapshotSessions() {
		m.observeSession(sess, now)
		if !m.shouldCleanupSession(sess, now) {
			continue
		}
		if detached := m.detachSessionByID(sess.handle.SessionID); detached != nil {
			m.logger.Info("receiver_cleanup", "session_id", detached.handle.SessionID, "device_id", detached.handle.DeviceID, "state", detached.currentState())
			_ = shutdownSession(detached, true)
		}
	}
}

func (m *Manager) initializeSession(sess *session, state string) {
	now := m.now()
	sess.stateMu.Lock()
	defer sess.stateMu.Unlock()
	sess.createdAt = now
	sess.recordLocked(state, "", now)
}

func (m *Manager) observeSession(sess *session, observedAt time.Time) {
	if sess.client == nil {
		return
	}
	status, err := sess.client.GetStatus()
	if err != nil || status == nil {
		return
	}

	state := normalizeCastState(status.PlayerState)
	position := ""
	if state == statePlaying {
		position = strconv.FormatInt(int64(status.CurrentTime), 10)
	}

	sess.stateMu.Lock()
	sess.recordLocked(state, position, observedAt)
	sess.stateMu.Unlock()
}

func (m *Manager) shouldCleanupSession(sess *session, now time.Time) bool {
	sess.stateMu.Lock()
	defer sess.stateMu.Unlock()

	if sess.createdAt.IsZero() {
		sess.createdAt = now
	}
	if m.maxSessionAge > 0 && now.Sub(sess.createdAt) >= m.maxSessionAge {
		return true
	}

	lastStateAt := sess.lastStateChangeAt
	if lastStateAt.IsZero() {
		lastStateAt = sess.createdAt
	}

	switch sess.state {
	case statePlaying:
		if sess.lastPosition == "" {
			return false
		}
		lastProgressAt := sess.lastProgressAt
		if lastProgressAt.IsZero() {
			lastProgressAt = lastStateAt
		}
		return now.Sub(lastProgressAt) >= m.idleCleanupAfter
	case stateBuffering:
		return false
	case statePaused:
		return now.Sub(lastStateAt) >= m.pausedCleanupAfter
	default:
		return now.Sub(lastStateAt) >= m.idleCleanupAfter
	}
}

func (s *session) recordLocked(state, position string, observedAt time.Time) {
	if state == "" {
		state = stateIdle
	}
	if s.createdAt.IsZero() {
		s.createdAt = observedAt
	}
	if s.state != state {
		s.state = state
		s.lastStateChangeAt = observedAt
	}
	if position != "" && s.lastPosition != position {
		s.lastPosition = position
		s.lastProgressAt = observedAt
	}
	if observedAt.After(s.lastObservedAt) {
		s.lastObservedAt = observedAt
	}
}

func (s *session) created() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.createdAt
}

func (s *session) currentState() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func normalizeCastState(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "playing":
		return statePlaying
	case "paused":
		return statePaused
	case "buffering", "loading":
		return stateBuffering
	default:
		return stateIdle
	}
}
