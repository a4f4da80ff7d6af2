// Package discovery lists cast receivers on the local network and describes
// what each one can play.
package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/castbrowser/internal/adapters"
	"go2tv.app/castbrowser/internal/domain"
	"go2tv.app/go2tv/v2/devices"
)

const (
	DefaultTimeoutMS = 2500

	reachabilityWait             = 400 * time.Millisecond
	defaultDiscoveryDelaySeconds = 1
	maxPerAttemptTimeoutMS       = 3000

	ProtocolChromecast = "chromecast"
	ProtocolDLNA       = "dlna"
)

var isReachableAddress = dialAddress

type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	once    sync.Once
}

// NewService returns a Service whose background mDNS loop is bound to
// loopCtx. The loop starts lazily on the first listing.
func NewService(adapter adapters.Discovery, loopCtx context.Context) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	return &Service{adapter: adapter, loopCtx: loopCtx}
}

type loadResult struct {
	devices []devices.Device
	err     error
}

// ListDevices returns receivers found within timeoutMS. Running out of time
// is not an error; whatever was discovered so far (possibly nothing) is
// returned.
func (s *Service) ListDevices(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeoutMS <= 0 {
		timeoutMS = DefaultTimeoutMS
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	resultCh := make(chan loadResult, 1)
	go func() {
		loaded, err := s.loadUntil(ctx, timeoutMS)
		resultCh <- loadResult{devices: loaded, err: err}
	}()

	timeout := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return []domain.Device{}, nil
	case result := <-resultCh:
		if result.err != nil {
			if errors.Is(result.err, devices.ErrNoDeviceAvailable) {
				return []domain.Device{}, nil
			}
			return nil, result.err
		}

		found := describeDevices(result.devices)
		if !includeUnreachable {
			found = keepReachable(found)
		}
		sortDevices(found)
		return found, nil
	}
}

// loadUntil polls go2tv in bounded slices so receivers that answer mDNS late
// are still picked up before the deadline.
func (s *Service) loadUntil(ctx context.Context, timeoutMS int) ([]devices.Device, error) {
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remainingMS := int(time.Until(deadline).Milliseconds())
		if remainingMS <= 0 {
			if lastErr == nil || errors.Is(lastErr, devices.ErrNoDeviceAvailable) {
				return []devices.Device{}, nil
			}
			return nil, lastErr
		}

		attemptMS := min(remainingMS, maxPerAttemptTimeoutMS)
		loaded, err := s.adapter.LoadAllDevices(timeoutToDelaySeconds(attemptMS))
		if err == nil {
			if loaded == nil {
				loaded = []devices.Device{}
			}
			return loaded, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}
		lastErr = err
	}
}

func timeoutToDelaySeconds(timeoutMS int) int {
	seconds := int(math.Ceil(float64(timeoutMS) / 1000.0))
	if seconds <= 0 {
		return defaultDiscoveryDelaySeconds
	}
	return seconds
}

func describeDevices(discovered []devices.Device) []domain.Device {
	result := make([]domain.Device, 0, len(discovered))
	for _, raw := range discovered {
		protocol := normalizeProtocol(raw.Type)
		address := strings.TrimSpace(raw.Addr)

		result = append(result, domain.Device{
			ID:           StableID(protocol, address),
			Name:         strings.TrimSpace(raw.Name),
			Type:         strings.TrimSpace(raw.Type),
			Address:      address,
			IsAudioOnly:  raw.IsAudioOnly,
			Protocol:     protocol,
			Capabilities: capabilitiesFor(protocol, raw.IsAudioOnly),
		})
	}
	return result
}

func keepReachable(all []domain.Device) []domain.Device {
	kept := make([]domain.Device, 0, len(all))
	for _, dev := range all {
		if isReachableAddress(dev.Address, reachabilityWait) {
			kept = append(kept, dev)
		}
	}
	return kept
}

// sortDevices puts cast receivers first, then orders by name, address and id.
func sortDevices(all []domain.Device) {
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if protocolRank(a.Protocol) != protocolRank(b.Protocol) {
			return protocolRank(a.Protocol) < protocolRank(b.Protocol)
		}
		if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
			return an < bn
		}
		if aa, ba := strings.ToLower(a.Address), strings.ToLower(b.Address); aa != ba {
			return aa < ba
		}
		return a.ID < b.ID
	})
}

func protocolRank(protocol string) int {
	switch protocol {
	case ProtocolChromecast:
		return 0
	case ProtocolDLNA:
		return 1
	default:
		return 2
	}
}

// StableID derives a device id that survives rediscovery as long as the
// receiver keeps its address.
func StableID(protocol, address string) string {
	sum := sha1.Sum([]byte(protocol + "|" + canonicalAddress(address)))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSpace(address))
	}

	scheme := strings.ToLower(parsed.Scheme)
	port := parsed.Port()
	if port == "" {
		port = defaultPort(scheme)
	}
	path := strings.ToLower(strings.TrimSpace(parsed.EscapedPath()))
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s:%s%s", scheme, strings.ToLower(parsed.Hostname()), port, path)
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

func normalizeProtocol(kind string) string {
	lower := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case strings.Contains(lower, "chrome"):
		return ProtocolChromecast
	case strings.Contains(lower, "dlna"):
		return ProtocolDLNA
	default:
		return lower
	}
}

func capabilitiesFor(protocol string, audioOnly bool) domain.Capabilities {
	caps := domain.Capabilities{Limitations: []domain.Limitation{}}

	if protocol != ProtocolChromecast {
		caps.Limitations = append(caps.Limitations, domain.Limitation{
			Code:    "NOT_A_CAST_RECEIVER",
			Message: "Only Cast receivers can play detected page media.",
		})
		return caps
	}

	caps.CastReceiver = true
	caps.SupportsHLSM3U8URL = true
	caps.SupportsDASHURL = true
	if audioOnly {
		caps.Limitations = append(caps.Limitations, domain.Limitation{
			Code:    "AUDIO_ONLY_RECEIVER",
			Message: "This receiver has no display; only the audio track will play.",
		})
	}
	return caps
}

func dialAddress(address string, timeout time.Duration) bool {
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" {
		return false
	}

	hostPort := parsed.Host
	if parsed.Port() == "" {
		hostPort = net.JoinHostPort(parsed.Hostname(), defaultPort(strings.ToLower(parsed.Scheme)))
	}

	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
