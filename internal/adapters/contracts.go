// Package adapters declares the seams between castbrowser and the go2tv
// libraries so receiver and discovery logic can run against fakes.
package adapters

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
)

// Discovery finds receivers on the local network.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// CastClient is one media channel to a cast receiver.
type CastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	Stop() error
	GetStatus() (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

type CastFactory interface {
	NewCastClient(deviceAddr string) (CastClient, error)
}
