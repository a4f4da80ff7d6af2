// Package go2tv binds the adapter contracts to the real go2tv discovery and
// cast protocol implementations.
package go2tv

import (
	"context"

	"go2tv.app/castbrowser/internal/adapters"
	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
)

type Bundle struct {
	Discovery   adapters.Discovery
	CastFactory adapters.CastFactory
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:   Discovery{},
		CastFactory: CastFactory{},
	}
}

type Discovery struct{}

func (Discovery) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (Discovery) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type CastFactory struct{}

func (CastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

var (
	_ adapters.Discovery   = Discovery{}
	_ adapters.CastFactory = CastFactory{}
	_ adapters.CastClient  = (*castprotocol.CastClient)(nil)
)
