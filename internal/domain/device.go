package domain

type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Address      string       `json:"address"`
	IsAudioOnly  bool         `json:"is_audio_only"`
	Protocol     string       `json:"protocol"`
	Capabilities Capabilities `json:"capabilities"`
}

// Capabilities describes what a device accepts as a cast receiver.
type Capabilities struct {
	CastReceiver       bool         `json:"cast_receiver"`
	SupportsHLSM3U8URL bool         `json:"supports_hls_m3u8_url"`
	SupportsDASHURL    bool         `json:"supports_dash_url"`
	Limitations        []Limitation `json:"limitations"`
}

type Limitation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
