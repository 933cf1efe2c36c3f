package ports

// EngineEvents are the callbacks a StreamingEngine reports through.
type EngineEvents struct {
	// ManifestReady fires once per Load when the manifest has been parsed.
	ManifestReady func()
	Error         func(EngineFailure)
}

// EngineFailure is a transport or media error reported by the engine.
type EngineFailure struct {
	Status  int
	URL     string
	Fatal   bool
	Details string
}

// StreamingEngine turns a segmented manifest into continuous playback.
type StreamingEngine interface {
	Attach(surface Surface, events EngineEvents) error
	Load(manifestURL string) error
	// SetRequestRewriter installs a hook applied to every segment request URL.
	SetRequestRewriter(rewrite func(url string) string)
	Destroy()
}
