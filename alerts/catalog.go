package alerts

import "time"

// Defaults are applied to requests of one alert type.
type Defaults struct {
	Duration   time.Duration
	DelayAudio time.Duration
	AudioURL   string
}

// Catalog maps alert types to their defaults.
type Catalog map[string]Defaults

// DefaultCatalog is used when no catalog file configures alert types.
func DefaultCatalog() Catalog {
	return Catalog{
		"shout-out":     {Duration: 10 * time.Second, DelayAudio: 3100 * time.Millisecond},
		"bits":          {Duration: 5 * time.Second},
		"subscribe":     {Duration: 5 * time.Second},
		"donation":      {Duration: 5 * time.Second},
		"follow":        {Duration: 5 * time.Second},
		"raid":          {Duration: 5 * time.Second},
		"say":           {Duration: 5 * time.Second},
		"bigdata":       {Duration: 6 * time.Second, AudioURL: "/assets/alerts/bigdata.mp3"},
		"immabee":       {Duration: 4 * time.Second, AudioURL: "/assets/alerts/immabee.mp3"},
		"philpunch":     {Duration: 5 * time.Second, DelayAudio: time.Second, AudioURL: "/assets/alerts/phil-punch.mp3"},
		"penguin-throw": {Duration: 2 * time.Second, DelayAudio: 900 * time.Millisecond, AudioURL: "/assets/alerts/penguin-throw-snowball-impact.mp3"},
	}
}

// apply fills unset request fields from the catalog.
func (c Catalog) apply(req Request) Request {
	d, ok := c[req.Type]
	if !ok {
		return req
	}
	if req.Duration == 0 {
		req.Duration = d.Duration
	}
	if req.DelayAudio == 0 {
		req.DelayAudio = d.DelayAudio
	}
	if d.AudioURL != "" {
		if _, set := req.Payload["audioUrl"]; !set {
			p := make(map[string]any, len(req.Payload)+1)
			for k, v := range req.Payload {
				p[k] = v
			}
			p["audioUrl"] = d.AudioURL
			req.Payload = p
		}
	}
	return req
}
