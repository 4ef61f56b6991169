package collab

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Timing holds every protocol delay of the sync engine.
type Timing struct {
	// Join pipeline.
	ViewDelay     time.Duration
	FullDelay     time.Duration
	CompleteGrace time.Duration

	PresenceThrottle time.Duration
	ViewportDebounce time.Duration

	// Presence staleness horizons.
	CursorHorizon time.Duration
	OnlineHorizon time.Duration

	TransferCooldown time.Duration
	OfferTTL         time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ViewDelay:        500 * time.Millisecond,
		FullDelay:        2000 * time.Millisecond,
		CompleteGrace:    250 * time.Millisecond,
		PresenceThrottle: 50 * time.Millisecond,
		ViewportDebounce: 100 * time.Millisecond,
		CursorHorizon:    5 * time.Second,
		OnlineHorizon:    30 * time.Second,
		TransferCooldown: 60 * time.Second,
		OfferTTL:         30 * time.Second,
	}
}

type timingFile struct {
	Join struct {
		ViewDelay     string `yaml:"view_delay"`
		FullDelay     string `yaml:"full_delay"`
		CompleteGrace string `yaml:"complete_grace"`
	} `yaml:"join"`
	Presence struct {
		Throttle      string `yaml:"throttle"`
		CursorHorizon string `yaml:"cursor_horizon"`
		OnlineHorizon string `yaml:"online_horizon"`
	} `yaml:"presence"`
	Viewport struct {
		Debounce string `yaml:"debounce"`
	} `yaml:"viewport"`
	Host struct {
		TransferCooldown string `yaml:"transfer_cooldown"`
		OfferTTL         string `yaml:"offer_ttl"`
	} `yaml:"host"`
}

// LoadTiming returns DefaultTiming overlaid with the YAML file at path.
// An empty path yields the defaults. Durations use Go syntax ("500ms", "1m").
func LoadTiming(path string) (Timing, error) {
	t := DefaultTiming()
	path = strings.TrimSpace(path)
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read timing file: %w", err)
	}
	return ParseTiming(raw)
}

// ParseTiming overlays a YAML document onto DefaultTiming.
func ParseTiming(raw []byte) (Timing, error) {
	t := DefaultTiming()
	var f timingFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return t, fmt.Errorf("parse timing: %w", err)
	}
	overlays := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"join.view_delay", f.Join.ViewDelay, &t.ViewDelay},
		{"join.full_delay", f.Join.FullDelay, &t.FullDelay},
		{"join.complete_grace", f.Join.CompleteGrace, &t.CompleteGrace},
		{"presence.throttle", f.Presence.Throttle, &t.PresenceThrottle},
		{"presence.cursor_horizon", f.Presence.CursorHorizon, &t.CursorHorizon},
		{"presence.online_horizon", f.Presence.OnlineHorizon, &t.OnlineHorizon},
		{"viewport.debounce", f.Viewport.Debounce, &t.ViewportDebounce},
		{"host.transfer_cooldown", f.Host.TransferCooldown, &t.TransferCooldown},
		{"host.offer_ttl", f.Host.OfferTTL, &t.OfferTTL},
	}
	for _, o := range overlays {
		v := strings.TrimSpace(o.raw)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return DefaultTiming(), fmt.Errorf("%s: %w", o.name, err)
		}
		if d < 0 {
			return DefaultTiming(), fmt.Errorf("%s: negative duration", o.name)
		}
		*o.dst = d
	}
	return t, t.Validate()
}

func (t Timing) Validate() error {
	if t.FullDelay < t.ViewDelay {
		return fmt.Errorf("full_delay (%s) must not be shorter than view_delay (%s)", t.FullDelay, t.ViewDelay)
	}
	if t.PresenceThrottle <= 0 {
		return fmt.Errorf("presence throttle must be positive")
	}
	if t.CursorHorizon > t.OnlineHorizon {
		return fmt.Errorf("cursor horizon must not exceed online horizon")
	}
	return nil
}
