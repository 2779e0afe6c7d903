package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCreative   = errors.New("invalid creative")
	ErrMissingCreativeID = errors.New("creative id is required")
	ErrNegativeCap       = errors.New("cap value must not be negative")
	ErrUnknownCapKind    = errors.New("unknown cap kind")
	ErrUnknownEventKind  = errors.New("unknown event kind")
)

// EventKind is what happened to a creative: "view" | "click" | "conversion" | "dismiss" | "landed"
type EventKind string

const (
	EventView       EventKind = "view"
	EventClick      EventKind = "click"
	EventConversion EventKind = "conversion"
	EventDismiss    EventKind = "dismiss"
	EventLanded     EventKind = "landed"
)

func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case EventView, EventClick, EventConversion, EventDismiss, EventLanded:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, s)
}

// CapKind names a configured limit on a creative.
type CapKind string

const (
	CapTotalMax          CapKind = "total_max"
	CapPerHour           CapKind = "per_hour"
	CapPerDay            CapKind = "per_day"
	CapPerWeek           CapKind = "per_week"
	CapCampaignPerHour   CapKind = "campaign_per_hour"
	CapCampaignPerDay    CapKind = "campaign_per_day"
	CapAdvertiserPerDay  CapKind = "advertiser_per_day"
	CapCreativeSetPerDay CapKind = "creative_set_per_day"
)

func (k CapKind) IsValid() bool {
	switch k {
	case CapTotalMax, CapPerHour, CapPerDay, CapPerWeek,
		CapCampaignPerHour, CapCampaignPerDay, CapAdvertiserPerDay, CapCreativeSetPerDay:
		return true
	}
	return false
}

// CreativeAd is a candidate for serving. Treat as read-only during a pass.
type CreativeAd struct {
	ID            string          `json:"creative_id"`
	CampaignID    string          `json:"campaign_id,omitempty"`
	AdvertiserID  string          `json:"advertiser_id,omitempty"`
	CreativeSetID string          `json:"creative_set_id,omitempty"`
	Caps          map[CapKind]int `json:"caps,omitempty"`
}

// NewCreativeAd builds a validated creative. caps is copied.
func NewCreativeAd(id, campaignID, advertiserID, creativeSetID string, caps map[CapKind]int) (CreativeAd, error) {
	c := CreativeAd{
		ID:            id,
		CampaignID:    campaignID,
		AdvertiserID:  advertiserID,
		CreativeSetID: creativeSetID,
	}
	if len(caps) > 0 {
		c.Caps = make(map[CapKind]int, len(caps))
		for k, v := range caps {
			c.Caps[k] = v
		}
	}
	if err := c.Validate(); err != nil {
		return CreativeAd{}, err
	}
	return c, nil
}

// Validate reports every configuration problem of the creative at once.
func (c CreativeAd) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, ErrMissingCreativeID)
	}
	for k, v := range c.Caps {
		if !k.IsValid() {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownCapKind, k))
			continue
		}
		if v < 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%d", ErrNegativeCap, k, v))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidCreative, c.ID, errors.Join(errs...))
}

// Cap returns the configured limit for kind. ok=false means unconstrained.
func (c CreativeAd) Cap(kind CapKind) (limit int, ok bool) {
	limit, ok = c.Caps[kind]
	return limit, ok
}

// AdEvent is one historical fact. Never mutated after creation.
type AdEvent struct {
	ID            string    `json:"id,omitempty"`
	CreativeID    string    `json:"creative_id"`
	CampaignID    string    `json:"campaign_id,omitempty"`
	AdvertiserID  string    `json:"advertiser_id,omitempty"`
	CreativeSetID string    `json:"creative_set_id,omitempty"`
	Kind          EventKind `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`
}

// Verdict is the outcome of one rule against one creative.
// Reason is set iff Excluded. Unscoped marks a rule that could not apply
// because the creative lacks the key the rule groups by.
type Verdict struct {
	Excluded bool
	Reason   string
	Unscoped bool
}

func pass() Verdict { return Verdict{} }

func unscoped() Verdict { return Verdict{Unscoped: true} }

func exclude(format string, args ...any) Verdict {
	return Verdict{Excluded: true, Reason: fmt.Sprintf(format, args...)}
}

// Rejection is one failed rule in a report.
type Rejection struct {
	Rule     string `json:"rule"`
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// EligibilityReport: Eligible is true iff Rejections is empty.
type EligibilityReport struct {
	CreativeID string      `json:"creative_id"`
	Eligible   bool        `json:"eligible"`
	Rejections []Rejection `json:"rejections"`
}
