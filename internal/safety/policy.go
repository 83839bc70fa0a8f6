package safety

import (
	"time"

	"shockstream"
)

// Permission levels ordered from least to most privileged.
const (
	LevelViewer     = "viewer"
	LevelFollower   = "follower"
	LevelSubscriber = "subscriber"
	LevelModerator  = "moderator"
)

var levelRank = map[string]int{
	LevelViewer:     0,
	LevelFollower:   1,
	LevelSubscriber: 2,
	LevelModerator:  3,
}

// DefaultPolicy returns the policy used until the dashboard saves its own.
func DefaultPolicy() shockstream.SafetyPolicy {
	return shockstream.SafetyPolicy{
		GlobalLimits: shockstream.GlobalLimits{
			MaxIntensity:         100,
			MaxDurationMs:        15000,
			MaxCommandsPerMinute: 20,
		},
		DeviceLimits: map[string]shockstream.DeviceLimits{},
		UserLimits: shockstream.UserLimits{
			MinFollowerAgeDays:     0,
			MaxCommandsPerUserHour: 30,
			MinPermissionLevel:     LevelViewer,
			RequireSuperfan:        false,
		},
	}
}

// PolicyPatch is a partial policy update. Nil fields leave the corresponding
// sub-object untouched; nested fields merge the same way.
type PolicyPatch struct {
	GlobalLimits *GlobalLimitsPatch                  `json:"global_limits,omitempty"`
	DeviceLimits map[string]shockstream.DeviceLimits `json:"device_limits,omitempty"`
	UserLimits   *UserLimitsPatch                    `json:"user_limits,omitempty"`
}

type GlobalLimitsPatch struct {
	MaxIntensity         *int `json:"max_intensity,omitempty"`
	MaxDurationMs        *int `json:"max_duration_ms,omitempty"`
	MaxCommandsPerMinute *int `json:"max_commands_per_minute,omitempty"`
}

type UserLimitsPatch struct {
	MinFollowerAgeDays     *int      `json:"min_follower_age_days,omitempty"`
	MaxCommandsPerUserHour *int      `json:"max_commands_per_user_per_hour,omitempty"`
	MinPermissionLevel     *string   `json:"min_permission_level,omitempty"`
	RequireSuperfan        *bool     `json:"require_superfan,omitempty"`
	Whitelist              *[]string `json:"whitelist,omitempty"`
	Blacklist              *[]string `json:"blacklist,omitempty"`
}

// mergePolicy applies a patch to a policy copy. Device limit entries in the
// patch replace entries with the same device id; other entries are kept.
func mergePolicy(p shockstream.SafetyPolicy, patch PolicyPatch) shockstream.SafetyPolicy {
	if patch.GlobalLimits != nil {
		g := patch.GlobalLimits
		if g.MaxIntensity != nil {
			p.GlobalLimits.MaxIntensity = *g.MaxIntensity
		}
		if g.MaxDurationMs != nil {
			p.GlobalLimits.MaxDurationMs = *g.MaxDurationMs
		}
		if g.MaxCommandsPerMinute != nil {
			p.GlobalLimits.MaxCommandsPerMinute = *g.MaxCommandsPerMinute
		}
	}
	if patch.DeviceLimits != nil {
		merged := make(map[string]shockstream.DeviceLimits, len(p.DeviceLimits)+len(patch.DeviceLimits))
		for id, dl := range p.DeviceLimits {
			merged[id] = dl
		}
		for id, dl := range patch.DeviceLimits {
			merged[id] = dl
		}
		p.DeviceLimits = merged
	}
	if patch.UserLimits != nil {
		u := patch.UserLimits
		if u.MinFollowerAgeDays != nil {
			p.UserLimits.MinFollowerAgeDays = *u.MinFollowerAgeDays
		}
		if u.MaxCommandsPerUserHour != nil {
			p.UserLimits.MaxCommandsPerUserHour = *u.MaxCommandsPerUserHour
		}
		if u.MinPermissionLevel != nil {
			p.UserLimits.MinPermissionLevel = *u.MinPermissionLevel
		}
		if u.RequireSuperfan != nil {
			p.UserLimits.RequireSuperfan = *u.RequireSuperfan
		}
		if u.Whitelist != nil {
			p.UserLimits.Whitelist = append([]string(nil), (*u.Whitelist)...)
		}
		if u.Blacklist != nil {
			p.UserLimits.Blacklist = append([]string(nil), (*u.Blacklist)...)
		}
	}
	return p
}

// userLevel derives the viewer's rank from context flags. A follower younger
// than the configured minimum age does not count as a follower.
func userLevel(ctx shockstream.UserContext, minFollowerAgeDays int) int {
	switch {
	case ctx.IsModerator:
		return levelRank[LevelModerator]
	case ctx.IsSubscriber:
		return levelRank[LevelSubscriber]
	case ctx.IsFollower && ctx.FollowerAgeDays >= minFollowerAgeDays:
		return levelRank[LevelFollower]
	}
	return levelRank[LevelViewer]
}

func requiredLevel(name string) int {
	if r, ok := levelRank[name]; ok {
		return r
	}
	return levelRank[LevelViewer]
}

func hasUser(list []string, userID string) bool {
	for _, u := range list {
		if u == userID {
			return true
		}
	}
	return false
}

func nowUTC() time.Time { return time.Now().UTC() }
