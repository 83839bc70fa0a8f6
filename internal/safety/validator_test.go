package safety

import (
	"testing"
	"time"

	"shockstream"
)

func testPolicy() shockstream.SafetyPolicy {
	p := DefaultPolicy()
	p.GlobalLimits.MaxIntensity = 90
	p.GlobalLimits.MaxDurationMs = 20000
	p.GlobalLimits.MaxCommandsPerMinute = 10
	p.DeviceLimits = map[string]shockstream.DeviceLimits{
		"dev-1": {MaxIntensity: 80, MaxDurationMs: 10000, CooldownMs: 5000, DailyLimit: 50},
	}
	return p
}

func testCommand() shockstream.Command {
	return shockstream.Command{
		Type:       shockstream.CommandShock,
		DeviceID:   "dev-1",
		Intensity:  50,
		DurationMs: 1000,
		UserID:     "user-1",
	}
}

func modCtx() shockstream.UserContext {
	return shockstream.UserContext{IsModerator: true}
}

func TestCheckCommand_AllowsAndClampsIntensity(t *testing.T) {
	v := NewValidator(testPolicy(), nil)
	cmd := testCommand()
	cmd.Intensity = 150

	res := v.CheckCommand(cmd, "user-1", "dev-1", modCtx())
	if !res.Allowed {
		t.Fatalf("expected allowed, got reason %q", res.Reason)
	}
	if res.Adjusted == nil {
		t.Fatalf("expected adjusted command")
	}
	if res.Adjusted.Intensity != 80 {
		t.Fatalf("expected intensity capped to device max 80, got %d", res.Adjusted.Intensity)
	}
	if !res.Adjusted.CappedIntensity {
		t.Fatalf("expected CappedIntensity flag")
	}
	if cmd.Intensity != 150 {
		t.Fatalf("original command mutated: intensity %d", cmd.Intensity)
	}
}

func TestCheckCommand_ClampsDurationToMostRestrictive(t *testing.T) {
	v := NewValidator(testPolicy(), nil)
	cmd := testCommand()
	cmd.DurationMs = 25000

	res := v.CheckCommand(cmd, "user-1", "dev-1", modCtx())
	if !res.Allowed {
		t.Fatalf("expected allowed, got %q", res.Reason)
	}
	if res.Adjusted.DurationMs != 10000 {
		t.Fatalf("expected duration capped to device max 10000, got %d", res.Adjusted.DurationMs)
	}
	if !res.Adjusted.CappedDuration {
		t.Fatalf("expected CappedDuration flag")
	}
}

func TestCheckCommand_DeviceCapHoldsWhenGlobalUnset(t *testing.T) {
	p := testPolicy()
	p.GlobalLimits.MaxIntensity = 0
	p.GlobalLimits.MaxDurationMs = 0
	v := NewValidator(p, nil)

	cmd := testCommand()
	cmd.Intensity = 95
	cmd.DurationMs = 25000

	res := v.CheckCommand(cmd, "user-1", "dev-1", modCtx())
	if !res.Allowed {
		t.Fatalf("expected allowed, got %q", res.Reason)
	}
	if res.Adjusted.Intensity != 80 || !res.Adjusted.CappedIntensity {
		t.Fatalf("device intensity cap ignored with global cap unset: got %d", res.Adjusted.Intensity)
	}
	if res.Adjusted.DurationMs != 10000 || !res.Adjusted.CappedDuration {
		t.Fatalf("device duration cap ignored with global cap unset: got %d", res.Adjusted.DurationMs)
	}
}

func TestCheckCommand_ClampFloors(t *testing.T) {
	v := NewValidator(testPolicy(), nil)
	cmd := testCommand()
	cmd.Intensity = 0
	cmd.DurationMs = 10

	res := v.CheckCommand(cmd, "user-1", "dev-1", modCtx())
	if !res.Allowed {
		t.Fatalf("expected allowed, got %q", res.Reason)
	}
	if res.Adjusted.Intensity < shockstream.MinIntensity {
		t.Fatalf("intensity below floor: %d", res.Adjusted.Intensity)
	}
	if res.Adjusted.DurationMs < shockstream.FloorDurationMs {
		t.Fatalf("duration below floor: %d", res.Adjusted.DurationMs)
	}
}

func TestCheckCommand_EmergencyStopRejectsEverything(t *testing.T) {
	v := NewValidator(testPolicy(), nil)
	v.TriggerEmergencyStop("panic button")

	res := v.CheckCommand(testCommand(), "user-1", "dev-1", modCtx())
	if res.Allowed {
		t.Fatalf("expected rejection while emergency stop active")
	}

	v.ClearEmergencyStop()
	res = v.CheckCommand(testCommand(), "user-1", "dev-1", modCtx())
	if !res.Allowed {
		t.Fatalf("expected allowed after clear, got %q", res.Reason)
	}
}

func TestCheckCommand_BlacklistOverridesWhitelist(t *testing.T) {
	p := testPolicy()
	p.UserLimits.Whitelist = []string{"user-1"}
	p.UserLimits.Blacklist = []string{"user-1"}
	v := NewValidator(p, nil)

	res := v.CheckCommand(testCommand(), "user-1", "dev-1", modCtx())
	if res.Allowed {
		t.Fatalf("blacklisted user must be rejected even when whitelisted")
	}
}

func TestCheckCommand_PermissionLevel(t *testing.T) {
	p := testPolicy()
	p.UserLimits.MinPermissionLevel = LevelSubscriber
	v := NewValidator(p, nil)

	viewer := shockstream.UserContext{}
	res := v.CheckCommand(testCommand(), "user-1", "dev-1", viewer)
	if res.Allowed {
		t.Fatalf("viewer should not pass a subscriber requirement")
	}

	sub := shockstream.UserContext{IsSubscriber: true}
	res = v.CheckCommand(testCommand(), "user-1", "dev-1", sub)
	if !res.Allowed {
		t.Fatalf("subscriber should pass, got %q", res.Reason)
	}
}

func TestCheckCommand_FollowerAgeGatesFollowerRank(t *testing.T) {
	p := testPolicy()
	p.UserLimits.MinPermissionLevel = LevelFollower
	p.UserLimits.MinFollowerAgeDays = 7
	v := NewValidator(p, nil)

	young := shockstream.UserContext{IsFollower: true, FollowerAgeDays: 2}
	if res := v.CheckCommand(testCommand(), "user-1", "dev-1", young); res.Allowed {
		t.Fatalf("follower younger than minimum age should rank as viewer")
	}

	old := shockstream.UserContext{IsFollower: true, FollowerAgeDays: 30}
	if res := v.CheckCommand(testCommand(), "user-1", "dev-1", old); !res.Allowed {
		t.Fatalf("aged follower should pass, got %q", res.Reason)
	}
}

func TestCheckCommand_WhitelistSkipsUserGates(t *testing.T) {
	p := testPolicy()
	p.UserLimits.MinPermissionLevel = LevelModerator
	p.UserLimits.RequireSuperfan = true
	p.UserLimits.Whitelist = []string{"user-1"}
	v := NewValidator(p, nil)

	res := v.CheckCommand(testCommand(), "user-1", "dev-1", shockstream.UserContext{})
	if !res.Allowed {
		t.Fatalf("whitelisted user should skip permission/superfan gates, got %q", res.Reason)
	}
}

func TestCheckCommand_SuperfanRequirement(t *testing.T) {
	p := testPolicy()
	p.UserLimits.RequireSuperfan = true
	v := NewValidator(p, nil)

	res := v.CheckCommand(testCommand(), "user-1", "dev-1", modCtx())
	if res.Allowed {
		t.Fatalf("non-superfan should be rejected")
	}

	ctx := modCtx()
	ctx.IsSuperfan = true
	res = v.CheckCommand(testCommand(), "user-1", "dev-1", ctx)
	if !res.Allowed {
		t.Fatalf("superfan should pass, got %q", res.Reason)
	}
}

func TestCheckCommand_HourlyUserCap(t *testing.T) {
	p := testPolicy()
	p.UserLimits.MaxCommandsPerUserHour = 2
	v := NewValidator(p, nil)

	for i := 0; i < 2; i++ {
		v.RegisterCommand("dev-1", "user-1", testCommand())
	}
	res := v.CheckCommand(testCommand(), "user-1", "dev-1", modCtx())
	if res.Allowed {
		t.Fatalf("expected hourly cap rejection")
	}

	// A different user is unaffected.
	res = v.CheckCommand(testCommand(), "user-2", "dev-2", modCtx())
	if !res.Allowed {
		t.Fatalf("other user should pass, got %q", res.Reason)
	}
}

func TestCheckCommand_DeviceCooldownWithRemaining(t *testing.T) {
	v := NewValidator(testPolicy(), nil)
	v.RegisterCommand("dev-1", "user-1", testCommand())

	res := v.CheckCommand(testCommand(), "user-1", "dev-1", modCtx())
	if res.Allowed {
		t.Fatalf("expected cooldown rejection right after a registered command")
	}
	if res.RemainingMs < 0 || res.RemainingMs >= 5000 {
		t.Fatalf("remaining cooldown out of range: %d", res.RemainingMs)
	}
}

func TestCheckCommand_DailyDeviceCap(t *testing.T) {
	p := testPolicy()
	dl := p.DeviceLimits["dev-1"]
	dl.DailyLimit = 1
	dl.CooldownMs = 0
	p.DeviceLimits["dev-1"] = dl
	v := NewValidator(p, nil)

	v.RegisterCommand("dev-1", "user-1", testCommand())
	res := v.CheckCommand(testCommand(), "user-1", "dev-1", modCtx())
	if res.Allowed {
		t.Fatalf("expected daily limit rejection")
	}
}

func TestCheckCommand_GlobalPerMinuteCap(t *testing.T) {
	p := testPolicy()
	p.GlobalLimits.MaxCommandsPerMinute = 1
	delete(p.DeviceLimits, "dev-1")
	v := NewValidator(p, nil)

	first := v.CheckCommand(testCommand(), "user-1", "dev-1", modCtx())
	if !first.Allowed {
		t.Fatalf("first command should pass, got %q", first.Reason)
	}
	v.RegisterCommand("dev-1", "user-1", testCommand())

	second := v.CheckCommand(testCommand(), "user-2", "dev-2", modCtx())
	if second.Allowed {
		t.Fatalf("second command should hit the per-minute limit")
	}
	if second.Reason == "" {
		t.Fatalf("expected a rate-limit reason")
	}
}

func TestUpdatePolicy_PartialMerge(t *testing.T) {
	v := NewValidator(testPolicy(), nil)

	newMax := 42
	updated := v.UpdatePolicy(PolicyPatch{
		GlobalLimits: &GlobalLimitsPatch{MaxIntensity: &newMax},
	})
	if updated.GlobalLimits.MaxIntensity != 42 {
		t.Fatalf("expected merged max intensity 42, got %d", updated.GlobalLimits.MaxIntensity)
	}
	if updated.GlobalLimits.MaxDurationMs != 20000 {
		t.Fatalf("untouched global field changed: %d", updated.GlobalLimits.MaxDurationMs)
	}
	if _, ok := updated.DeviceLimits["dev-1"]; !ok {
		t.Fatalf("device limits dropped by unrelated patch")
	}
}

func TestSweep_PrunesOldCounters(t *testing.T) {
	v := NewValidator(testPolicy(), nil)

	old := time.Now().UTC().Add(-48 * time.Hour)
	v.history = []time.Time{old, old.Add(time.Hour)}
	v.daily["dev-1|2001-01-01"] = 5
	v.hourly["user-1|2001-01-01T10"] = 3
	v.RegisterCommand("dev-1", "user-1", testCommand())

	v.lock()
	v.sweepLocked(time.Now().UTC())
	v.unlock()

	if len(v.history) != 1 {
		t.Fatalf("expected only the fresh history entry, got %d", len(v.history))
	}
	if _, ok := v.daily["dev-1|2001-01-01"]; ok {
		t.Fatalf("stale daily counter survived sweep")
	}
	if _, ok := v.hourly["user-1|2001-01-01T10"]; ok {
		t.Fatalf("stale hourly counter survived sweep")
	}
}

func TestUsageStats(t *testing.T) {
	v := NewValidator(testPolicy(), nil)
	v.RegisterCommand("dev-1", "user-1", testCommand())
	v.RegisterCommand("dev-2", "user-1", testCommand())

	st := v.UsageStats()
	if st.CommandsLastMinute != 2 || st.Commands24h != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.PerDeviceToday["dev-1"] != 1 || st.PerDeviceToday["dev-2"] != 1 {
		t.Fatalf("per-device counts wrong: %+v", st.PerDeviceToday)
	}
}
