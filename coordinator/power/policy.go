// Package power decides whether a worker may receive work given its
// telemetry. The decision is a pure function so the dispatcher and the
// heartbeat path share one implementation and tests can cover every rule
// without fixtures.
package power

import (
	"time"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/params"
)

// Decision reasons, one per rule of the policy table.
const (
	ReasonServerUnlimited      = "server_unlimited"
	ReasonHighCPUDefer         = "high_cpu_defer"
	ReasonThermalThrottle      = "thermal_throttle"
	ReasonIOSLowPowerMode      = "ios_low_power_mode"
	ReasonIOSBatteryCritical   = "ios_battery_critical"
	ReasonIOSOnBatteryThrottle = "ios_on_battery_throttled"
	ReasonIOSOnBatteryLite     = "ios_on_battery_lite_mode"
	ReasonIOSExternalPower     = "ios_external_power"
	ReasonLaptopBatteryCrit    = "laptop_battery_critical"
	ReasonLaptopBatteryLow     = "laptop_battery_low"
	ReasonLaptopBatteryHigh    = "laptop_battery_high"
	ReasonDesktopACPower       = "desktop_ac_power"
)

// Decide maps an agent's telemetry to task-admission flags. The first
// matching rule wins; rule priority is server > load-defer > thermal >
// iOS-specific > laptop-battery > default.
func Decide(os string, t *api.PowerTelemetry, lastAssignedAtMs, nowMs int64, cfg *params.CoordinatorConfig) *api.PowerDecision {
	if cfg == nil {
		cfg = params.Coordinator()
	}
	if t == nil {
		// No telemetry yet. Treat as a desktop on AC power.
		return allowAll(ReasonDesktopACPower)
	}

	if t.DeviceClass == api.DeviceServer {
		return allowAll(ReasonServerUnlimited)
	}
	if t.CPUPercent > cfg.HighCPUThresholdPct {
		d := allowAll(ReasonHighCPUDefer)
		d.DeferMs = cfg.HighCPUDeferMs
		return d
	}
	if t.ThermalState == api.ThermalSerious || t.ThermalState == api.ThermalCritical {
		return blockAll(ReasonThermalThrottle)
	}

	if os == api.OSIOS {
		switch {
		case t.LowPowerMode:
			return blockAll(ReasonIOSLowPowerMode)
		case !t.OnExternalPower && t.BatteryLevelPct <= cfg.IOSBatteryCriticalPct:
			return blockAll(ReasonIOSBatteryCritical)
		case !t.OnExternalPower && withinCooldown(lastAssignedAtMs, nowMs, cfg.IOSAssignmentCooldown):
			return &api.PowerDecision{
				AllowCoordinatorTasks: false,
				AllowPeerDirectWork:   false,
				Reason:                ReasonIOSOnBatteryThrottle,
			}
		case !t.OnExternalPower:
			return &api.PowerDecision{
				AllowCoordinatorTasks: true,
				AllowPeerDirectWork:   false,
				Reason:                ReasonIOSOnBatteryLite,
			}
		default:
			return allowAll(ReasonIOSExternalPower)
		}
	}

	if t.DeviceClass == api.DeviceLaptop && !t.OnExternalPower {
		switch {
		case t.BatteryLevelPct < cfg.LaptopBatteryCriticalPct:
			return blockAll(ReasonLaptopBatteryCrit)
		case t.BatteryLevelPct <= cfg.LaptopBatteryLowPct:
			d := allowAll(ReasonLaptopBatteryLow)
			d.AllowSmallTasksOnly = true
			return d
		default:
			return &api.PowerDecision{
				AllowCoordinatorTasks: true,
				AllowPeerDirectWork:   false,
				Reason:                ReasonLaptopBatteryHigh,
			}
		}
	}

	return allowAll(ReasonDesktopACPower)
}

// withinCooldown reports whether the last assignment is strictly inside
// the throttle window. An assignment exactly at the window boundary is
// allowed again.
func withinCooldown(lastAssignedAtMs, nowMs int64, cooldown time.Duration) bool {
	if lastAssignedAtMs <= 0 {
		return false
	}
	return nowMs-lastAssignedAtMs < cooldown.Milliseconds()
}

func allowAll(reason string) *api.PowerDecision {
	return &api.PowerDecision{
		AllowCoordinatorTasks: true,
		AllowPeerDirectWork:   true,
		Reason:                reason,
	}
}

func blockAll(reason string) *api.PowerDecision {
	return &api.PowerDecision{Reason: reason}
}
