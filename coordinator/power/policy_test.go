package power_test

import (
	"testing"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/power"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/testutil/assert"
)

const nowMs = int64(1_700_000_000_000)

func decide(t *testing.T, os string, tel *api.PowerTelemetry, lastAssigned int64) *api.PowerDecision {
	t.Helper()
	return power.Decide(os, tel, lastAssigned, nowMs, params.DefaultCoordinatorConfig())
}

func TestDecide_ServerAlwaysUnlimited(t *testing.T) {
	d := decide(t, api.OSLinux, &api.PowerTelemetry{
		DeviceClass:  api.DeviceServer,
		ThermalState: api.ThermalCritical,
		CPUPercent:   99,
	}, 0)
	assert.Equal(t, power.ReasonServerUnlimited, d.Reason)
	assert.Equal(t, true, d.AllowCoordinatorTasks)
	assert.Equal(t, true, d.AllowPeerDirectWork)
}

func TestDecide_HighCPUBoundary(t *testing.T) {
	at85 := decide(t, api.OSLinux, &api.PowerTelemetry{DeviceClass: api.DeviceDesktop, CPUPercent: 85}, 0)
	assert.Equal(t, power.ReasonDesktopACPower, at85.Reason)
	assert.Equal(t, int64(0), at85.DeferMs)

	at86 := decide(t, api.OSLinux, &api.PowerTelemetry{DeviceClass: api.DeviceDesktop, CPUPercent: 86}, 0)
	assert.Equal(t, power.ReasonHighCPUDefer, at86.Reason)
	assert.Equal(t, true, at86.AllowCoordinatorTasks)
	assert.Equal(t, int64(5000), at86.DeferMs)
}

func TestDecide_ThermalThrottle(t *testing.T) {
	for _, state := range []string{api.ThermalSerious, api.ThermalCritical} {
		d := decide(t, api.OSMacOS, &api.PowerTelemetry{DeviceClass: api.DeviceDesktop, ThermalState: state}, 0)
		assert.Equal(t, power.ReasonThermalThrottle, d.Reason)
		assert.Equal(t, false, d.AllowCoordinatorTasks)
		assert.Equal(t, false, d.AllowPeerDirectWork)
	}
	d := decide(t, api.OSMacOS, &api.PowerTelemetry{DeviceClass: api.DeviceDesktop, ThermalState: api.ThermalFair}, 0)
	assert.Equal(t, power.ReasonDesktopACPower, d.Reason)
}

func TestDecide_IOSLowPowerMode(t *testing.T) {
	d := decide(t, api.OSIOS, &api.PowerTelemetry{
		DeviceClass:     api.DevicePhone,
		OnExternalPower: true,
		LowPowerMode:    true,
	}, 0)
	assert.Equal(t, power.ReasonIOSLowPowerMode, d.Reason)
	assert.Equal(t, false, d.AllowCoordinatorTasks)
}

func TestDecide_IOSBatteryBoundary(t *testing.T) {
	at20 := decide(t, api.OSIOS, &api.PowerTelemetry{DeviceClass: api.DevicePhone, BatteryLevelPct: 20}, 0)
	assert.Equal(t, power.ReasonIOSBatteryCritical, at20.Reason)

	at21 := decide(t, api.OSIOS, &api.PowerTelemetry{DeviceClass: api.DevicePhone, BatteryLevelPct: 21}, 0)
	assert.Equal(t, power.ReasonIOSOnBatteryLite, at21.Reason)
	assert.Equal(t, true, at21.AllowCoordinatorTasks)
	assert.Equal(t, false, at21.AllowPeerDirectWork)
}

func TestDecide_IOSAssignmentCooldown(t *testing.T) {
	tel := &api.PowerTelemetry{DeviceClass: api.DevicePhone, BatteryLevelPct: 65}

	// 30s after the last assignment coordinator tasks are throttled.
	throttled := decide(t, api.OSIOS, tel, nowMs-30_000)
	assert.Equal(t, power.ReasonIOSOnBatteryThrottle, throttled.Reason)
	assert.Equal(t, false, throttled.AllowCoordinatorTasks)

	// At exactly the 45s boundary the cooldown has elapsed.
	boundary := decide(t, api.OSIOS, tel, nowMs-45_000)
	assert.Equal(t, power.ReasonIOSOnBatteryLite, boundary.Reason)

	after := decide(t, api.OSIOS, tel, nowMs-46_000)
	assert.Equal(t, power.ReasonIOSOnBatteryLite, after.Reason)
	assert.Equal(t, true, after.AllowCoordinatorTasks)
	assert.Equal(t, false, after.AllowPeerDirectWork)
}

func TestDecide_IOSExternalPower(t *testing.T) {
	d := decide(t, api.OSIOS, &api.PowerTelemetry{
		DeviceClass:     api.DevicePhone,
		OnExternalPower: true,
		BatteryLevelPct: 5,
	}, nowMs-1_000)
	assert.Equal(t, power.ReasonIOSExternalPower, d.Reason)
	assert.Equal(t, true, d.AllowPeerDirectWork)
}

func TestDecide_LaptopBatteryTiers(t *testing.T) {
	tel := func(pct float64) *api.PowerTelemetry {
		return &api.PowerTelemetry{DeviceClass: api.DeviceLaptop, BatteryLevelPct: pct}
	}

	crit := decide(t, api.OSMacOS, tel(14), 0)
	assert.Equal(t, power.ReasonLaptopBatteryCrit, crit.Reason)
	assert.Equal(t, false, crit.AllowCoordinatorTasks)

	low := decide(t, api.OSMacOS, tel(15), 0)
	assert.Equal(t, power.ReasonLaptopBatteryLow, low.Reason)
	assert.Equal(t, true, low.AllowSmallTasksOnly)

	mid := decide(t, api.OSMacOS, tel(40), 0)
	assert.Equal(t, power.ReasonLaptopBatteryLow, mid.Reason)

	high := decide(t, api.OSMacOS, tel(41), 0)
	assert.Equal(t, power.ReasonLaptopBatteryHigh, high.Reason)
	assert.Equal(t, true, high.AllowCoordinatorTasks)
	assert.Equal(t, false, high.AllowPeerDirectWork)
}

func TestDecide_LaptopOnACIsDefault(t *testing.T) {
	d := decide(t, api.OSWindows, &api.PowerTelemetry{
		DeviceClass:     api.DeviceLaptop,
		OnExternalPower: true,
		BatteryLevelPct: 10,
	}, 0)
	assert.Equal(t, power.ReasonDesktopACPower, d.Reason)
}

func TestDecide_NoTelemetryDefaultsToAllow(t *testing.T) {
	d := decide(t, api.OSLinux, nil, 0)
	assert.Equal(t, power.ReasonDesktopACPower, d.Reason)
	assert.Equal(t, true, d.AllowCoordinatorTasks)
}
