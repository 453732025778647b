package sensor_test

import (
	"testing"
	"time"

	"github.com/malbeclabs/alarmcore/internal/sensor"
	"github.com/stretchr/testify/require"
)

func TestTriggerOutsideEgressArms(t *testing.T) {
	sm := sensor.NewArmingSM()
	s := sensor.NewSensor("1", "", 60*time.Second)
	now := time.Unix(1_700_000_000, 0)

	res := sm.OnSensorTrigger(s, now, 30*time.Second)
	require.False(t, res.IsEgress)
	require.Equal(t, now.Add(60*time.Second), res.BreachCandidate)
	require.Equal(t, sensor.StateTriggered, sm.State())

	deadline, ok := sm.BreachDeadline()
	require.True(t, ok)
	require.Equal(t, now.Add(60*time.Second), deadline)
}

func TestTriggerDuringEgressDoesNotArm(t *testing.T) {
	sm := sensor.NewArmingSM()
	s := sensor.NewSensor("1", "", 60*time.Second)
	now := time.Unix(1_700_000_000, 0)

	sm.OnTempDisarmed(now)
	res := sm.OnSensorTrigger(s, now.Add(10*time.Second), 30*time.Second)
	require.True(t, res.IsEgress)
	require.True(t, res.BreachCandidate.IsZero())
	require.Equal(t, sensor.StateOK, sm.State())
}

func TestZeroDisarmDelayNeverArms(t *testing.T) {
	sm := sensor.NewArmingSM()
	s := sensor.NewSensor("1", "", 0)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		sm.OnSensorTrigger(s, now.Add(time.Duration(i)*time.Minute), 30*time.Second)
		sm.OnSensorRestore(s)
	}
	require.Equal(t, sensor.StateOK, sm.State())
	_, ok := sm.BreachDeadline()
	require.False(t, ok)
}

func TestBreachDeadlineTakesEarliest(t *testing.T) {
	sm := sensor.NewArmingSM()
	now := time.Unix(1_700_000_000, 0)
	s1 := sensor.NewSensor("1", "", 20*time.Second)
	s2 := sensor.NewSensor("2", "", 10*time.Second)

	sm.OnSensorTrigger(s1, now, 0)
	sm.OnSensorTrigger(s2, now, 0)

	deadline, ok := sm.BreachDeadline()
	require.True(t, ok)
	require.Equal(t, now.Add(10*time.Second), deadline)

	s3 := sensor.NewSensor("3", "", 5*time.Second)
	sm.OnSensorTrigger(s3, now, 0)
	deadline, ok = sm.BreachDeadline()
	require.True(t, ok)
	require.Equal(t, now.Add(5*time.Second), deadline)
}

func TestCheckBreachTransitions(t *testing.T) {
	sm := sensor.NewArmingSM()
	s := sensor.NewSensor("1", "", 10*time.Second)
	now := time.Unix(1_700_000_000, 0)

	sm.OnSensorTrigger(s, now, 0)
	require.False(t, sm.CheckBreach(now.Add(9*time.Second)))
	require.Equal(t, sensor.StateTriggered, sm.State())

	require.True(t, sm.CheckBreach(now.Add(10*time.Second)))
	require.Equal(t, sensor.StateBreach, sm.State())

	// Re-checking does not re-fire the transition (not TRIGGERED anymore).
	require.False(t, sm.CheckBreach(now.Add(20*time.Second)))
}

func TestDisarmedClearsDeadlineAndAllowsReArming(t *testing.T) {
	sm := sensor.NewArmingSM()
	s := sensor.NewSensor("1", "", 10*time.Second)
	now := time.Unix(1_700_000_000, 0)

	sm.OnSensorTrigger(s, now, 0)
	sm.OnDisarmed()
	require.Equal(t, sensor.StateOK, sm.State())
	_, ok := sm.BreachDeadline()
	require.False(t, ok)

	sm.OnSensorTrigger(s, now.Add(time.Minute), 0)
	require.Equal(t, sensor.StateTriggered, sm.State())
}
