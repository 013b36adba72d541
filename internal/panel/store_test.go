package panel

import (
	"testing"
	"time"

	"github.com/dscbridge/dsc2ws/internal/itv2"
	"github.com/dscbridge/dsc2ws/internal/log"
)

const sid = "123456789012"

func newTestStore() (*Store, *Dispatcher, *time.Time) {
	logger := log.NewLogger("error")
	store := NewStore(logger)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	store.now = func() time.Time { return *clock }
	return store, NewDispatcher(store, logger), clock
}

func TestExitDelayIdempotence(t *testing.T) {
	store, d, clock := newTestStore()

	delay := &itv2.NotificationExitDelay{Partition: 1, Active: true, Audible: true, Duration: 60}
	d.Dispatch(sid, delay)

	p, _ := store.Partition(sid, 1)
	started := p.ExitDelay.StartedAt

	// an identical announcement ten seconds later keeps the original start
	*clock = clock.Add(10 * time.Second)
	d.Dispatch(sid, delay)

	p, _ = store.Partition(sid, 1)
	if p.ExitDelay == nil {
		t.Fatal("exit delay cleared")
	}
	if !p.ExitDelay.StartedAt.Equal(started) {
		t.Errorf("StartedAt moved from %v to %v", started, p.ExitDelay.StartedAt)
	}

	// a different duration restarts the countdown
	*clock = clock.Add(5 * time.Second)
	d.Dispatch(sid, &itv2.NotificationExitDelay{Partition: 1, Active: true, Duration: 30})
	p, _ = store.Partition(sid, 1)
	if p.ExitDelay.StartedAt.Equal(started) {
		t.Error("changed duration kept the old start")
	}
	if p.ExitDelay.DurationSeconds != 30 {
		t.Errorf("duration %d", p.ExitDelay.DurationSeconds)
	}
}

func TestExitDelayInactiveClears(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.NotificationExitDelay{Partition: 1, Active: true, Duration: 60})
	d.Dispatch(sid, &itv2.NotificationExitDelay{Partition: 1, Active: false})

	p, _ := store.Partition(sid, 1)
	if p.ExitDelay != nil {
		t.Error("inactive notification did not clear the delay")
	}
}

func TestReadyStatusOverrides(t *testing.T) {
	store, d, _ := newTestStore()

	// armed with an exit delay running
	d.Dispatch(sid, &itv2.NotificationArmDisarm{Partition: 1, ArmMode: itv2.ArmModeAway})
	d.Dispatch(sid, &itv2.NotificationExitDelay{Partition: 1, Active: true, Duration: 60})

	d.Dispatch(sid, &itv2.NotificationPartitionReadyStatus{Partition: 1, Status: itv2.ReadyStatusReadyToArm})

	p, _ := store.Partition(sid, 1)
	if p.Status != StatusDisarmed {
		t.Errorf("status %v, want disarmed", p.Status)
	}
	if !p.IsReady {
		t.Error("not marked ready")
	}
	if p.ExitDelay != nil {
		t.Error("exit delay survived ready report")
	}
}

func TestReadyStatusNotReady(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.NotificationPartitionReadyStatus{Partition: 1, Status: itv2.ReadyStatusNotReady})
	p, _ := store.Partition(sid, 1)
	if p.IsReady {
		t.Error("not-ready report marked ready")
	}
	if p.Status != StatusDisarmed {
		t.Errorf("status %v", p.Status)
	}
}

func TestEffectiveStatusDuringExitDelay(t *testing.T) {
	store, d, clock := newTestStore()

	d.Dispatch(sid, &itv2.NotificationArmDisarm{Partition: 1, ArmMode: itv2.ArmModeAway})
	d.Dispatch(sid, &itv2.NotificationExitDelay{Partition: 1, Active: true, Duration: 60})

	p, _ := store.Partition(sid, 1)
	if p.Status != StatusArmedAway {
		t.Fatalf("stored status %v", p.Status)
	}
	if got := p.EffectiveStatus(*clock); got != StatusArming {
		t.Errorf("effective status during delay %v", got)
	}
	// once the countdown drains, the stored status shows through
	if got := p.EffectiveStatus(clock.Add(61 * time.Second)); got != StatusArmedAway {
		t.Errorf("effective status after delay %v", got)
	}
}

func TestArmDisarmMapping(t *testing.T) {
	tests := []struct {
		mode itv2.ArmMode
		want PartitionStatus
	}{
		{itv2.ArmModeDisarm, StatusDisarmed},
		{itv2.ArmModeAway, StatusArmedAway},
		{itv2.ArmModeStay, StatusArmedHome},
		{itv2.ArmModeStayForce, StatusArmedHome},
		{itv2.ArmModeNight, StatusArmedNight},
		{itv2.ArmModeAwayNoEntryDelay, StatusArmedAway},
		{itv2.ArmMode(99), StatusArmedAway},
	}
	for _, tt := range tests {
		store, d, _ := newTestStore()
		d.Dispatch(sid, &itv2.NotificationArmDisarm{Partition: 1, ArmMode: tt.mode})
		p, _ := store.Partition(sid, 1)
		if p.Status != tt.want {
			t.Errorf("mode %v: status %v, want %v", tt.mode, p.Status, tt.want)
		}
	}
}

func TestDisarmClearsExitDelay(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.NotificationExitDelay{Partition: 1, Active: true, Duration: 60})
	d.Dispatch(sid, &itv2.NotificationArmDisarm{Partition: 1, ArmMode: itv2.ArmModeDisarm})

	p, _ := store.Partition(sid, 1)
	if p.ExitDelay != nil {
		t.Error("disarm kept the exit delay")
	}
}

// The §8 preemption scenario: exit delay, then a ready report.
func TestExitDelayReadyPreemption(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.NotificationExitDelay{Partition: 1, Active: true, Duration: 60, Audible: true})
	d.Dispatch(sid, &itv2.NotificationPartitionReadyStatus{Partition: 1, Status: itv2.ReadyStatusReadyToArm})

	p, _ := store.Partition(sid, 1)
	if p.Status != StatusDisarmed || !p.IsReady || p.ExitDelay != nil {
		t.Errorf("final state %+v", p)
	}
}

func TestZoneLazyCreation(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.NotificationLifestyleZoneStatus{Zone: 70, Status: itv2.ZoneStatusOpen})

	z, ok := store.Zone(sid, 70)
	if !ok {
		t.Fatal("zone not created")
	}
	if !z.IsOpen {
		t.Error("zone not open")
	}
	// zone 70 banks into partition 2
	if len(z.Partitions) != 1 || z.Partitions[0] != 2 {
		t.Errorf("default partitions %v", z.Partitions)
	}
	if z.DeviceClass != "door" {
		t.Errorf("device class %q", z.DeviceClass)
	}

	d.Dispatch(sid, &itv2.NotificationLifestyleZoneStatus{Zone: 70, Status: itv2.ZoneStatusClosed})
	z, _ = store.Zone(sid, 70)
	if z.IsOpen {
		t.Error("zone still open")
	}
}

func TestDateTimeBroadcast(t *testing.T) {
	store, d, clock := newTestStore()
	panelTime := time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC)
	d.Dispatch(sid, &itv2.NotificationDateTimeBroadcast{DateTime: panelTime})

	s, ok := store.Session(sid)
	if !ok {
		t.Fatal("session state missing")
	}
	got := s.PanelDateTimeNow(clock.Add(30 * time.Second))
	if want := panelTime.Add(30 * time.Second); !got.Equal(want) {
		t.Errorf("projected clock %v, want %v", got, want)
	}
}

func TestStoreEvents(t *testing.T) {
	store, d, _ := newTestStore()
	events, cancel := store.Subscribe()
	defer cancel()

	d.Dispatch(sid, &itv2.NotificationArmDisarm{Partition: 1, ArmMode: itv2.ArmModeAway})

	select {
	case e := <-events:
		pe, ok := e.(PartitionStateChanged)
		if !ok {
			t.Fatalf("event %T", e)
		}
		if pe.Session != sid || pe.Partition.Number != 1 || pe.Partition.Status != StatusArmedAway {
			t.Errorf("event %+v", pe)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestMultipleMessageDispatch(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.MultipleMessage{Messages: []itv2.Message{
		&itv2.NotificationArmDisarm{Partition: 1, ArmMode: itv2.ArmModeAway},
		&itv2.NotificationLifestyleZoneStatus{Zone: 3, Status: itv2.ZoneStatusOpen},
	}})

	p, _ := store.Partition(sid, 1)
	if p.Status != StatusArmedAway {
		t.Errorf("partition status %v", p.Status)
	}
	z, _ := store.Zone(sid, 3)
	if !z.IsOpen {
		t.Error("zone not open")
	}
}

func TestZoneLabelsAndAssignment(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.NotificationZoneLabel{Zone: 4, Label: "Back Door\x00\x00"})
	d.Dispatch(sid, &itv2.NotificationZonePartitionAssignment{Zone: 4, Partitions: []byte{1, 3}})

	z, _ := store.Zone(sid, 4)
	if z.Name != "Back Door" {
		t.Errorf("name %q", z.Name)
	}
	if len(z.Partitions) != 2 || z.Partitions[0] != 1 || z.Partitions[1] != 3 {
		t.Errorf("partitions %v", z.Partitions)
	}
}

func TestAlarmStatus(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.NotificationAlarmStatus{Partition: 1, Zone: 9, AlarmType: itv2.AlarmBurglary})

	p, _ := store.Partition(sid, 1)
	if p.Status != StatusTriggered {
		t.Errorf("status %v", p.Status)
	}
	z, _ := store.Zone(sid, 9)
	if !z.IsOpen {
		t.Error("alarmed zone not open")
	}
}

func TestEntryDelaySetsPending(t *testing.T) {
	store, d, _ := newTestStore()
	d.Dispatch(sid, &itv2.NotificationEntryDelay{Partition: 1, Active: true, Duration: 30})
	p, _ := store.Partition(sid, 1)
	if p.Status != StatusPending {
		t.Errorf("status %v", p.Status)
	}
}

func TestPartitionOrdering(t *testing.T) {
	store, d, _ := newTestStore()
	for _, n := range []uint8{3, 1, 2} {
		d.Dispatch(sid, &itv2.NotificationPartitionReadyStatus{Partition: n, Status: itv2.ReadyStatusReadyToArm})
	}
	ps := store.Partitions(sid)
	if len(ps) != 3 {
		t.Fatalf("%d partitions", len(ps))
	}
	for i, want := range []uint8{1, 2, 3} {
		if ps[i].Number != want {
			t.Errorf("position %d holds partition %d", i, ps[i].Number)
		}
	}
}
