package handler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/cloud"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/event"
)

type fakeTagStore struct {
	fleetTags map[string]string // fleet -> pattern tag value
	getErr    error
	setErr    error

	mu           sync.Mutex
	instanceTags map[string]string // "id/key" -> value
}

func (f *fakeTagStore) GetTag(_ context.Context, resourceID, key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	value, ok := f.fleetTags[resourceID]
	return value, ok, nil
}

func (f *fakeTagStore) SetTag(_ context.Context, resourceID, key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.instanceTags == nil {
		f.instanceTags = make(map[string]string)
	}
	f.instanceTags[resourceID+"/"+key] = value
	return nil
}

type fakeInventory struct {
	private map[string]string
	public  map[string]string
}

func (f *fakeInventory) Address(_ context.Context, instanceID string, public bool) (string, error) {
	if _, known := f.private[instanceID]; !known {
		return "", cloud.ErrInstanceNotFound
	}
	addrs := f.private
	if public {
		addrs = f.public
	}
	addr, ok := addrs[instanceID]
	if !ok {
		return "", cloud.ErrNoAddress
	}
	return addr, nil
}

// fakeZone is an in-memory DNS backend keyed by zone+fqdn.
type fakeZone struct {
	mu        sync.Mutex
	records   map[string]string // "zone/fqdn" -> value
	upsertErr error
	calls     int
	mutations int
}

func newFakeZone() *fakeZone {
	return &fakeZone{records: make(map[string]string)}
}

func (f *fakeZone) Upsert(_ context.Context, zoneID string, record dns.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mutations++
	f.records[zoneID+"/"+record.FQDN] = record.Value
	return nil
}

func (f *fakeZone) ResolveExisting(_ context.Context, zoneID, fqdn string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	value, ok := f.records[zoneID+"/"+fqdn]
	if !ok {
		return "", dns.ErrNotFound
	}
	return value, nil
}

func (f *fakeZone) Delete(_ context.Context, zoneID, fqdn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.mutations++
	delete(f.records, zoneID+"/"+fqdn)
	return nil
}

type fakeCompleter struct {
	err      error
	mu       sync.Mutex
	verdicts []event.Verdict
}

func (f *fakeCompleter) Complete(_ context.Context, _ event.LifecycleEvent, verdict event.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts = append(f.verdicts, verdict)
	return f.err
}

func launchEvent() event.LifecycleEvent {
	return event.LifecycleEvent{
		Fleet:       "web-fleet",
		InstanceID:  "i-abc",
		Transition:  event.TransitionLaunching,
		HookName:    "launch-hook",
		ActionToken: "token-1",
	}
}

func terminateEvent() event.LifecycleEvent {
	ev := launchEvent()
	ev.Transition = event.TransitionTerminating
	return ev
}

func newHandler(tags *fakeTagStore, inv *fakeInventory, zone *fakeZone, completer *fakeCompleter) *Handler {
	return &Handler{
		Log:       logr.Discard(),
		Tags:      tags,
		Inventory: inv,
		DNS:       zone,
		Completer: completer,
	}
}

func TestHandle_Launch(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{"web-fleet": "web-#instanceid.example.com@Z123"}}
	inv := &fakeInventory{private: map[string]string{"i-abc": "10.0.0.5"}}
	zone := newFakeZone()
	completer := &fakeCompleter{}
	h := newHandler(tags, inv, zone, completer)

	verdict, err := h.Handle(context.Background(), launchEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != event.VerdictContinue {
		t.Fatalf("expected CONTINUE, got %s", verdict)
	}
	if got := zone.records["Z123/web-i-abc.example.com"]; got != "10.0.0.5" {
		t.Errorf("expected record 'web-i-abc.example.com' -> '10.0.0.5' in Z123, got %q", got)
	}
	if got := tags.instanceTags["i-abc/Name"]; got != "web-i-abc" {
		t.Errorf("expected instance Name tag 'web-i-abc', got %q", got)
	}
	if len(completer.verdicts) != 1 || completer.verdicts[0] != event.VerdictContinue {
		t.Errorf("expected one CONTINUE completion, got %v", completer.verdicts)
	}
}

func TestHandle_Terminate(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{"web-fleet": "web-#instanceid.example.com@Z123"}}
	zone := newFakeZone()
	zone.records["Z123/web-i-abc.example.com"] = "10.0.0.5"
	completer := &fakeCompleter{}
	h := newHandler(tags, &fakeInventory{}, zone, completer)

	verdict, err := h.Handle(context.Background(), terminateEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != event.VerdictContinue {
		t.Fatalf("expected CONTINUE, got %s", verdict)
	}
	if _, exists := zone.records["Z123/web-i-abc.example.com"]; exists {
		t.Error("expected record to be deleted")
	}
}

func TestHandle_Terminate_RecordAlreadyAbsent(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{"web-fleet": "web-#instanceid.example.com@Z123"}}
	zone := newFakeZone()
	completer := &fakeCompleter{}
	h := newHandler(tags, &fakeInventory{}, zone, completer)

	verdict, err := h.Handle(context.Background(), terminateEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != event.VerdictContinue {
		t.Fatalf("expected CONTINUE for absent record, got %s", verdict)
	}
	if zone.mutations != 0 {
		t.Errorf("expected no mutations, got %d", zone.mutations)
	}
}

func TestHandle_NoPatternTag(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{}}
	zone := newFakeZone()
	completer := &fakeCompleter{}
	h := newHandler(tags, &fakeInventory{}, zone, completer)

	verdict, err := h.Handle(context.Background(), launchEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != event.VerdictContinue {
		t.Fatalf("expected CONTINUE for opted-out fleet, got %s", verdict)
	}
	if zone.calls != 0 {
		t.Errorf("expected zero DNS calls, got %d", zone.calls)
	}
}

func TestHandle_TagFetchFails(t *testing.T) {
	tags := &fakeTagStore{getErr: errors.New("tag store unavailable")}
	zone := newFakeZone()
	completer := &fakeCompleter{}
	h := newHandler(tags, &fakeInventory{}, zone, completer)

	verdict, err := h.Handle(context.Background(), launchEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != event.VerdictAbandon {
		t.Fatalf("expected ABANDON, got %s", verdict)
	}
	if zone.calls != 0 {
		t.Errorf("expected zero DNS calls, got %d", zone.calls)
	}
	if len(completer.verdicts) != 1 || completer.verdicts[0] != event.VerdictAbandon {
		t.Errorf("expected one ABANDON completion, got %v", completer.verdicts)
	}
}

func TestHandle_MalformedPattern(t *testing.T) {
	patterns := []string{"no-separator.example.com", "@Z123", "web.example.com@"}
	for _, pattern := range patterns {
		t.Run(pattern, func(t *testing.T) {
			tags := &fakeTagStore{fleetTags: map[string]string{"web-fleet": pattern}}
			zone := newFakeZone()
			completer := &fakeCompleter{}
			h := newHandler(tags, &fakeInventory{}, zone, completer)

			verdict, err := h.Handle(context.Background(), launchEvent())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if verdict != event.VerdictAbandon {
				t.Fatalf("expected ABANDON, got %s", verdict)
			}
			if zone.mutations != 0 {
				t.Errorf("expected zero DNS mutations, got %d", zone.mutations)
			}
		})
	}
}

func TestHandle_AddressResolutionFails(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{"web-fleet": "web-#instanceid.example.com@Z123"}}
	zone := newFakeZone()
	completer := &fakeCompleter{}
	h := newHandler(tags, &fakeInventory{}, zone, completer)

	verdict, err := h.Handle(context.Background(), launchEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != event.VerdictAbandon {
		t.Fatalf("expected ABANDON, got %s", verdict)
	}
	if zone.mutations != 0 {
		t.Errorf("expected zero DNS mutations, got %d", zone.mutations)
	}
	if len(completer.verdicts) != 1 || completer.verdicts[0] != event.VerdictAbandon {
		t.Errorf("expected one ABANDON completion, got %v", completer.verdicts)
	}
}

func TestHandle_UpsertFails(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{"web-fleet": "web-#instanceid.example.com@Z123"}}
	inv := &fakeInventory{private: map[string]string{"i-abc": "10.0.0.5"}}
	zone := newFakeZone()
	zone.upsertErr = dns.ErrZoneNotFound
	completer := &fakeCompleter{}
	h := newHandler(tags, inv, zone, completer)

	verdict, err := h.Handle(context.Background(), launchEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != event.VerdictAbandon {
		t.Fatalf("expected ABANDON, got %s", verdict)
	}
}

func TestHandle_TagWriteFailure(t *testing.T) {
	tests := []struct {
		name    string
		fatal   bool
		verdict event.Verdict
	}{
		{"logged by default", false, event.VerdictContinue},
		{"escalated when configured", true, event.VerdictAbandon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := &fakeTagStore{
				fleetTags: map[string]string{"web-fleet": "web-#instanceid.example.com@Z123"},
				setErr:    errors.New("tagging denied"),
			}
			inv := &fakeInventory{private: map[string]string{"i-abc": "10.0.0.5"}}
			zone := newFakeZone()
			completer := &fakeCompleter{}
			h := newHandler(tags, inv, zone, completer)
			h.Opts.TagWriteFatal = tt.fatal

			verdict, err := h.Handle(context.Background(), launchEvent())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if verdict != tt.verdict {
				t.Fatalf("expected %s, got %s", tt.verdict, verdict)
			}
			// The record mutation precedes tagging and stands either way.
			if got := zone.records["Z123/web-i-abc.example.com"]; got != "10.0.0.5" {
				t.Errorf("expected record to exist, got %q", got)
			}
		})
	}
}

func TestHandle_PublicAddress(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{"web-fleet": "web-#instanceid.example.com@Z123"}}
	inv := &fakeInventory{
		private: map[string]string{"i-abc": "10.0.0.5"},
		public:  map[string]string{"i-abc": "54.0.0.5"},
	}
	zone := newFakeZone()
	completer := &fakeCompleter{}
	h := newHandler(tags, inv, zone, completer)
	h.Opts.UsePublicIP = true

	if _, err := h.Handle(context.Background(), launchEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := zone.records["Z123/web-i-abc.example.com"]; got != "54.0.0.5" {
		t.Errorf("expected public address in record, got %q", got)
	}
}

func TestHandle_CompletionTokenExpired(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{}}
	completer := &fakeCompleter{err: cloud.ErrTokenExpired}
	h := newHandler(tags, &fakeInventory{}, newFakeZone(), completer)

	verdict, err := h.Handle(context.Background(), launchEvent())
	if err != nil {
		t.Fatalf("expected expired token to be tolerated, got %v", err)
	}
	if verdict != event.VerdictContinue {
		t.Fatalf("expected CONTINUE, got %s", verdict)
	}
}

func TestHandle_CompletionFails(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{}}
	completer := &fakeCompleter{err: errors.New("scaling service unavailable")}
	h := newHandler(tags, &fakeInventory{}, newFakeZone(), completer)

	if _, err := h.Handle(context.Background(), launchEvent()); err == nil {
		t.Fatal("expected error when verdict cannot be reported")
	}
}

// Re-delivering the same launch event must leave the zone and tags in the
// same state as the first delivery.
func TestHandle_LaunchRedelivery(t *testing.T) {
	tags := &fakeTagStore{fleetTags: map[string]string{"web-fleet": "web-#instanceid.example.com@Z123"}}
	inv := &fakeInventory{private: map[string]string{"i-abc": "10.0.0.5"}}
	zone := newFakeZone()
	completer := &fakeCompleter{}
	h := newHandler(tags, inv, zone, completer)

	for i := 0; i < 2; i++ {
		if _, err := h.Handle(context.Background(), launchEvent()); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
	}
	if len(zone.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(zone.records))
	}
	if got := zone.records["Z123/web-i-abc.example.com"]; got != "10.0.0.5" {
		t.Errorf("expected stable record value, got %q", got)
	}
}
