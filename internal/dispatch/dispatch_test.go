package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"shipwatch/internal/metrics"
	"shipwatch/internal/model"
	"shipwatch/internal/push"
	"shipwatch/internal/registry"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  []push.Notification
	fail  map[string]bool
	block map[string]bool
}

func (f *fakeTransport) Send(ctx context.Context, n push.Notification) (string, error) {
	if f.block[n.Target] {
		<-make(chan struct{}) // ignores ctx on purpose
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[n.Target] {
		return "", errors.New("provider down")
	}
	f.sent = append(f.sent, n)
	return "id-" + n.Target, nil
}

type errRegistry struct{ registry.Registry }

func (errRegistry) Resolve(context.Context, string) (string, bool, error) {
	return "", false, errors.New("redis unavailable")
}

func strp(s string) *string { return &s }

func change(dest, prev, next string) model.ChangeEvent {
	return model.ChangeEvent{Key: model.Key(dest + "#P1#2024-01-01"), Destination: dest, PreviousStatus: strp(prev), NewStatus: next}
}

func TestDispatch_UnresolvedIsNotAnError(t *testing.T) {
	d := New(registry.NewMemoryRegistry(), &fakeTransport{}, Options{}, zerolog.Nop(), nil)
	sum := d.Dispatch(context.Background(), []model.ChangeEvent{change("D1", "PROGRAMADO", "FACTURADO")})
	if sum != (Summary{Total: 1, Unresolved: 1}) {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestDispatch_FailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	_ = reg.Upsert(ctx, "A", "target-a")
	_ = reg.Upsert(ctx, "B", "target-b")
	tr := &fakeTransport{fail: map[string]bool{"target-a": true}}
	m := metrics.NewRegistry()

	d := New(reg, tr, Options{Workers: 1}, zerolog.Nop(), m)
	sum := d.Dispatch(ctx, []model.ChangeEvent{
		change("A-1", "PROGRAMADO", "CARGANDO"),
		change("B-2", "CARGANDO", "FACTURADO"),
	})
	if sum.Sent != 1 || sum.Failed != 1 || sum.Total != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(tr.sent) != 1 || tr.sent[0].Target != "target-b" {
		t.Fatalf("B not delivered: %+v", tr.sent)
	}
	if tr.sent[0].Title != "Actualización en Destino: B-2" || tr.sent[0].Body != "Estado cambió de 'CARGANDO' a 'FACTURADO'" {
		t.Fatalf("unexpected message: %+v", tr.sent[0])
	}
}

func TestDispatch_TimeoutCountsAsFailed(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	_ = reg.Upsert(ctx, "SLOW", "slow")
	_ = reg.Upsert(ctx, "FAST", "fast")
	tr := &fakeTransport{block: map[string]bool{"slow": true}}

	d := New(reg, tr, Options{Workers: 2, Timeout: 50 * time.Millisecond}, zerolog.Nop(), nil)
	start := time.Now()
	sum := d.Dispatch(ctx, []model.ChangeEvent{change("SLOW", "A", "B"), change("FAST", "A", "B")})
	if time.Since(start) > 5*time.Second {
		t.Fatalf("dispatch stalled on a hung transport")
	}
	if sum.Sent != 1 || sum.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestDispatch_RegistryErrorIsFailure(t *testing.T) {
	d := New(errRegistry{}, &fakeTransport{}, Options{}, zerolog.Nop(), nil)
	sum := d.Dispatch(context.Background(), []model.ChangeEvent{change("D1", "A", "B")})
	if sum.Failed != 1 || sum.Unresolved != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestDispatch_FirstSeenPolicy(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	_ = reg.Upsert(ctx, "D1", "t1")
	first := model.ChangeEvent{Key: "D1#P1#2024-01-01", Destination: "D1", NewStatus: "PROGRAMADO"}

	tr := &fakeTransport{}
	sum := New(reg, tr, Options{}, zerolog.Nop(), nil).Dispatch(ctx, []model.ChangeEvent{first})
	if sum.Skipped != 1 || sum.Sent != 0 || len(tr.sent) != 0 {
		t.Fatalf("first-seen should be skipped by default: %+v", sum)
	}

	sum = New(reg, tr, Options{NotifyOnFirstSeen: true}, zerolog.Nop(), nil).Dispatch(ctx, []model.ChangeEvent{first})
	if sum.Sent != 1 || tr.sent[0].Body != "Nuevo registro con estado 'PROGRAMADO'" {
		t.Fatalf("first-seen should be sent when enabled: %+v %+v", sum, tr.sent)
	}
}

func TestDispatch_ManyEventsAllCounted(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	_ = reg.Upsert(ctx, "D", "t")
	var events []model.ChangeEvent
	for i := 0; i < 100; i++ {
		events = append(events, change("D-x", "A", "B"))
	}
	sum := New(reg, &fakeTransport{}, Options{Workers: 4}, zerolog.Nop(), nil).Dispatch(ctx, events)
	if sum.Sent != 100 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
