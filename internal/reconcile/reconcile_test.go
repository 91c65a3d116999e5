package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"shipwatch/internal/model"
)

func rec(dest, product, date, status string) model.Record {
	return model.Record{Destination: dest, Product: product, Date: model.MustDate(date), Status: status}
}

func opts(mode model.MergeMode) Options {
	return Options{
		Schema:        model.KeySchemaV1,
		Mode:          mode,
		RetentionDays: 7,
		Today:         model.MustDate("2024-01-10"),
	}
}

func TestReconcile_StatusChange(t *testing.T) {
	prev := model.GoldenRecord{rec("D1", "P1", "2024-01-05", "PROGRAMADO")}
	in := []model.Record{rec("D1", "P1", "2024-01-05", "FACTURADO")}

	res := Reconcile(prev, in, opts(model.MergeCumulative))
	if len(res.Events) != 1 {
		t.Fatalf("want 1 event, got %d", len(res.Events))
	}
	ev := res.Events[0]
	if ev.PreviousStatus == nil || *ev.PreviousStatus != "PROGRAMADO" || ev.NewStatus != "FACTURADO" || ev.Destination != "D1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if diff := cmp.Diff(model.GoldenRecord(in), res.Next); diff != "" {
		t.Fatalf("next state mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_ScenarioWithoutRetention(t *testing.T) {
	prev := model.GoldenRecord{rec("D1", "P1", "2024-01-01", "PROGRAMADO")}
	in := []model.Record{rec("D1", "P1", "2024-01-01", "FACTURADO")}
	o := opts(model.MergeCumulative)
	o.RetentionDays = -1

	res := Reconcile(prev, in, o)
	if len(res.Events) != 1 || *res.Events[0].PreviousStatus != "PROGRAMADO" {
		t.Fatalf("unexpected events: %+v", res.Events)
	}
	if len(res.Next) != 1 || res.Next[0].Status != "FACTURADO" {
		t.Fatalf("unexpected next: %+v", res.Next)
	}
}

func TestReconcile_RetentionEvictsOnlyTerminal(t *testing.T) {
	in := []model.Record{
		rec("D1", "P1", "2024-01-01", "CANCELADO"),
		rec("D2", "P1", "2024-01-01", "PROGRAMADO"),
		rec("D3", "P1", "2024-01-03", "FACTURADO"), // exactly 7 days old: kept
	}
	res := Reconcile(nil, in, opts(model.MergeCumulative))
	if res.Stats.Evicted != 1 {
		t.Fatalf("want 1 evicted, got %d", res.Stats.Evicted)
	}
	for _, r := range res.Next {
		if r.Destination == "D1" {
			t.Fatalf("terminal record older than horizon retained")
		}
	}
	if len(res.Next) != 2 {
		t.Fatalf("want 2 retained, got %+v", res.Next)
	}
}

func TestReconcile_ExpiredOnArrivalIsSilent(t *testing.T) {
	in := []model.Record{
		rec("D1", "P1", "2024-01-01", "CANCELADO"),
		rec("D2", "P1", "2024-01-01", "PROGRAMADO"),
	}
	for i := 0; i < 2; i++ {
		res := Reconcile(nil, in, opts(model.MergeCumulative))
		if len(res.Events) != 1 || res.Events[0].Destination != "D2" || res.Stats.FirstSeen != 1 || res.Stats.Evicted != 1 {
			t.Fatalf("run %d: unexpected %+v", i, res)
		}
	}

	// a stored record that turns terminal past the horizon is still a change
	prev := model.GoldenRecord{rec("D1", "P1", "2024-01-01", "PROGRAMADO")}
	res := Reconcile(prev, in[:1], opts(model.MergeCumulative))
	if len(res.Events) != 1 || res.Events[0].FirstSeen() || len(res.Next) != 0 {
		t.Fatalf("unexpected: %+v", res)
	}
}

func TestReconcile_FirstRunEmitsFirstSeenOnly(t *testing.T) {
	in := []model.Record{
		rec("D1", "P1", "2024-01-09", "PROGRAMADO"),
		rec("D2", "P1", "2024-01-09", "CARGANDO"),
	}
	res := Reconcile(nil, in, opts(model.MergeCumulative))
	if len(res.Events) != 2 || res.Stats.FirstSeen != 2 {
		t.Fatalf("unexpected: %+v", res)
	}
	for _, ev := range res.Events {
		if !ev.FirstSeen() {
			t.Fatalf("event should be first-seen: %+v", ev)
		}
	}
}

func TestReconcile_DedupLastWinsFirstPosition(t *testing.T) {
	in := []model.Record{
		rec("D1", "P1", "2024-01-09", "PROGRAMADO"),
		rec("D2", "P1", "2024-01-09", "PROGRAMADO"),
		rec("d1 ", "p1", "2024-01-09", "CARGANDO"),
	}
	res := Reconcile(nil, in, opts(model.MergeCumulative))
	if res.Stats.Duplicates != 1 || len(res.Next) != 2 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
	if res.Events[0].Key != "D1#P1#2024-01-09" || res.Events[0].NewStatus != "CARGANDO" {
		t.Fatalf("dedup should keep first position with last value: %+v", res.Events[0])
	}
}

func TestReconcile_EmptyIncoming(t *testing.T) {
	prev := model.GoldenRecord{rec("D1", "P1", "2024-01-09", "PROGRAMADO")}

	cum := Reconcile(prev, nil, opts(model.MergeCumulative))
	if len(cum.Events) != 0 || len(cum.Next) != 1 {
		t.Fatalf("cumulative: %+v", cum)
	}
	rep := Reconcile(prev, nil, opts(model.MergeReplace))
	if len(rep.Events) != 0 || len(rep.Next) != 0 {
		t.Fatalf("replace: %+v", rep)
	}
}

func TestReconcile_CarriesForwardInCumulative(t *testing.T) {
	prev := model.GoldenRecord{
		rec("D1", "P1", "2024-01-09", "PROGRAMADO"),
		rec("D2", "P1", "2024-01-09", "CARGANDO"),
	}
	in := []model.Record{rec("D2", "P1", "2024-01-09", "CARGANDO")}
	res := Reconcile(prev, in, opts(model.MergeCumulative))
	if res.Stats.CarriedForward != 1 || len(res.Next) != 2 || len(res.Events) != 0 {
		t.Fatalf("unexpected: %+v", res)
	}
}

func TestReconcile_UnkeyedRecordsSkipped(t *testing.T) {
	in := []model.Record{{Destination: "D1", Product: "P1", Status: "PROGRAMADO"}}
	res := Reconcile(nil, in, opts(model.MergeCumulative))
	if res.Stats.Unkeyed != 1 || len(res.Next) != 0 || len(res.Events) != 0 {
		t.Fatalf("unexpected: %+v", res)
	}
}

var (
	genDest   = rapid.SampledFrom([]string{"D1", "D2", "D3-NORTE", "D4"})
	genProd   = rapid.SampledFrom([]string{"MAGNA", "PREMIUM", "DIESEL"})
	genDate   = rapid.SampledFrom([]string{"2023-12-01", "2024-01-01", "2024-01-08", "2024-01-10"})
	genStatus = rapid.SampledFrom([]string{"PROGRAMADO", "CARGANDO", "FACTURADO", "CANCELADO", "EN RUTA"})
	genRecord = rapid.Custom(func(t *rapid.T) model.Record {
		return rec(genDest.Draw(t, "dest"), genProd.Draw(t, "prod"), genDate.Draw(t, "date"), genStatus.Draw(t, "status"))
	})
	genSnapshot = rapid.SliceOfN(genRecord, 0, 40)
)

func TestProperty_FirstRunMatchesDedup(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := genSnapshot.Draw(t, "incoming")
		o := opts(model.MergeCumulative)
		o.RetentionDays = -1
		res := Reconcile(nil, in, o)
		if len(res.Events) != res.Stats.Unique || len(res.Next) != res.Stats.Unique {
			t.Fatalf("events=%d next=%d unique=%d", len(res.Events), len(res.Next), res.Stats.Unique)
		}
		for _, ev := range res.Events {
			if !ev.FirstSeen() {
				t.Fatalf("first run produced a status change: %+v", ev)
			}
		}
	})
}

func TestProperty_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := genSnapshot.Draw(t, "incoming")
		mode := rapid.SampledFrom([]model.MergeMode{model.MergeCumulative, model.MergeReplace}).Draw(t, "mode")
		first := Reconcile(nil, in, opts(mode))
		second := Reconcile(first.Next, in, opts(mode))
		if len(second.Events) != 0 {
			t.Fatalf("second run produced %d events: %+v", len(second.Events), second.Events)
		}
		o := opts(mode)
		o.RetentionDays = -1
		a := Reconcile(nil, in, o)
		b := Reconcile(a.Next, in, o)
		if len(b.Events) != 0 {
			t.Fatalf("second run without retention produced %d events", len(b.Events))
		}
	})
}

func TestProperty_ReplaceHasNoCarryForward(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prev := genSnapshot.Draw(t, "previous")
		in := genSnapshot.Draw(t, "incoming")
		res := Reconcile(prev, in, opts(model.MergeReplace))
		keys := make(map[model.Key]bool)
		for _, r := range in {
			k, _ := model.KeySchemaV1.KeyOf(r)
			keys[k] = true
		}
		for _, r := range res.Next {
			k, _ := model.KeySchemaV1.KeyOf(r)
			if !keys[k] {
				t.Fatalf("replace mode carried forward %s", k)
			}
		}
	})
}

func TestProperty_InvariantsHold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prev := Reconcile(nil, genSnapshot.Draw(t, "previous"), opts(model.MergeCumulative)).Next
		in := genSnapshot.Draw(t, "incoming")
		o := opts(model.MergeCumulative)
		res := Reconcile(prev, in, o)

		seen := make(map[model.Key]bool)
		for _, r := range res.Next {
			k, _ := o.Schema.KeyOf(r)
			if seen[k] {
				t.Fatalf("duplicate key in next state: %s", k)
			}
			seen[k] = true
			if model.IsTerminal(r.Status) && r.Date.DaysUntil(o.Today) > o.RetentionDays {
				t.Fatalf("expired terminal record retained: %+v", r)
			}
		}
		for _, ev := range res.Events {
			if ev.PreviousStatus != nil && *ev.PreviousStatus == ev.NewStatus {
				t.Fatalf("event without change: %+v", ev)
			}
		}
		again := Reconcile(prev, in, o)
		if diff := cmp.Diff(res, again); diff != "" {
			t.Fatalf("non-deterministic result:\n%s", diff)
		}
	})
}
