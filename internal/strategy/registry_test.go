package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type memRepo struct {
	saved    map[string]Spec
	failSave bool
}

func newMemRepo() *memRepo { return &memRepo{saved: map[string]Spec{}} }

func (m *memRepo) FindAllService(context.Context) ([]Spec, error) {
	var out []Spec
	for _, s := range m.saved {
		if s.Status == StatusService {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRepo) FindByKey(_ context.Context, key string) (Spec, error) {
	s, ok := m.saved[key]
	if !ok {
		return Spec{}, ErrNotFound
	}
	return s, nil
}

func (m *memRepo) Save(_ context.Context, s Spec) error {
	if m.failSave {
		return errors.New("disk full")
	}
	m.saved[s.Key] = s
	return nil
}

func (m *memRepo) UpdateStatus(_ context.Context, key string, st Status) error {
	s := m.saved[key]
	s.Status = st
	m.saved[key] = s
	return nil
}

func testSpec(key, typ string) Spec {
	return Spec{
		Key:            key,
		Type:           typ,
		Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		Asset:          "USDT",
		AllocatedRatio: decimal.RequireFromString("0.5"),
		Interval:       "1m",
		MaxPositions:   1,
		Parameters: map[string]decimal.Decimal{
			ParamHammerRatio:    decimal.NewFromInt(2),
			ParamStopLossFactor: decimal.NewFromInt(1),
		},
	}
}

func TestRegistryLifecycle(t *testing.T) {
	repo := newMemRepo()
	r := NewRegistry(repo, zap.NewNop())
	ctx := context.Background()

	if _, err := r.Start(ctx, testSpec("a", "hammer")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Start(ctx, testSpec("a", "hammer")); !errors.Is(err, ErrAlreadyExist) {
		t.Fatalf("err=%v, expected ErrAlreadyExist", err)
	}
	if _, err := r.Start(ctx, testSpec("b", "hammer_min")); err != nil {
		t.Fatalf("Start b: %v", err)
	}
	if got := r.ByType("hammer"); len(got) != 1 || got[0].Key != "a" {
		t.Fatalf("ByType(hammer)=%v", got)
	}

	upd := testSpec("a", "hammer")
	upd.Symbols = []string{"SOLUSDT"}
	if _, err := r.Update(ctx, upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s, _ := r.Get("a"); !s.HasSymbol("SOLUSDT") || s.HasSymbol("BTCUSDT") {
		t.Fatalf("update not applied: %v", s.Symbols)
	}
	if _, err := r.Update(ctx, testSpec("missing", "hammer")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("failed update registered a spec")
	}

	if _, err := r.Stop(ctx, "a"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if repo.saved["a"].Status != StatusStopped {
		t.Fatalf("repository status=%s", repo.saved["a"].Status)
	}
	if _, err := r.Stop(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}

	reloaded := NewRegistry(repo, zap.NewNop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if all := reloaded.All(); len(all) != 1 || all[0].Key != "b" {
		t.Fatalf("reloaded=%v", all)
	}
}

func TestRegistryStartRollsBackOnSaveError(t *testing.T) {
	repo := newMemRepo()
	repo.failSave = true
	r := NewRegistry(repo, zap.NewNop())
	if _, err := r.Start(context.Background(), testSpec("a", "hammer")); err == nil {
		t.Fatalf("expected save error")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatalf("spec kept after failed save")
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"empty key", func(s *Spec) { s.Key = "" }},
		{"no symbols", func(s *Spec) { s.Symbols = nil }},
		{"ratio zero", func(s *Spec) { s.AllocatedRatio = decimal.Zero }},
		{"ratio above one", func(s *Spec) { s.AllocatedRatio = decimal.RequireFromString("1.01") }},
		{"bad interval", func(s *Spec) { s.Interval = "9m" }},
		{"negative factor", func(s *Spec) { s.Parameters[ParamStopLossFactor] = decimal.NewFromInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSpec("x", "hammer")
			tt.mutate(&s)
			if err := s.Validate(); !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("err=%v, expected ErrInvalidSpec", err)
			}
		})
	}
	if err := testSpec("x", "hammer").Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}
