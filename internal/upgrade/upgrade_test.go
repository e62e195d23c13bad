package upgrade

import (
	"context"
	"database/sql"
	"testing"
)

func TestCompatibleOnlyWhenVersionsMatchAndClean(t *testing.T) {
	cases := []struct {
		name string
		s    SchemaStatus
		want bool
	}{
		{"match", SchemaStatus{CurrentVersion: RequiredSchemaVersion, RequiredVersion: RequiredSchemaVersion}, true},
		{"behind", SchemaStatus{CurrentVersion: 0, RequiredVersion: RequiredSchemaVersion}, false},
		{"ahead", SchemaStatus{CurrentVersion: RequiredSchemaVersion + 1, RequiredVersion: RequiredSchemaVersion}, false},
		{"dirty", SchemaStatus{CurrentVersion: RequiredSchemaVersion, RequiredVersion: RequiredSchemaVersion, Dirty: true}, false},
	}
	for _, tc := range cases {
		if got := tc.s.Compatible(); got != tc.want {
			t.Errorf("%s: Compatible() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRegisterDataHookRejectsDuplicateName(t *testing.T) {
	name := "test_duplicate_hook"
	noop := func(ctx context.Context, db *sql.DB, postgres bool) error { return nil }
	RegisterDataHook(99, name, noop)
	defer delete(registry, name)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate hook name")
		}
	}()
	RegisterDataHook(99, name, noop)
}

func TestOrderedHooksSortsByVersionThenName(t *testing.T) {
	names := []string{"zz_test_order_a", "aa_test_order_b", "mm_test_order_c"}
	noop := func(ctx context.Context, db *sql.DB, postgres bool) error { return nil }
	RegisterDataHook(98, names[0], noop)
	RegisterDataHook(97, names[1], noop)
	RegisterDataHook(97, names[2], noop)
	defer func() {
		for _, n := range names {
			delete(registry, n)
		}
	}()

	hooks := orderedHooks()
	pos := make(map[string]int)
	for i, h := range hooks {
		pos[h.name] = i
	}
	if !(pos["aa_test_order_b"] < pos["mm_test_order_c"] && pos["mm_test_order_c"] < pos["zz_test_order_a"]) {
		t.Fatalf("unexpected hook order: %v", pos)
	}
}
