package deployer

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewRunState(t *testing.T) {
	plan := buildPlan(t, tokenDeploy("a"), tokenDeploy("b"))
	rs := newRunState(plan)

	for _, f := range plan.Futures() {
		if rs.state(f) != Pending {
			t.Errorf("Expected %s to start Pending, got %s", f.Name(), rs.state(f))
		}
		if _, ok := rs.value(f); ok {
			t.Errorf("Expected no value for %s", f.Name())
		}
	}
}

func TestRunStateTransitions(t *testing.T) {
	plan := buildPlan(t, tokenDeploy("a"))
	f, _ := plan.Future("a")

	t.Run("submitted then confirmed", func(t *testing.T) {
		rs := newRunState(plan)
		hash := common.HexToHash("0xabc")
		rs.submitted(f, hash)
		if rs.state(f) != Submitted {
			t.Errorf("Expected Submitted, got %s", rs.state(f))
		}
		if rs.txHash(f) != hash {
			t.Errorf("Expected tx %s, got %s", hash, rs.txHash(f))
		}
		rs.confirm(f, AddressValue(addrB))
		if rs.state(f) != Confirmed {
			t.Errorf("Expected Confirmed, got %s", rs.state(f))
		}
	})

	t.Run("confirmed is terminal", func(t *testing.T) {
		rs := newRunState(plan)
		rs.confirm(f, UnitValue())
		rs.transition(f, Failed)
		if rs.state(f) != Confirmed {
			t.Errorf("Expected Confirmed to be terminal, got %s", rs.state(f))
		}
	})

	t.Run("failed is terminal", func(t *testing.T) {
		rs := newRunState(plan)
		rs.transition(f, Failed)
		rs.transition(f, Unknown)
		if rs.state(f) != Failed {
			t.Errorf("Expected Failed to be terminal, got %s", rs.state(f))
		}
	})
}

func TestRunStateReady(t *testing.T) {
	plan := buildPlan(t,
		tokenDeploy("token"),
		Declaration{Name: "xfer", Kind: Call, Target: Ref("token"), Function: "transfer", Args: []any{addrB, 1}},
	)
	token, _ := plan.Future("token")
	xfer, _ := plan.Future("xfer")

	rs := newRunState(plan)
	if !rs.ready(token) {
		t.Error("Future without dependencies should be ready")
	}
	if rs.ready(xfer) {
		t.Error("Future should not be ready before its dependency is Confirmed")
	}
	rs.submitted(token, common.HexToHash("0x1"))
	if rs.ready(xfer) {
		t.Error("Submitted dependency should not make the future ready")
	}
	rs.confirm(token, AddressValue(addrA))
	if !rs.ready(xfer) {
		t.Error("Future should be ready once its dependency is Confirmed")
	}
}

func TestRunStateSubstitute(t *testing.T) {
	plan := buildPlan(t,
		Declaration{Name: "reserves", Kind: StaticCall, Contract: "TetherToken", Target: addrA, Function: "getReserves"},
		Declaration{Name: "xfer", Kind: Call, Contract: "TetherToken", Target: addrA, Function: "transfer", Args: []any{addrB, RefField("reserves", "reserve1")}},
	)
	reserves, _ := plan.Future("reserves")
	xfer, _ := plan.Future("xfer")
	rs := newRunState(plan)

	t.Run("literal", func(t *testing.T) {
		v, err := rs.substitute(Lit(5))
		if err != nil || v != 5 {
			t.Errorf("Expected 5, got %v (%v)", v, err)
		}
	})

	t.Run("unresolved reference", func(t *testing.T) {
		_, err := rs.substitute(xfer.Args()[1])
		if !errors.Is(err, ErrNotYetResolved) {
			t.Errorf("Expected ErrNotYetResolved, got %v", err)
		}
	})

	r0, _ := ScalarValue(big.NewInt(10))
	r1, _ := ScalarValue(big.NewInt(20))
	rs.confirm(reserves, StructValue(Field{Name: "reserve0", Value: r0}, Field{Name: "reserve1", Value: r1}))

	t.Run("field reference", func(t *testing.T) {
		v, err := rs.substitute(xfer.Args()[1])
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if !v.(ResolvedValue).Equal(r1) {
			t.Errorf("Expected reserve1 = 20, got %v", v)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		ref := &Reference{Name: "reserves", Field: "reserve9", future: reserves}
		if _, err := rs.substitute(ref); !errors.Is(err, ErrUnknownReference) {
			t.Errorf("Expected ErrUnknownReference, got %v", err)
		}
	})

	t.Run("unbound parameter", func(t *testing.T) {
		if _, err := rs.substitute(Param("x")); !errors.Is(err, ErrUnknownParameter) {
			t.Errorf("Expected ErrUnknownParameter, got %v", err)
		}
	})
}

func TestStateText(t *testing.T) {
	for _, s := range []State{Pending, Submitted, Confirmed, Failed, Unknown} {
		text, _ := s.MarshalText()
		var parsed State
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", text, err)
		}
		if parsed != s {
			t.Errorf("Expected %s, got %s", s, parsed)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("done")); err == nil {
		t.Error("Expected error for unknown state")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
		ok   bool
	}{
		{"deploy", Deploy, true},
		{"call", Call, true},
		{"static_call", StaticCall, true},
		{"staticCall", StaticCall, true},
		{"transfer", 0, false},
	}
	for _, tt := range tests {
		kind, ok := ParseKind(tt.in)
		if ok != tt.ok || kind != tt.kind {
			t.Errorf("ParseKind(%q): expected %s/%v, got %s/%v", tt.in, tt.kind, tt.ok, kind, ok)
		}
	}
	if Kind(9).String() != "Kind(9)" {
		t.Errorf("Expected Kind(9), got %s", Kind(9))
	}
}
