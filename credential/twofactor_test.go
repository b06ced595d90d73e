package credential

import (
	"errors"
	"testing"
	"time"
)

func TestTwoFactorLifecycle(t *testing.T) {
	tf := TwoFactor{State: StateDisabled}

	pending, err := tf.BeginSetup("SECRET1")
	if err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	if pending.State != StatePendingSetup || pending.PendingSecret != "SECRET1" || pending.Revision != 1 {
		t.Fatalf("unexpected pending state: %+v", pending)
	}
	if tf.State != StateDisabled {
		t.Fatal("BeginSetup must not modify the receiver")
	}

	restarted, err := pending.BeginSetup("SECRET2")
	if err != nil || restarted.PendingSecret != "SECRET2" {
		t.Fatalf("restart setup: %+v %v", restarted, err)
	}

	enabled, err := restarted.Confirm([]string{"h1", "h2"})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !enabled.Enabled() || enabled.ActiveSecret != "SECRET2" || enabled.PendingSecret != "" || enabled.RemainingRecoveryCodes() != 2 {
		t.Fatalf("unexpected enabled state: %+v", enabled)
	}
	if err := enabled.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := enabled.BeginSetup("X"); !errors.Is(err, ErrTwoFactorEnabled) {
		t.Fatalf("BeginSetup while enabled: %v", err)
	}
	if _, err := enabled.Confirm(nil); !errors.Is(err, ErrTwoFactorEnabled) {
		t.Fatalf("Confirm while enabled: %v", err)
	}

	regenerated, err := enabled.ReplaceRecoveryCodes([]string{"h3"})
	if err != nil || regenerated.RemainingRecoveryCodes() != 1 || regenerated.ActiveSecret != "SECRET2" {
		t.Fatalf("ReplaceRecoveryCodes: %+v %v", regenerated, err)
	}

	disabled, err := regenerated.Disable()
	if err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if disabled.State != StateDisabled || disabled.ActiveSecret != "" || len(disabled.RecoveryCodes) != 0 {
		t.Fatalf("unexpected disabled state: %+v", disabled)
	}
	if disabled.Revision != 5 {
		t.Fatalf("expected revision 5 after five transitions, got %d", disabled.Revision)
	}

	if _, err := disabled.BeginSetup("SECRET3"); err != nil {
		t.Fatalf("setup after disable: %v", err)
	}
}

func TestTwoFactorIllegalTransitions(t *testing.T) {
	disabled := TwoFactor{State: StateDisabled}
	if _, err := disabled.Confirm(nil); !errors.Is(err, ErrSetupNotStarted) {
		t.Fatalf("Confirm from disabled: %v", err)
	}
	if _, err := disabled.Disable(); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("Disable from disabled: %v", err)
	}
	if _, err := disabled.ReplaceRecoveryCodes(nil); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("ReplaceRecoveryCodes from disabled: %v", err)
	}

	pending := TwoFactor{State: StatePendingSetup, PendingSecret: "S"}
	if _, err := pending.Disable(); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("Disable from pending: %v", err)
	}
}

func TestTwoFactorValidate(t *testing.T) {
	bad := []TwoFactor{
		{State: StateDisabled, ActiveSecret: "S"},
		{State: StatePendingSetup},
		{State: StateEnabled, ActiveSecret: "S", PendingSecret: "P"},
		{State: "weird"},
	}
	for _, tf := range bad {
		if err := tf.Validate(); !errors.Is(err, ErrInconsistentState) {
			t.Fatalf("Validate(%+v): expected ErrInconsistentState, got %v", tf, err)
		}
	}
}

func TestRemainingRecoveryCodes(t *testing.T) {
	tf := TwoFactor{State: StateEnabled, ActiveSecret: "S", RecoveryCodes: []RecoveryCode{
		{Hash: "a"},
		{Hash: "b", UsedAt: time.Now()},
		{Hash: "c"},
	}}
	if tf.RemainingRecoveryCodes() != 2 {
		t.Fatalf("expected 2 remaining, got %d", tf.RemainingRecoveryCodes())
	}
}
