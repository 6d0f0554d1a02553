package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusRequiresPayment, StatusProcessing},
		{StatusRequiresPayment, StatusCanceled},
		{StatusRequiresPayment, StatusFailed},
		{StatusRequiresPayment, StatusExpired},
		{StatusProcessing, StatusSucceeded},
		{StatusProcessing, StatusFailed},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]Status{
		{StatusSucceeded, StatusProcessing},
		{StatusProcessing, StatusRequiresPayment},
		{StatusProcessing, StatusExpired},
		{StatusProcessing, StatusCanceled},
		{StatusExpired, StatusSucceeded},
		{StatusCanceled, StatusRequiresPayment},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}

	for _, terminal := range []Status{StatusSucceeded, StatusCanceled, StatusFailed, StatusExpired} {
		if !terminal.IsTerminal() {
			t.Fatalf("expected %s to be terminal", terminal)
		}
	}
}
