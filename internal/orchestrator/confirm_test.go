package orchestrator

import (
	"context"
	"testing"
	"time"

	"weave/internal/errors"
)

func TestConfirmResolveRoundTrip(t *testing.T) {
	broker := NewConfirmBroker()
	confirmID := broker.Open()

	go broker.Resolve(confirmID, DecisionAllow)

	decision, err := broker.Await(context.Background(), confirmID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if decision != DecisionAllow {
		t.Fatalf("expected allow, got %s", decision)
	}
}

func TestResolveUnknownIDIsNoOp(t *testing.T) {
	broker := NewConfirmBroker()
	if broker.Resolve("confirm_ghost", DecisionAllow) {
		t.Fatalf("resolving an unknown id must report false")
	}
}

func TestResolveTwiceSecondIsRejected(t *testing.T) {
	broker := NewConfirmBroker()
	confirmID := broker.Open()

	if !broker.Resolve(confirmID, DecisionAllow) {
		t.Fatalf("first resolve must succeed")
	}
	if broker.Resolve(confirmID, DecisionDeny) {
		t.Fatalf("second resolve must report false")
	}

	decision, err := broker.Await(context.Background(), confirmID)
	if err != nil || decision != DecisionAllow {
		t.Fatalf("the first decision wins, got %s / %v", decision, err)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	broker := NewConfirmBroker()
	confirmID := broker.Open()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := broker.Await(ctx, confirmID)
	if errors.KindOf(err) != errors.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}
