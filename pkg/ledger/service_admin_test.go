package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestUpdateCreditScore(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	admin := mustIdentity(test, fixtureAdmin)
	alice := mustIdentity(test, "alice")

	account, err := fixture.service.UpdateCreditScore(context.Background(), admin, alice, 720)
	if err != nil {
		test.Fatalf("update credit score failed: %v", err)
	}
	if account.CreditScore != 720 || account.Active {
		test.Fatalf("expected inactive account with score 720, got %+v", account)
	}
	for _, score := range []int64{299, 851} {
		if _, err := fixture.service.UpdateCreditScore(context.Background(), admin, alice, score); !errors.Is(err, ErrCreditScoreOutOfRange) {
			test.Fatalf("score %d: expected ErrCreditScoreOutOfRange, got %v", score, err)
		}
	}
	for _, score := range []int64{300, 850} {
		if _, err := fixture.service.UpdateCreditScore(context.Background(), admin, alice, score); err != nil {
			test.Fatalf("score %d: boundary rejected: %v", score, err)
		}
	}
	if _, err := fixture.service.UpdateCreditScore(context.Background(), alice, alice, 800); !errors.Is(err, ErrUnauthorized) {
		test.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	stored, err := fixture.service.Account(context.Background(), alice)
	if err != nil || stored.CreditScore != 850 {
		test.Fatalf("expected stored score 850, got %+v %v", stored, err)
	}
}

func TestSuspendResumeTransitions(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	pauser := mustIdentity(test, fixturePauser)
	admin := mustIdentity(test, fixtureAdmin)

	if err := fixture.service.Resume(context.Background(), pauser); !errors.Is(err, ErrSystemNotSuspended) {
		test.Fatalf("expected ErrSystemNotSuspended, got %v", err)
	}
	if err := fixture.service.Suspend(context.Background(), admin); !errors.Is(err, ErrUnauthorized) {
		test.Fatalf("expected ErrUnauthorized for non-pauser, got %v", err)
	}
	if err := fixture.service.Suspend(context.Background(), pauser); err != nil {
		test.Fatalf("suspend failed: %v", err)
	}
	if err := fixture.service.Suspend(context.Background(), pauser); !errors.Is(err, ErrSystemSuspended) {
		test.Fatalf("expected ErrSystemSuspended, got %v", err)
	}
	runState, err := fixture.service.RunState(context.Background())
	if err != nil || runState != RunStateSuspended {
		test.Fatalf("expected suspended, got %s %v", runState, err)
	}
	if err := fixture.service.Resume(context.Background(), pauser); err != nil {
		test.Fatalf("resume failed: %v", err)
	}
	runState, err = fixture.service.RunState(context.Background())
	if err != nil || runState != RunStateRunning {
		test.Fatalf("expected running, got %s %v", runState, err)
	}
}

func TestFundReserve(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	treasurer := mustIdentity(test, fixtureTreasurer)

	state, err := fixture.service.FundReserve(context.Background(), treasurer, mustNative(test, "400"))
	if err != nil {
		test.Fatalf("fund reserve failed: %v", err)
	}
	if state.Holdings.Cmp(mustNative(test, "400")) != 0 || state.DepositCount != 0 {
		test.Fatalf("unexpected state %+v", state)
	}
	if _, err := fixture.service.FundReserve(context.Background(), treasurer, mustNative(test, "601")); !errors.Is(err, ErrCapacityExceeded) {
		test.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if _, err := fixture.service.FundReserve(context.Background(), treasurer, Amount{}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := fixture.service.FundReserve(context.Background(), mustIdentity(test, "alice"), mustNative(test, "1")); !errors.Is(err, ErrUnauthorized) {
		test.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
