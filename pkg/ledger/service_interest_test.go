package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestCalculateInterest(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	alice := mustIdentity(test, "alice")

	interest, err := fixture.service.CalculateInterest(context.Background(), alice)
	if err != nil || !interest.IsZero() {
		test.Fatalf("expected zero interest for unknown identity, got %s %v", interest, err)
	}
	if _, err := fixture.service.Deposit(context.Background(), alice, mustNative(test, "365")); err != nil {
		test.Fatalf("deposit failed: %v", err)
	}

	fixture.advance(SecondsPerDay - 1)
	interest, err = fixture.service.CalculateInterest(context.Background(), alice)
	if err != nil || !interest.IsZero() {
		test.Fatalf("expected no interest before a full day, got %s %v", interest, err)
	}

	fixture.advance(9*SecondsPerDay + 1)
	interest, err = fixture.service.CalculateInterest(context.Background(), alice)
	if err != nil {
		test.Fatalf("calculate interest: %v", err)
	}
	if interest.String() != "500000000000000000" {
		test.Fatalf("expected 0.5 native after 10 days at 500 bps, got %s", interest)
	}
}

func TestCalculateInterestTruncates(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, WithMinDeposit(mustAmount(test, "1")))
	alice := mustIdentity(test, "alice")
	if _, err := fixture.service.Deposit(context.Background(), alice, mustAmount(test, "1000")); err != nil {
		test.Fatalf("deposit failed: %v", err)
	}
	fixture.advance(SecondsPerDay)
	interest, err := fixture.service.CalculateInterest(context.Background(), alice)
	if err != nil {
		test.Fatalf("calculate interest: %v", err)
	}
	if !interest.IsZero() {
		test.Fatalf("expected 1000*500*1/3650000 to truncate to 0, got %s", interest)
	}
}

func TestPayInterestIsIdempotentWithinWindow(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	alice := mustIdentity(test, "alice")
	if _, err := fixture.service.Deposit(context.Background(), alice, mustNative(test, "365")); err != nil {
		test.Fatalf("deposit failed: %v", err)
	}
	fixture.advance(10 * SecondsPerDay)

	paid, err := fixture.service.PayInterest(context.Background(), alice)
	if err != nil {
		test.Fatalf("pay interest failed: %v", err)
	}
	if paid.String() != "500000000000000000" {
		test.Fatalf("unexpected interest %s", paid)
	}
	count, err := fixture.service.TransactionCount(context.Background(), alice)
	if err != nil || count != 2 {
		test.Fatalf("expected deposit and interest transactions, got %d %v", count, err)
	}
	recorded, err := fixture.service.Transaction(context.Background(), alice, 1)
	if err != nil {
		test.Fatalf("transaction: %v", err)
	}
	if recorded.Kind() != TransactionInterestPayment || recorded.Metadata().String() != `{"days":"10","rate_bps":"500"}` {
		test.Fatalf("unexpected interest transaction kind=%s metadata=%s", recorded.Kind(), recorded.Metadata())
	}

	again, err := fixture.service.PayInterest(context.Background(), alice)
	if err != nil || !again.IsZero() {
		test.Fatalf("expected zero on second call, got %s %v", again, err)
	}
	count, err = fixture.service.TransactionCount(context.Background(), alice)
	if err != nil || count != 2 {
		test.Fatalf("expected log unchanged, got %d %v", count, err)
	}
	state, err := fixture.service.State(context.Background())
	if err != nil || state.Holdings.Cmp(mustAmount(test, "364500000000000000000")) != 0 {
		test.Fatalf("expected holdings reduced by interest, got %+v %v", state, err)
	}
	account, err := fixture.service.Account(context.Background(), alice)
	if err != nil || account.Balance.Cmp(mustNative(test, "365")) != 0 || account.LastDepositAt != fixtureStartUnix+10*SecondsPerDay {
		test.Fatalf("unexpected account after interest %+v %v", account, err)
	}
	if payouts := fixture.sink.recorded(); len(payouts) != 1 || payouts[0].Kind != TransactionInterestPayment {
		test.Fatalf("unexpected payouts %+v", payouts)
	}
}

func TestPayInterestRequiresLiquidity(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	alice := mustIdentity(test, "alice")
	if _, err := fixture.service.Deposit(context.Background(), alice, mustNative(test, "10")); err != nil {
		test.Fatalf("deposit failed: %v", err)
	}
	if _, err := fixture.service.Withdraw(context.Background(), alice, mustNative(test, "10")); err != nil {
		test.Fatalf("withdraw failed: %v", err)
	}
	fixture.advance(365 * SecondsPerDay)
	before := fixture.store.snapshot()

	if _, err := fixture.service.PayInterest(context.Background(), alice); !errors.Is(err, ErrInsufficientLiquidity) {
		test.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if after := fixture.store.snapshot(); after.accounts["alice"].LastDepositAt != before.accounts["alice"].LastDepositAt {
		test.Fatalf("accrual window moved after failed payout")
	}

	if _, err := fixture.service.FundReserve(context.Background(), mustIdentity(test, fixtureTreasurer), mustNative(test, "1")); err != nil {
		test.Fatalf("fund reserve failed: %v", err)
	}
	paid, err := fixture.service.PayInterest(context.Background(), alice)
	if err != nil {
		test.Fatalf("pay interest after funding failed: %v", err)
	}
	if paid.Cmp(mustNative(test, "0.5")) != 0 {
		test.Fatalf("expected 0.5 native, got %s", paid)
	}
}

func TestPayInterestRequiresRunningState(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	alice := mustIdentity(test, "alice")
	if _, err := fixture.service.Deposit(context.Background(), alice, mustNative(test, "10")); err != nil {
		test.Fatalf("deposit failed: %v", err)
	}
	fixture.advance(30 * SecondsPerDay)
	if err := fixture.service.Suspend(context.Background(), mustIdentity(test, fixturePauser)); err != nil {
		test.Fatalf("suspend failed: %v", err)
	}
	if _, err := fixture.service.PayInterest(context.Background(), alice); !errors.Is(err, ErrSystemSuspended) {
		test.Fatalf("expected ErrSystemSuspended, got %v", err)
	}
}
