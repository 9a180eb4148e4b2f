package grpcserver

import (
	"errors"
	"math"
	"testing"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"google.golang.org/protobuf/types/known/structpb"
)

func numberRequest(value float64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"value": structpb.NewNumberValue(value)}}
}

func TestAmountFieldRejectsOutOfRangeNumbers(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name  string
		value float64
	}{
		{name: "two to the 63", value: math.Ldexp(1, 63)},
		{name: "beyond int64", value: 1e19},
		{name: "infinity", value: math.Inf(1)},
		{name: "negative infinity", value: math.Inf(-1)},
		{name: "negative", value: -1},
		{name: "fractional", value: 1.5},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := amountField(numberRequest(testCase.value), "value"); !errors.Is(err, ledger.ErrInvalidAmount) {
				test.Fatalf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
}

func TestAmountFieldAcceptsLargestExactNumber(test *testing.T) {
	test.Parallel()
	largest := math.Nextafter(math.Ldexp(1, 63), 0)
	amount, err := amountField(numberRequest(largest), "value")
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	if amount.String() != "9223372036854774784" {
		test.Fatalf("unexpected amount %s", amount)
	}
}

func TestInt64FieldRejectsOutOfRangeNumbers(test *testing.T) {
	test.Parallel()
	for _, value := range []float64{math.Ldexp(1, 63), -math.Ldexp(1, 63), math.Inf(1), 2.5} {
		if _, err := int64Field(numberRequest(value), "value"); err == nil {
			test.Fatalf("expected %v to be rejected", value)
		}
	}
	parsed, err := int64Field(numberRequest(700), "value")
	if err != nil || parsed != 700 {
		test.Fatalf("expected 700, got %d %v", parsed, err)
	}
}
