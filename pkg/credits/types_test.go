package credits

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewUserID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewUserID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestCreditCentsString(t *testing.T) {
	t.Parallel()
	cases := map[CreditCents]string{
		0:    "0.00",
		10:   "0.10",
		250:  "2.50",
		1000: "10.00",
		-35:  "-0.35",
	}
	for amount, want := range cases {
		if got := amount.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestCreditCentsFromCredits(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   float64
		want    CreditCents
		wantErr error
	}{
		{name: "tenth", input: 0.1, want: 10},
		{name: "three tenths", input: 0.3, want: 30},
		{name: "whole", input: 3, want: 300},
		{name: "rounds", input: 1.999, want: 200},
		{name: "nan", input: math.NaN(), wantErr: ErrInvalidAmount},
		{name: "infinite", input: math.Inf(1), wantErr: ErrInvalidAmount},
		{name: "int64 limit", input: float64(math.MaxInt64) / 100, wantErr: ErrInvalidAmount},
		{name: "beyond int64", input: 1e18, wantErr: ErrInvalidAmount},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := CreditCentsFromCredits(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("expected %d, got %d (%v)", tc.want, got, err)
			}
		})
	}
}

func TestCreditCentsArithmeticOverflow(t *testing.T) {
	t.Parallel()
	if product, ok := CreditCents(300).Times(4); !ok || product != 1200 {
		t.Fatalf("expected 1200, got %d (%t)", product, ok)
	}
	if product, ok := CreditCents(0).Times(math.MaxInt); !ok || product != 0 {
		t.Fatalf("expected a free activity to stay free, got %d (%t)", product, ok)
	}
	if _, ok := CreditCents(300).Times(math.MaxInt64/300 + 1); ok {
		t.Fatalf("expected the product to overflow")
	}
	if _, ok := CreditCents(300).Times(-1); ok {
		t.Fatalf("expected a negative quantity to be rejected")
	}
	if sum, ok := CreditCents(math.MaxInt64 - 1).Plus(1); !ok || sum != math.MaxInt64 {
		t.Fatalf("expected the largest amount, got %d (%t)", sum, ok)
	}
	if _, ok := CreditCents(math.MaxInt64).Plus(1); ok {
		t.Fatalf("expected the sum to overflow")
	}
}

func TestNewPositiveCreditCents(t *testing.T) {
	t.Parallel()
	if _, err := NewPositiveCreditCents(0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	value, err := NewPositiveCreditCents(100)
	if err != nil || value.Credits() != 1 {
		t.Fatalf("expected 1 credit, got %v (%v)", value.Credits(), err)
	}
}

func TestParseEnumerations(t *testing.T) {
	t.Parallel()
	if category, err := ParseActivityCategory(" lesson "); err != nil || category != CategoryLesson {
		t.Fatalf("unexpected category %q (%v)", category, err)
	}
	if _, err := ParseActivityCategory("sports"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if transactionType, err := ParseTransactionType("refund"); err != nil || transactionType != TransactionRefund {
		t.Fatalf("unexpected type %q (%v)", transactionType, err)
	}
	if _, err := ParseTransactionType("gift"); !errors.Is(err, ErrInvalidTransactionType) {
		t.Fatalf("expected ErrInvalidTransactionType, got %v", err)
	}
	if status, err := ParsePendingStatus("expired"); err != nil || status != PendingStatusExpired {
		t.Fatalf("unexpected status %q (%v)", status, err)
	}
	if _, err := ParsePendingStatus("confirmed"); !errors.Is(err, ErrInvalidPendingTransaction) {
		t.Fatalf("expected ErrInvalidPendingTransaction, got %v", err)
	}
}

func TestPendingTransactionExpiredAt(t *testing.T) {
	t.Parallel()
	createdAt := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	pending := PendingTransaction{CreatedAt: createdAt, ExpiresAt: createdAt.Add(defaultPendingTimeout)}
	if pending.ExpiredAt(createdAt.Add(29 * time.Second)) {
		t.Fatalf("expected live pending before the deadline")
	}
	if !pending.ExpiredAt(createdAt.Add(defaultPendingTimeout)) {
		t.Fatalf("expected expiry exactly at the deadline")
	}
}
