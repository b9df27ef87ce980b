package ledger

import (
	"errors"
	"strings"
	"testing"
)

func TestIdentifierConstructors(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name      string
		construct func(string) (string, error)
		input     string
		want      string
		wantErr   error
	}{
		{
			name:      "user id trims whitespace",
			construct: func(raw string) (string, error) { value, err := NewUserID(raw); return value.String(), err },
			input:     "  user-1  ",
			want:      "user-1",
		},
		{
			name:      "user id rejects blank",
			construct: func(raw string) (string, error) { value, err := NewUserID(raw); return value.String(), err },
			input:     "   ",
			wantErr:   ErrInvalidUserID,
		},
		{
			name:      "game id rejects overlong values",
			construct: func(raw string) (string, error) { value, err := NewGameID(raw); return value.String(), err },
			input:     strings.Repeat("g", maxIdentifierLength+1),
			wantErr:   ErrInvalidGameID,
		},
		{
			name:      "provider id is lower cased",
			construct: func(raw string) (string, error) { value, err := NewProviderID(raw); return value.String(), err },
			input:     "Acme",
			want:      "acme",
		},
		{
			name:      "provider id rejects the reference delimiter",
			construct: func(raw string) (string, error) { value, err := NewProviderID(raw); return value.String(), err },
			input:     "acme:eu",
			wantErr:   ErrInvalidProviderID,
		},
		{
			name:      "reference admits the longest provider reference",
			construct: func(raw string) (string, error) { value, err := NewReference(raw); return value.String(), err },
			input:     strings.Repeat("p", maxIdentifierLength) + ":" + strings.Repeat("t", maxIdentifierLength),
			want:      strings.Repeat("p", maxIdentifierLength) + ":" + strings.Repeat("t", maxIdentifierLength),
		},
		{
			name:      "reference rejects overlong values",
			construct: func(raw string) (string, error) { value, err := NewReference(raw); return value.String(), err },
			input:     strings.Repeat("r", maxReferenceLength+1),
			wantErr:   ErrInvalidReference,
		},
		{
			name:      "transaction id rejects blank",
			construct: func(raw string) (string, error) { value, err := NewTransactionID(raw); return value.String(), err },
			input:     "",
			wantErr:   ErrInvalidTransactionID,
		},
		{
			name:      "round id keeps case",
			construct: func(raw string) (string, error) { value, err := NewRoundID(raw); return value.String(), err },
			input:     "R1",
			want:      "R1",
		},
		{
			name:      "currency is upper cased",
			construct: func(raw string) (string, error) { value, err := NewCurrency(raw); return value.String(), err },
			input:     " usd ",
			want:      "USD",
		},
		{
			name:      "currency rejects punctuation",
			construct: func(raw string) (string, error) { value, err := NewCurrency(raw); return value.String(), err },
			input:     "US$",
			wantErr:   ErrInvalidCurrency,
		},
		{
			name:      "reference rejects blank",
			construct: func(raw string) (string, error) { value, err := NewReference(raw); return value.String(), err },
			input:     " ",
			wantErr:   ErrInvalidReference,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			got, err := testCase.construct(testCase.input)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				test.Fatalf(errorMismatchMessage, testCase.want, got)
			}
		})
	}
}

func TestAmountConstructors(test *testing.T) {
	test.Parallel()

	if _, err := NewAmountCents(-1); !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf(errorMismatchMessage, ErrInvalidAmountCents, err)
	}
	if amount, err := NewAmountCents(0); err != nil || !amount.IsZero() {
		test.Fatalf("expected zero amount, got %v (%v)", amount, err)
	}
	if _, err := NewPositiveAmountCents(0); !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf(errorMismatchMessage, ErrInvalidAmountCents, err)
	}
	if _, err := NewEntryAmountCents(0); !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf(errorMismatchMessage, ErrInvalidAmountCents, err)
	}

	positive := mustPositive(test, 250)
	if got := positive.ToEntryAmountCents().Negated(); got != -250 {
		test.Fatalf(errorMismatchMessage, -250, got)
	}
	if got := EntryAmountCents(-250).Abs(); got != positive {
		test.Fatalf(errorMismatchMessage, positive, got)
	}
}

func TestDetailJSON(test *testing.T) {
	test.Parallel()

	empty, err := NewDetailJSON("  ")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if empty.String() != emptyDetailJSON {
		test.Fatalf(errorMismatchMessage, emptyDetailJSON, empty.String())
	}
	if (DetailJSON{}).String() != emptyDetailJSON {
		test.Fatalf("zero detail should render as an empty object")
	}
	if _, err := NewDetailJSON("{not json"); !errors.Is(err, ErrInvalidDetailJSON) {
		test.Fatalf(errorMismatchMessage, ErrInvalidDetailJSON, err)
	}
}

func TestParseEnumerations(test *testing.T) {
	test.Parallel()

	if kind, err := ParseEntryKind("reward_vip"); err != nil || !kind.IsReward() {
		test.Fatalf("expected reward kind, got %q (%v)", kind, err)
	}
	if EntryBet.IsReward() {
		test.Fatalf("bet must not be a reward kind")
	}
	if _, err := ParseEntryKind("jackpot"); !errors.Is(err, ErrInvalidEntryKind) {
		test.Fatalf(errorMismatchMessage, ErrInvalidEntryKind, err)
	}
	if _, err := ParseOrderStatus("settled"); !errors.Is(err, ErrInvalidOrderStatus) {
		test.Fatalf(errorMismatchMessage, ErrInvalidOrderStatus, err)
	}
	if direction, err := ParseDirection(" DEBIT "); err != nil || direction != DirectionDebit {
		test.Fatalf(errorMismatchMessage, DirectionDebit, direction)
	}
	if _, err := ParseBucket("pending"); !errors.Is(err, ErrInvalidBucket) {
		test.Fatalf(errorMismatchMessage, ErrInvalidBucket, err)
	}
}

func TestOrderStatusTransitions(test *testing.T) {
	test.Parallel()

	statuses := []OrderStatus{OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed}
	for _, from := range statuses {
		for _, to := range statuses {
			want := from == OrderStatusPending && to != OrderStatusPending
			if got := from.CanTransitionTo(to); got != want {
				test.Fatalf("%s -> %s: "+errorMismatchMessage, from, to, want, got)
			}
		}
		if from.IsTerminal() == (from == OrderStatusPending) {
			test.Fatalf("%s: unexpected terminal flag", from)
		}
	}
}

func TestProviderReference(test *testing.T) {
	test.Parallel()

	reference := ProviderReference(mustProviderID(test, "acme"), mustTransactionID(test, "t1"))
	if reference.String() != "acme:t1" {
		test.Fatalf(errorMismatchMessage, "acme:t1", reference.String())
	}
}
