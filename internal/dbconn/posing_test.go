package dbconn

import (
	"errors"
	"testing"

	"github.com/beatlink/djlink/internal/djerr"
)

func TestChoosePosingNumberUsesSelfWhenStandard(t *testing.T) {
	got, err := choosePosingNumber(2, 3, []byte{1, 4}, nil)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != 2 {
		t.Fatalf("got %d, want self (2)", got)
	}
}

func TestChoosePosingNumberUsesSelfForHighTargetEvenIfNotStandard(t *testing.T) {
	got, err := choosePosingNumber(9, 17, []byte{1, 4}, nil)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != 9 {
		t.Fatalf("got %d, want self (9)", got)
	}
}

func TestChoosePosingNumberBorrowsWhenSelfNotEligible(t *testing.T) {
	got, err := choosePosingNumber(9, 3, []byte{1, 4}, nil)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != 1 && got != 4 {
		t.Fatalf("got %d, want a borrowed candidate", got)
	}
}

func TestChoosePosingNumberSkipsCandidateSourcingFromTarget(t *testing.T) {
	got, err := choosePosingNumber(9, 3, []byte{1, 4}, map[byte]byte{1: 3})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != 4 {
		t.Fatalf("got %d, want 4 (1 is sourcing from target)", got)
	}
}

func TestChoosePosingNumberFailsWhenNoneQualify(t *testing.T) {
	_, err := choosePosingNumber(9, 3, []byte{1}, map[byte]byte{1: 3})
	if !errors.Is(err, djerr.ErrNoPosingNumber) {
		t.Fatalf("err = %v, want ErrNoPosingNumber", err)
	}
}

func TestChoosePosingNumberFailsWhenNoSelfAndNoCandidates(t *testing.T) {
	_, err := choosePosingNumber(0, 3, nil, nil)
	if !errors.Is(err, djerr.ErrNoPosingNumber) {
		t.Fatalf("err = %v, want ErrNoPosingNumber", err)
	}
}
