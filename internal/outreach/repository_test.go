package outreach

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestLockConflictMatchesPostgresAbortCodes(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40001", "40P01"} {
		err := fmt.Errorf("failed to expire sibling requests: %w", &pq.Error{Code: code})
		if !lockConflict(err) {
			t.Errorf("expected code %s to be treated as a lock conflict", code)
		}
	}
}

func TestLockConflictIgnoresOtherErrors(t *testing.T) {
	cases := []error{
		errors.New("connection reset"),
		&pq.Error{Code: "23505"},
		nil,
	}
	for _, err := range cases {
		if lockConflict(err) {
			t.Errorf("did not expect %v to be treated as a lock conflict", err)
		}
	}
}
