package s3

import (
	"strings"
	"testing"
	"time"
)

func TestParseSheet(t *testing.T) {
	sheet := strings.Join([]string{
		"id,name,cardId,balance,phoneNumber,createdAt",
		"1,Alice Carter,CARD001,100,+1 555 0001,2024-01-01T00:00:00Z",
		"2,Bob Drake,CARD002,42.5,+1 555 0002,2024-02-01T00:00:00Z",
	}, "\n")

	users, err := parseSheet(strings.NewReader(sheet))
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users", len(users))
	}
	if users[0].Name != "Alice Carter" || users[0].Balance != 100 {
		t.Fatalf("first user = %+v", users[0])
	}
	if users[1].Balance != 42.5 {
		t.Fatalf("second balance = %v", users[1].Balance)
	}
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !users[1].CreatedAt.Equal(want) {
		t.Fatalf("createdAt = %v", users[1].CreatedAt)
	}
}

func TestParseSheetEmpty(t *testing.T) {
	users, err := parseSheet(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Fatalf("got %d users", len(users))
	}
}

func TestParseSheetBadBalance(t *testing.T) {
	sheet := "id,name,cardId,balance,phoneNumber,createdAt\n1,Alice,CARD001,lots,,2024-01-01T00:00:00Z"
	if _, err := parseSheet(strings.NewReader(sheet)); err == nil {
		t.Fatal("expected parse error")
	}
}
