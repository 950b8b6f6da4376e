package domain

import "time"

// User is one row of the balance directory. CardID is unique across users;
// it may be empty for accounts provisioned before their first scan.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CardID      string    `json:"cardId"`
	Balance     float64   `json:"balance"`
	PhoneNumber string    `json:"phoneNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}
