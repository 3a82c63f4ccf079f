// internal/model/contact.go
package model

import "strings"

type Contact struct {
	ID         int    `db:"id" json:"id"`
	Email      string `db:"email" json:"email"`
	FirstName  string `db:"first_name" json:"first_name"`
	LastName   string `db:"last_name" json:"last_name"`
	Company    string `db:"company" json:"company"`
	Subscribed bool   `db:"subscribed" json:"subscribed"`
	IsInvalid  bool   `db:"is_invalid" json:"is_invalid"`
}

func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}
