// internal/model/recipient.go
package model

type Recipient struct {
	ID    string `db:"id" json:"id"`
	Phone string `db:"phone" json:"phone"`
	Name  string `db:"name" json:"name"`
}
