package entity

import "time"

type User struct {
	ID        string    `json:"id" firestore:"id"`
	Username  string    `json:"username" firestore:"username"`
	Email     string    `json:"email" firestore:"email"`
	Role      string    `json:"role" firestore:"role"` // "producer", "reseller", "buyer", "admin"
	Phone     string    `json:"phone,omitempty" firestore:"phone,omitempty"`
	Location  string    `json:"location,omitempty" firestore:"location,omitempty"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}
