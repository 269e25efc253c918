package entity

import "time"

type Product struct {
	ID          string    `json:"id" firestore:"id"`
	SellerID    string    `json:"seller_id" firestore:"sellerId"`
	Name        string    `json:"name" firestore:"name"`
	Description string    `json:"description,omitempty" firestore:"description,omitempty"`
	Category    string    `json:"category" firestore:"category"`
	Price       float64   `json:"price" firestore:"price"`
	Unit        string    `json:"unit" firestore:"unit"` // "kg", "quintal", "dozen", "piece"
	Stock       int       `json:"stock" firestore:"stock"`
	Status      string    `json:"status" firestore:"status"` // "available", "sold_out", "archived"
	CreatedAt   time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt   time.Time `json:"updated_at" firestore:"updatedAt"`
}
