package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Product struct {
	ID          primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	Name        string             `json:"name" bson:"name"`
	Brand       string             `json:"brand" bson:"brand"`
	Price       float64            `json:"price" bson:"price"`
	PriceVND    int                `json:"priceVND" bson:"priceVND"`
	Image       string             `json:"image" bson:"image"`
	Description string             `json:"description" bson:"description"`
	Sizes       []float64          `json:"sizes" bson:"sizes"`
	InStock     bool               `json:"inStock" bson:"inStock"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
}

// HasSize reports whether the product is offered in the given size.
func (p *Product) HasSize(size float64) bool {
	for _, s := range p.Sizes {
		if s == size {
			return true
		}
	}
	return false
}
